package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/triagehub/compat-backend/internal/logger"
)

// Cache keeps composed reports in Redis until the next ingest touches the
// submission. A nil client degrades to recompute-always.
type Cache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewCache(log *logger.Logger, rdb *goredis.Client, ttl time.Duration) *Cache {
	return &Cache{
		log: log.With("component", "ReportCache"),
		rdb: rdb,
		ttl: ttl,
	}
}

func cacheKey(submissionID uuid.UUID) string {
	return "report:" + submissionID.String()
}

func (c *Cache) Get(ctx context.Context, submissionID uuid.UUID) (*Report, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey(submissionID)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("Report cache read failed", "submission_id", submissionID, "error", err)
		}
		return nil, false
	}
	var rep Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		c.log.Warn("Report cache entry corrupt, dropping", "submission_id", submissionID, "error", err)
		_ = c.rdb.Del(ctx, cacheKey(submissionID)).Err()
		return nil, false
	}
	return &rep, true
}

func (c *Cache) Set(ctx context.Context, rep *Report) {
	if c == nil || c.rdb == nil || rep == nil {
		return
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		c.log.Warn("Report cache marshal failed", "submission_id", rep.SubmissionID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(rep.SubmissionID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("Report cache write failed", "submission_id", rep.SubmissionID, "error", err)
	}
}

// Invalidate is called by ingestion whenever a run is attached and by
// submission deletion.
func (c *Cache) Invalidate(ctx context.Context, submissionID uuid.UUID) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, cacheKey(submissionID)).Err(); err != nil {
		c.log.Warn("Report cache invalidation failed", "submission_id", submissionID, "error", err)
	}
}
