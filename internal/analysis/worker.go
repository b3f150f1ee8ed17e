package analysis

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/repos"
	"github.com/triagehub/compat-backend/internal/types"
	"github.com/triagehub/compat-backend/internal/utils"
)

// Worker claims queued analysis jobs and runs them. Claiming is atomic in
// the store, so multiple instances can run the same loop.
type Worker struct {
	db      *gorm.DB
	log     *logger.Logger
	jobRepo repos.AnalysisJobRepo
	svc     *Service

	pollInterval time.Duration
	maxAttempts  int
	retryDelay   time.Duration
	staleRunning time.Duration
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, jobRepo repos.AnalysisJobRepo, svc *Service) *Worker {
	return &Worker{
		db:           db,
		log:          baseLog.With("component", "AnalysisWorker"),
		jobRepo:      jobRepo,
		svc:          svc,
		pollInterval: time.Duration(utils.GetEnvAsInt("ANALYSIS_POLL_INTERVAL_SECONDS", 2)) * time.Second,
		maxAttempts:  utils.GetEnvAsInt("ANALYSIS_MAX_ATTEMPTS", 3),
		retryDelay:   time.Duration(utils.GetEnvAsInt("ANALYSIS_RETRY_DELAY_SECONDS", 60)) * time.Second,
		staleRunning: time.Duration(utils.GetEnvAsInt("ANALYSIS_STALE_RUNNING_SECONDS", 300)) * time.Second,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job, err := w.jobRepo.ClaimNextRunnable(ctx, w.db, w.maxAttempts, w.retryDelay, w.staleRunning)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if job == nil {
					continue
				}
				w.run(ctx, job)
			}
		}
	}()
}

func (w *Worker) run(ctx context.Context, job *types.AnalysisJob) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, job)
	defer stopHeartbeat()

	var execErr error
	// A panicking handler must not take the worker loop down.
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Analysis job panic", "job_id", job.ID, "panic", r)
				execErr = fmt.Errorf("panic: %v", r)
			}
		}()
		execErr = w.svc.Execute(ctx, job)
	}()

	now := time.Now().UTC()
	if execErr == nil {
		if err := w.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
			"status":      types.AnalysisJobStatusCompleted,
			"finished_at": now,
			"last_error":  "",
		}); err != nil {
			w.log.Error("Failed to mark job completed", "job_id", job.ID, "error", err)
		}
		return
	}

	w.log.Warn("Analysis job failed", "job_id", job.ID, "attempt", job.Attempts, "error", execErr)
	updates := map[string]interface{}{
		"last_error": execErr.Error(),
	}
	if job.Attempts >= w.maxAttempts {
		updates["status"] = types.AnalysisJobStatusFailed
		updates["finished_at"] = now
		w.svc.MarkFailed(ctx, job, execErr)
	} else {
		// Back to the queue; run_after was already pushed out at claim time.
		updates["status"] = types.AnalysisJobStatusQueued
	}
	if err := w.jobRepo.UpdateFields(ctx, nil, job.ID, updates); err != nil {
		w.log.Error("Failed to record job failure", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) heartbeat(ctx context.Context, job *types.AnalysisJob) {
	ticker := time.NewTicker(w.staleRunning / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.jobRepo.Heartbeat(ctx, nil, job.ID); err != nil {
				w.log.Warn("Job heartbeat failed", "job_id", job.ID, "error", err)
			}
		}
	}
}
