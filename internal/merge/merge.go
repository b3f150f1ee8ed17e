// Package merge computes the cross-run failure history for one suite of
// one submission: which test cases eventually recovered after operator
// retries and which are persistently failing.
package merge

import (
	"sort"

	"github.com/google/uuid"

	"github.com/triagehub/compat-backend/internal/types"
)

// StatusNotExecuted fills history slots of runs that carry no record for a
// key. Because only non-pass cases and explicit recoveries are persisted,
// an empty slot means "no signal", never "passed".
const StatusNotExecuted = "not_executed"

// Item is the merged view of one test-case key across the suite's runs.
type Item struct {
	Key            types.TestCaseKey `json:"key"`
	InitialRunID   uuid.UUID         `json:"initial_run_id"`
	FinalRunID     uuid.UUID         `json:"final_run_id"`
	IsRecovered    bool              `json:"is_recovered"`
	StatusHistory  []string          `json:"status_history"`
	FailureDetails *types.TestCase   `json:"failure_details,omitempty"`
}

// Result is the per-suite rollup.
type Result struct {
	Initial    int    `json:"initial"`
	Recovered  int    `json:"recovered"`
	Remaining  int    `json:"remaining"`
	TotalTests int    `json:"total_tests"`
	Items      []Item `json:"items"`
}

// Merge aligns the persisted cases of the given runs by test-case key and
// classifies every key that ever failed. Runs must already be in ascending
// start_time order (ties by id), as ListBySubmission returns them.
func Merge(runs []*types.TestRun, cases []*types.TestCase) Result {
	res := Result{}
	if len(runs) == 0 {
		return res
	}

	runIdx := make(map[uuid.UUID]int, len(runs))
	for i, r := range runs {
		runIdx[r.ID] = i
		if total := r.PassedTests + r.FailedTests; total > res.TotalTests {
			// Individual retries may re-execute only a subset of modules;
			// the largest single run is the best available denominator.
			res.TotalTests = total
		}
	}

	type perKey struct {
		history  []string
		failures []*types.TestCase
	}
	byKey := make(map[types.TestCaseKey]*perKey)
	for _, c := range cases {
		i, ok := runIdx[c.TestRunID]
		if !ok {
			continue
		}
		k := c.Key()
		rec := byKey[k]
		if rec == nil {
			rec = &perKey{
				history:  make([]string, len(runs)),
				failures: make([]*types.TestCase, len(runs)),
			}
			for j := range rec.history {
				rec.history[j] = StatusNotExecuted
			}
			byKey[k] = rec
		}
		rec.history[i] = c.Status
		if c.Status == types.TestCaseStatusFail {
			rec.failures[i] = c
		}
	}

	keys := make([]types.TestCaseKey, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a].String() < keys[b].String() })

	for _, k := range keys {
		rec := byKey[k]
		everFailed := false
		everPassed := false
		firstSeen, lastSeen := -1, -1
		for i, st := range rec.history {
			if st == StatusNotExecuted {
				continue
			}
			if firstSeen < 0 {
				firstSeen = i
			}
			lastSeen = i
			switch st {
			case types.TestCaseStatusFail:
				everFailed = true
			case types.TestCaseStatusPass:
				everPassed = true
			}
		}
		if !everFailed {
			// A key with only explicit-pass or ignored records carries no
			// triage signal.
			continue
		}

		isInitialFail := rec.history[0] == types.TestCaseStatusFail
		isRecovered := isInitialFail && everPassed

		if isInitialFail {
			res.Initial++
		}
		if isRecovered {
			res.Recovered++
		}
		if (isInitialFail && !isRecovered) || !isInitialFail {
			// Late-appearing regressions count as remaining too.
			res.Remaining++
		}

		var representative *types.TestCase
		for i := len(runs) - 1; i >= 0; i-- {
			if rec.failures[i] != nil {
				representative = rec.failures[i]
				break
			}
		}

		res.Items = append(res.Items, Item{
			Key:            k,
			InitialRunID:   runs[firstSeen].ID,
			FinalRunID:     runs[lastSeen].ID,
			IsRecovered:    isRecovered,
			StatusHistory:  rec.history,
			FailureDetails: representative,
		})
	}
	return res
}
