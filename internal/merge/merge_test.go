package merge

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/triagehub/compat-backend/internal/types"
)

func run(id byte, passed, failed int) *types.TestRun {
	return &types.TestRun{
		ID:          uuid.UUID{id},
		StartTime:   time.Date(2024, 3, 1, int(id), 0, 0, 0, time.UTC),
		PassedTests: passed,
		FailedTests: failed,
	}
}

func key(n string) types.TestCaseKey {
	return types.TestCaseKey{ModuleName: "CtsSampleTestCases", ModuleABI: "arm64-v8a", ClassName: "SampleTest", MethodName: n}
}

func tc(r *types.TestRun, k types.TestCaseKey, status string) *types.TestCase {
	return &types.TestCase{
		ID:         uuid.New(),
		TestRunID:  r.ID,
		ModuleName: k.ModuleName,
		ModuleABI:  k.ModuleABI,
		ClassName:  k.ClassName,
		MethodName: k.MethodName,
		Status:     status,
	}
}

func itemFor(t *testing.T, res Result, k types.TestCaseKey) Item {
	t.Helper()
	for _, it := range res.Items {
		if it.Key == k {
			return it
		}
	}
	t.Fatalf("no item for key %s", k)
	return Item{}
}

// Scenario: R1 fails k1,k2,k3; R2 passes k2 (explicit recovery), fails k3,
// and never re-executes k1.
func TestMerge_Recovery(t *testing.T) {
	r1, r2 := run(1, 90, 3), run(2, 95, 1)
	runs := []*types.TestRun{r1, r2}
	k1, k2, k3 := key("k1"), key("k2"), key("k3")
	cases := []*types.TestCase{
		tc(r1, k1, types.TestCaseStatusFail),
		tc(r1, k2, types.TestCaseStatusFail),
		tc(r1, k3, types.TestCaseStatusFail),
		tc(r2, k2, types.TestCaseStatusPass),
		tc(r2, k3, types.TestCaseStatusFail),
	}

	res := Merge(runs, cases)
	if res.Initial != 3 || res.Recovered != 1 || res.Remaining != 2 {
		t.Fatalf("totals = %d/%d/%d, want 3/1/2", res.Initial, res.Recovered, res.Remaining)
	}
	if len(res.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(res.Items))
	}

	if it := itemFor(t, res, k1); it.IsRecovered {
		t.Error("k1: no pass observed, must stay remaining")
	} else if it.StatusHistory[1] != StatusNotExecuted {
		t.Errorf("k1 history[1] = %q, want %q", it.StatusHistory[1], StatusNotExecuted)
	}
	if it := itemFor(t, res, k2); !it.IsRecovered {
		t.Error("k2: explicit pass must recover")
	}
	it3 := itemFor(t, res, k3)
	if it3.IsRecovered {
		t.Error("k3: still failing")
	}
	if it3.FailureDetails == nil || it3.FailureDetails.TestRunID != r2.ID {
		t.Error("k3: representative failure must come from the latest failing run")
	}
	if it3.InitialRunID != r1.ID || it3.FinalRunID != r2.ID {
		t.Errorf("k3 run span = %s..%s", it3.InitialRunID, it3.FinalRunID)
	}
}

// Scenario: a key that only starts failing in a later run counts as
// remaining, not initial.
func TestMerge_LateRegression(t *testing.T) {
	r1, r2 := run(1, 100, 0), run(2, 99, 1)
	k1 := key("k1")
	res := Merge([]*types.TestRun{r1, r2}, []*types.TestCase{tc(r2, k1, types.TestCaseStatusFail)})
	if res.Initial != 0 || res.Recovered != 0 || res.Remaining != 1 {
		t.Fatalf("totals = %d/%d/%d, want 0/0/1", res.Initial, res.Recovered, res.Remaining)
	}
	it := itemFor(t, res, k1)
	if it.IsRecovered {
		t.Error("late regression must not be recovered")
	}
	if it.StatusHistory[0] != StatusNotExecuted {
		t.Errorf("history[0] = %q, want %q", it.StatusHistory[0], StatusNotExecuted)
	}
}

func TestMerge_GapThenPassRecovers(t *testing.T) {
	r1, r2, r3 := run(1, 10, 1), run(2, 10, 0), run(3, 11, 0)
	k1 := key("k1")
	cases := []*types.TestCase{
		tc(r1, k1, types.TestCaseStatusFail),
		tc(r3, k1, types.TestCaseStatusPass),
	}
	res := Merge([]*types.TestRun{r1, r2, r3}, cases)
	if res.Initial != 1 || res.Recovered != 1 || res.Remaining != 0 {
		t.Fatalf("totals = %d/%d/%d, want 1/1/0", res.Initial, res.Recovered, res.Remaining)
	}
}

func TestMerge_NeverReexecutedStaysRemaining(t *testing.T) {
	r1, r2, r3 := run(1, 10, 1), run(2, 10, 0), run(3, 10, 0)
	k1 := key("k1")
	res := Merge([]*types.TestRun{r1, r2, r3}, []*types.TestCase{tc(r1, k1, types.TestCaseStatusFail)})
	if res.Initial != 1 || res.Recovered != 0 || res.Remaining != 1 {
		t.Fatalf("totals = %d/%d/%d, want 1/0/1", res.Initial, res.Recovered, res.Remaining)
	}
}

func TestMerge_PureExplicitPassKeyNotEmitted(t *testing.T) {
	r1, r2 := run(1, 10, 1), run(2, 10, 0)
	// A pass record can land in a suite where the key never failed (the
	// failure happened in another suite of the same submission).
	res := Merge([]*types.TestRun{r1, r2}, []*types.TestCase{tc(r2, key("other"), types.TestCaseStatusPass)})
	if len(res.Items) != 0 {
		t.Fatalf("items = %d, want 0", len(res.Items))
	}
	if res.Initial != 0 || res.Remaining != 0 {
		t.Fatalf("unexpected totals %d/%d", res.Initial, res.Remaining)
	}
}

func TestMerge_TotalTestsIsMaxOfRuns(t *testing.T) {
	r1, r2 := run(1, 500, 20), run(2, 30, 2)
	res := Merge([]*types.TestRun{r1, r2}, nil)
	if res.TotalTests != 520 {
		t.Fatalf("total = %d, want 520", res.TotalTests)
	}
}

func TestMerge_EmptyRuns(t *testing.T) {
	res := Merge(nil, nil)
	if res.TotalTests != 0 || len(res.Items) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

// Re-running the merge on the same inputs must produce identical keys and
// recovery flags.
func TestMerge_Deterministic(t *testing.T) {
	r1, r2 := run(1, 10, 3), run(2, 12, 1)
	cases := []*types.TestCase{
		tc(r1, key("a"), types.TestCaseStatusFail),
		tc(r1, key("b"), types.TestCaseStatusFail),
		tc(r2, key("a"), types.TestCaseStatusPass),
		tc(r2, key("c"), types.TestCaseStatusFail),
	}
	first := Merge([]*types.TestRun{r1, r2}, cases)
	for i := 0; i < 5; i++ {
		again := Merge([]*types.TestRun{r1, r2}, cases)
		if len(again.Items) != len(first.Items) {
			t.Fatalf("item count changed: %d vs %d", len(again.Items), len(first.Items))
		}
		for j := range again.Items {
			if again.Items[j].Key != first.Items[j].Key || again.Items[j].IsRecovered != first.Items[j].IsRecovered {
				t.Fatalf("item %d changed between runs", j)
			}
		}
	}
}
