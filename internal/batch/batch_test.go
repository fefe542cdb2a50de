package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mohammad-safakhou/refetch/internal/orchestrate"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJobsLineFormat(t *testing.T) {
	path := writeFile(t, `
# nightly targets
https://example.com/pricing | current pricing table
https://example.com/blog

# trailing comment
`)
	jobs, err := LoadJobs(path)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].Target != "https://example.com/pricing" || jobs[0].Intent.Goal != "current pricing table" {
		t.Errorf("job 0 parsed wrong: %+v", jobs[0])
	}
	if jobs[1].Intent.Goal != "" {
		t.Errorf("job 1 should have empty goal, got %q", jobs[1].Intent.Goal)
	}
}

func TestLoadJobsJSONFormat(t *testing.T) {
	path := writeFile(t, `[
  {"target": "https://example.com", "intent": {"goal": "landing page", "must_contain": ["example"]}}
]`)
	jobs, err := LoadJobs(path)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if len(jobs[0].Intent.MustContain) != 1 {
		t.Errorf("must_contain not parsed: %+v", jobs[0].Intent)
	}
}

func TestLoadJobsEmptyFile(t *testing.T) {
	path := writeFile(t, "\n# only comments\n")
	if _, err := LoadJobs(path); err == nil {
		t.Fatal("expected error for file without jobs")
	}
}

type fakeRunner struct {
	states []orchestrate.State
	calls  int
}

func (f *fakeRunner) Run(_ context.Context, req orchestrate.Request) (orchestrate.RunResult, error) {
	if req.Target == "bad target" {
		f.calls++
		return orchestrate.RunResult{}, errors.New("invalid target")
	}
	res := orchestrate.RunResult{State: f.states[f.calls]}
	f.calls++
	return res, nil
}

func TestRunContinuesPastFailures(t *testing.T) {
	r := &fakeRunner{states: []orchestrate.State{orchestrate.StateExhausted, orchestrate.StateSatisfied, orchestrate.StateSatisfied}}
	jobs := []Job{
		{Target: "https://a.example.com"},
		{Target: "bad target"},
		{Target: "https://b.example.com"},
	}
	outcomes := Run(context.Background(), r, jobs)
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	if outcomes[1].Err == nil {
		t.Error("rejected job should carry its error")
	}
	if outcomes[2].Err != nil {
		t.Error("batch must continue after a rejected job")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRunner{states: []orchestrate.State{orchestrate.StateSatisfied}}
	outcomes := Run(ctx, r, []Job{{Target: "https://example.com"}})
	if len(outcomes) != 0 {
		t.Fatalf("outcomes = %d, want 0 after cancellation", len(outcomes))
	}
}
