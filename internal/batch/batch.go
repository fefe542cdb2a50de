// Package batch runs a file of retrieval jobs sequentially through the
// orchestrator. Job files are either a JSON array of requests or a plain
// text list of targets, one per line, with # comments.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mohammad-safakhou/refetch/internal/judge"
	"github.com/mohammad-safakhou/refetch/internal/orchestrate"
)

// Runner is the slice of the orchestrator the batch loop needs.
type Runner interface {
	Run(ctx context.Context, req orchestrate.Request) (orchestrate.RunResult, error)
}

// Job is one entry of a batch file.
type Job struct {
	Target string       `json:"target"`
	Intent judge.Intent `json:"intent"`
}

// Outcome pairs a job with its run result. Err is set when the request
// itself was rejected (bad target), not for failed runs.
type Outcome struct {
	Job    Job
	Result orchestrate.RunResult
	Err    error
}

// LoadJobs parses a batch file. A leading '[' selects the JSON form; any
// other content is treated as a line-per-target list where blank lines and
// lines starting with # are skipped. In the line form "target | goal" splits
// the target from an optional intent goal.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("batch file %s is empty", path)
	}

	if strings.HasPrefix(trimmed, "[") {
		var jobs []Job
		if err := json.Unmarshal([]byte(trimmed), &jobs); err != nil {
			return nil, fmt.Errorf("parse batch file: %w", err)
		}
		return jobs, nil
	}

	var jobs []Job
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		target, goal, _ := strings.Cut(line, "|")
		jobs = append(jobs, Job{
			Target: strings.TrimSpace(target),
			Intent: judge.Intent{Goal: strings.TrimSpace(goal)},
		})
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("batch file %s has no jobs", path)
	}
	return jobs, nil
}

// Run executes jobs in order, one run at a time. A failed run does not stop
// the batch; a cancelled context does.
func Run(ctx context.Context, r Runner, jobs []Job) []Outcome {
	logger := log.New(log.Writer(), "[BATCH] ", log.LstdFlags)
	outcomes := make([]Outcome, 0, len(jobs))
	for i, job := range jobs {
		if ctx.Err() != nil {
			logger.Printf("stopping after %d of %d jobs: %v", i, len(jobs), ctx.Err())
			break
		}
		res, err := r.Run(ctx, orchestrate.Request{Target: job.Target, Intent: job.Intent})
		if err != nil {
			logger.Printf("job %d target=%s rejected: %v", i+1, job.Target, err)
		} else {
			logger.Printf("job %d target=%s state=%s attempts=%d", i+1, job.Target, res.State, len(res.Attempts))
		}
		outcomes = append(outcomes, Outcome{Job: job, Result: res, Err: err})
	}
	return outcomes
}
