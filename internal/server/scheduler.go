package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/refetch/internal/batch"
)

// Scheduler re-runs the configured batch file on a cron schedule. A redis
// SetNX lock keeps replicas from firing the same window twice.
type Scheduler struct {
	Runner      Runner
	Rdb         *redis.Client
	CronSpec    string
	PromptsFile string
	Stop        chan struct{}

	logger *log.Logger
	last   *time.Time
}

func (s *Scheduler) Start() {
	s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if !isDue(s.CronSpec, s.last) {
		return
	}
	ctx := context.Background()

	// distributed lock to avoid duplicate batch runs
	if s.Rdb != nil {
		ok, _ := s.Rdb.SetNX(ctx, "refetch:sched:lock", "1", 2*time.Minute).Result()
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, "refetch:sched:lock")
	}

	now := time.Now()
	s.last = &now

	jobs, err := batch.LoadJobs(s.PromptsFile)
	if err != nil {
		s.logger.Printf("skipping scheduled batch: %v", err)
		return
	}
	s.logger.Printf("scheduled batch starting, %d jobs", len(jobs))
	outcomes := batch.Run(ctx, s.Runner, jobs)
	s.logger.Printf("scheduled batch finished, %d outcomes", len(outcomes))
}

// isDue determines whether the schedule should fire now given the last run.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
