package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/fetch"
	"github.com/mohammad-safakhou/refetch/internal/history"
	"github.com/mohammad-safakhou/refetch/internal/judge"
	"github.com/mohammad-safakhou/refetch/internal/orchestrate"
	"github.com/mohammad-safakhou/refetch/internal/store"
	"github.com/mohammad-safakhou/refetch/internal/worker"
)

func main() {
	var root = &cobra.Command{Use: "refetch"}

	root.AddCommand(serveCMD(), migrateCMD(), runCMD(), batchCMD(), adviceCMD(), historyCMD())
	_ = root.Execute()
}

// buildOrchestrator wires the store, providers, judge and orchestrator the
// way the server does, for one-shot CLI commands.
func buildOrchestrator(ctx context.Context, cfg *config.Config) (*orchestrate.Orchestrator, *store.Store, error) {
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, nil, err
	}

	registry := fetch.NewRegistry(cfg.Fetch)
	wrk := worker.New(st, registry, cfg.Fetch)
	hist := history.NewService(st)

	var (
		jdg judge.Judge = judge.HeuristicJudge{}
		adv judge.StrategyAdvisor
	)
	if cfg.LLM.APIKey != "" {
		llm := judge.NewLLMClient(cfg.LLM)
		jdg = llm
		adv = llm
	}

	orch := orchestrate.New(orchestrate.Config{
		Worker:       wrk,
		Judge:        jdg,
		Advisor:      adv,
		History:      hist,
		Fetch:        cfg.Fetch,
		Orchestrator: cfg.Orchestrator,
	})
	return orch, st, nil
}
