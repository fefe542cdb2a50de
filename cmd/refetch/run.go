package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/fetch"
	"github.com/mohammad-safakhou/refetch/internal/judge"
	"github.com/mohammad-safakhou/refetch/internal/orchestrate"
	"github.com/mohammad-safakhou/refetch/internal/worker"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var goal string
	var mustContain []string
	var strategy string
	var timeoutMS int
	var maxAttempts int

	var run = &cobra.Command{
		Use:   "run <target>",
		Short: "Fetch one target through the retry loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			orch, st, err := buildOrchestrator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			req := orchestrate.Request{
				Target:      args[0],
				Intent:      judge.Intent{Goal: goal, MustContain: mustContain},
				MaxAttempts: maxAttempts,
			}
			if strategy != "" {
				s, ok := fetch.ParseStrategy(strategy)
				if !ok {
					return fmt.Errorf("unknown strategy %q", strategy)
				}
				req.Directive = worker.Directive{StrategyHint: s}
				if timeoutMS > 0 {
					req.Directive.ParameterOverrides = fetch.Params{"timeout_ms": timeoutMS}
				}
			} else if timeoutMS > 0 {
				req.Directive = worker.Directive{ParameterOverrides: fetch.Params{"timeout_ms": timeoutMS}}
			}

			res, err := orch.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	run.Flags().StringVar(&goal, "goal", "", "what the content must provide")
	run.Flags().StringSliceVar(&mustContain, "must-contain", nil, "terms the content must include")
	run.Flags().StringVar(&strategy, "strategy", "", "pin the first strategy (PLAIN_FETCH, BROWSER_LOAD, BROWSER_NAVIGATE, BROWSER_SCROLL)")
	run.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "per-attempt timeout for the first attempt")
	run.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override the attempt budget")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}
