package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/batch"
)

func batchCMD() *cobra.Command {
	var cfgPath string
	var file string

	var cmd = &cobra.Command{
		Use:   "batch",
		Short: "Run every job in a batch file sequentially",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if file == "" {
				file = cfg.Batch.PromptsFile
			}
			jobs, err := batch.LoadJobs(file)
			if err != nil {
				return err
			}

			orch, st, err := buildOrchestrator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			outcomes := batch.Run(cmd.Context(), orch, jobs)

			type line struct {
				Target   string `json:"target"`
				State    string `json:"state"`
				Attempts int    `json:"attempts"`
				Error    string `json:"error,omitempty"`
			}
			enc := json.NewEncoder(os.Stdout)
			for _, o := range outcomes {
				l := line{Target: o.Job.Target, State: string(o.Result.State), Attempts: len(o.Result.Attempts)}
				if o.Err != nil {
					l.Error = o.Err.Error()
				}
				if err := enc.Encode(l); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "batch file (default: batch.prompts_file from config)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
