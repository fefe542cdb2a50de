package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/history"
	"github.com/mohammad-safakhou/refetch/internal/store"
)

func historyCMD() *cobra.Command {
	var cfgPath string
	var limit int

	var cmd = &cobra.Command{
		Use:   "history <url-or-domain>",
		Short: "Show prior attempts for a target or domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			st, err := store.NewWithDSN(cmd.Context(), cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.DB.Close()

			res, err := history.NewService(st).Lookup(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max attempts per section (0 = store default)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
