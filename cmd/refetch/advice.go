package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/store"
)

func adviceCMD() *cobra.Command {
	var cfgPath string

	var advice = &cobra.Command{
		Use:   "advice",
		Short: "Manage domain-scoped strategy advice",
	}
	advice.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	var add = &cobra.Command{
		Use:   "add <domain> <text...>",
		Short: "Append advice for a domain",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			st, err := store.NewWithDSN(cmd.Context(), cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.DB.Close()

			id, err := st.AddAdvice(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("advice %d recorded\n", id)
			return nil
		},
	}

	var list = &cobra.Command{
		Use:   "list [domain]",
		Short: "List advice, optionally for one domain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			st, err := store.NewWithDSN(cmd.Context(), cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.DB.Close()

			var (
				rows []store.Advice
			)
			if len(args) == 1 {
				rows, err = st.ListAdvice(cmd.Context(), args[0])
			} else {
				rows, err = st.ListAllAdvice(cmd.Context())
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		},
	}

	advice.AddCommand(add, list)
	return advice
}
