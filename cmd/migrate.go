package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:         "migrate",
	Short:       "Apply the store schema",
	Annotations: map[string]string{"mode": "migrate"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := newStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		zap.L().Info("migrate: schema applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
