package main

import (
	"fmt"

	"github.com/dpup/authcore"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, closer, err := authcore.OpenStore(ctx)
			if err != nil {
				return err
			}
			if closer == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "in-memory storage has no schema to migrate")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return closer(ctx)
		},
	}
}
