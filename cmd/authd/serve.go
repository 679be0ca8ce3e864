package main

import (
	"github.com/dpup/authcore"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := authcore.New(ctx)
			if err != nil {
				return err
			}
			srv, err := app.Server()
			if err != nil {
				_ = app.Close(ctx)
				return err
			}
			return srv.Start(ctx)
		},
	}
}
