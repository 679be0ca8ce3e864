package main

import (
	"github.com/dpup/authcore"
	"github.com/dpup/authcore/errors"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "authd",
		Short: "API key and OAuth authentication service",
		Long: `authd issues and validates API keys, brokers Google and GitHub logins,
and keeps provider tokens fresh.

Configuration is read from authcore.yaml in the working directory or any
parent, then from AC__ prefixed environment variables, for example
AC__AUTH__SIGNING_KEY sets auth.signingKey.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				if err := authcore.LoadConfigFile(configFile); err != nil {
					return err
				}
			}
			authcore.ApplyConfigDefaults()
			for _, w := range authcore.ValidateConfig() {
				cmd.PrintErrln("warning:", w)
			}
			if errs := authcore.CheckConfig(); len(errs) > 0 {
				return errors.New(authcore.FormatConfigErrors(errs))
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "additional YAML config file")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newKeysCmd())
	return root
}
