package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dpup/authcore"
	"github.com/dpup/authcore/auth/apikey"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/storage"
	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage a user's API keys",
	}
	keys.AddCommand(newKeysCreateCmd(), newKeysListCmd(), newKeysRevokeCmd())
	return keys
}

// withKeys opens the configured store and resolves user, given as an email
// address or a user id.
func withKeys(ctx context.Context, user string, fn func(m *apikey.Manager, u *storage.User) error) error {
	store, closer, err := authcore.OpenStore(ctx)
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer(ctx) }()
	}

	var u *storage.User
	if strings.Contains(user, "@") {
		u, err = store.FindUserByEmail(ctx, strings.ToLower(user))
	} else {
		u, err = store.FindUserByID(ctx, user)
	}
	if err != nil {
		return errors.WrapPrefix(err, fmt.Sprintf("user %q", user), 0)
	}

	m := apikey.NewManager(store, apikey.WithPrefix(authcore.ConfigString("auth.apiKeyPrefix")))
	return fn(m, u)
}

func newKeysCreateCmd() *cobra.Command {
	var user, name string
	var scopes []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withKeys(cmd.Context(), user, func(m *apikey.Manager, u *storage.User) error {
				k, err := m.Generate(cmd.Context(), u.ID, name, scopes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "id:     %s\n", k.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "scopes: %s\n", strings.Join(k.Scopes, ","))
				fmt.Fprintf(cmd.OutOrStdout(), "key:    %s\n", k.Key)
				cmd.PrintErrln("The key is shown once and cannot be recovered.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "owner email or id")
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scope to grant, repeatable (default *)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withKeys(cmd.Context(), user, func(m *apikey.Manager, u *storage.User) error {
				keys, err := m.List(cmd.Context(), u.ID)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tSCOPES\tCREATED\tLAST USED")
				for _, k := range keys {
					lastUsed := "never"
					if k.LastUsedAt != nil {
						lastUsed = k.LastUsedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						k.ID, k.Name, strings.Join(k.Scopes, ","), k.CreatedAt.Format(time.RFC3339), lastUsed)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "owner email or id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newKeysRevokeCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "revoke KEY_ID",
		Short: "Revoke one of a user's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd.Context(), user, func(m *apikey.Manager, u *storage.User) error {
				if err := m.Revoke(cmd.Context(), u.ID, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "owner email or id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
