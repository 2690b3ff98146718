package main

import (
	"fmt"
	"time"

	"github.com/cooklang/cooksync/internal/server/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var namespace int64
	var expiry time.Duration

	cmd := &cobra.Command{
		Use:   "token USER",
		Short: "Mint an access token for USER",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Auth.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			token, err := auth.NewAuthService(&cfg.Auth).IssueToken(cmd.Context(), args[0], namespace, expiry)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().Int64VarP(&namespace, "namespace", "n", 1, "namespace the token may sync")
	cmd.Flags().DurationVarP(&expiry, "expiry", "e", 0, "token lifetime, defaults to auth.token_expiry")
	return cmd
}
