package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dawidpodolak/panelsense-gateway/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}

			token, err := auth.GenerateAdminToken(subject, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "panelsense-admin", "Token subject recorded in gateway logs")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: security.jwt.access_token_ttl)")
	return cmd
}
