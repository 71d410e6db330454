package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextday/nextday-api/internal/config"
	"github.com/nextday/nextday-api/internal/pkg/jwt"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd mints a session token signed with AUTH_JWT_SECRET, the same
// secret the API verifies against. Refuses to run in production.
func newRootCmd() *cobra.Command {
	var (
		id  jwt.Identity
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:          "devtoken --account ACCOUNT_ID",
		Short:        "Mint a development session token",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.IsProduction() {
				return fmt.Errorf("devtoken is disabled when ENV=production")
			}

			token, err := jwt.NewService(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, ttl).GenerateSessionToken(id)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&id.AccountID, "account", "", "account id placed in the sub claim")
	f.StringVar(&id.Email, "email", "", "email claim")
	f.StringVar(&id.Name, "name", "", "display name claim")
	f.StringVar(&id.Role, "role", "", "role claim, e.g. admin")
	f.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
