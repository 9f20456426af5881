package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gluk-w/codelive/internal/auth"
	"github.com/gluk-w/codelive/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with CODELIVE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if config.Cfg.JWTSecret == "" {
				return errors.New("CODELIVE_JWT_SECRET is not set")
			}
			if email == "" {
				return errors.New("--email is required")
			}
			if userID == "" {
				userID = email
			}
			tok, err := auth.NewHMACValidator(config.Cfg.JWTSecret).Sign(auth.Identity{UserID: userID, Email: email}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to the email)")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
