package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"classdesk.org/internal/auth"
)

const secretEnv = "AUTH_JWT_SECRET"

type tokenFlags struct {
	issuer string
}

func (f *tokenFlags) service(ttl time.Duration) (*auth.TokenService, error) {
	secret := strings.TrimSpace(os.Getenv(secretEnv))
	if secret == "" {
		return nil, errors.New(secretEnv + " is not set")
	}
	return auth.NewTokenService(auth.TokenConfig{
		Secret: []byte(secret),
		TTL:    ttl,
		Issuer: f.issuer,
	})
}

func newTokenCmd() *cobra.Command {
	flags := &tokenFlags{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue or verify session tokens",
		Long:  "Token commands sign with the secret in " + secretEnv + ".",
	}
	cmd.PersistentFlags().StringVar(&flags.issuer, "issuer", "classdesk", "token issuer")
	cmd.AddCommand(newTokenIssueCmd(flags))
	cmd.AddCommand(newTokenVerifyCmd(flags))
	return cmd
}

func newTokenIssueCmd(flags *tokenFlags) *cobra.Command {
	var (
		id  auth.Identity
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token for an identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts, err := flags.service(ttl)
			if err != nil {
				return err
			}
			token, expiresAt, err := ts.Issue(id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			cmd.PrintErrln("expires at", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&id.UserID, "user-id", 0, "user id")
	cmd.Flags().StringVar(&id.Email, "email", "", "user email")
	cmd.Flags().Int64Var(&id.OrganizationID, "org-id", 0, "organization id")
	cmd.Flags().Int64Var(&id.RoleID, "role-id", 0, "role id")
	cmd.Flags().StringVar(&id.RoleName, "role-name", "", "role name")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newTokenVerifyCmd(flags *tokenFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Read a token from stdin and print its claims",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts, err := flags.service(0)
			if err != nil {
				return err
			}
			token, err := readSecretLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			claims, err := ts.Verify(token)
			if err != nil {
				return err
			}
			out := struct {
				auth.Identity
				ExpiresAt time.Time `json:"expires_at"`
				TokenID   string    `json:"jti"`
			}{
				Identity:  claims.Identity(),
				ExpiresAt: claims.ExpiresAt.Time.UTC(),
				TokenID:   claims.ID,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
