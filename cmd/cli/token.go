package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/axellelanca/linkcloak/cmd"
	"github.com/axellelanca/linkcloak/internal/auth"
)

var subjectFlag string

// TokenCmd mints a bearer token for the management API.
var TokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the management API",
	RunE: func(c *cobra.Command, args []string) error {
		tokens, err := auth.NewTokens(cmd.Cfg.Auth.JWTSecret, cmd.Cfg.Auth.Issuer, cmd.Cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		raw, expires, err := tokens.Issue(subjectFlag)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		fmt.Fprintln(c.OutOrStdout(), raw)
		fmt.Fprintf(c.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
		return nil
	},
}

func init() {
	TokenCmd.Flags().StringVar(&subjectFlag, "subject", "", "token subject, usually an operator e-mail")
	_ = TokenCmd.MarkFlagRequired("subject")

	cmd.RootCmd.AddCommand(TokenCmd)
}
