package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axellelanca/linkcloak/cmd"
	"github.com/axellelanca/linkcloak/internal/handshake"
)

var (
	codeFlag    string
	baseURLFlag string
)

// ExtensionLoginCmd plays both sides of the extension handshake in process:
// the page session publishes the code and a responder redeems it against the
// server. Useful to check that a code issued by the API works end to end.
var ExtensionLoginCmd = &cobra.Command{
	Use:   "extension-login",
	Short: "Redeem an extension sign-in code through the handshake",
	RunE: func(c *cobra.Command, args []string) error {
		base := baseURLFlag
		if base == "" {
			base = cmd.Cfg.Server.BaseURL
		}

		bus := handshake.NewLocalBus()
		responder := handshake.NewResponder(bus, &handshake.HTTPExchanger{BaseURL: base}, 0, cmd.Logger)
		responder.Listen()
		defer responder.Close()

		out := c.OutOrStdout()
		session := handshake.Start(bus, codeFlag, handshake.Options{
			Timeout:   cmd.Cfg.Auth.HandshakeTimeout,
			Countdown: -1,
		})
		fmt.Fprintln(out, handshake.PendingText)

		select {
		case <-session.Terminal():
		case <-c.Context().Done():
			session.Dismiss()
			return c.Context().Err()
		}
		session.Dismiss()

		outcome := session.Outcome()
		fmt.Fprintf(out, "%s: %s\n", outcome.State, outcome.Message)
		if outcome.State != handshake.Succeeded {
			return fmt.Errorf("handshake %s", outcome.State)
		}
		fmt.Fprintln(out, responder.Token())
		return nil
	},
}

func init() {
	ExtensionLoginCmd.Flags().StringVar(&codeFlag, "code", "", "one-time code from POST /api/v1/extension/codes")
	ExtensionLoginCmd.Flags().StringVar(&baseURLFlag, "base-url", "", "server base URL (defaults to server.base_url)")

	cmd.RootCmd.AddCommand(ExtensionLoginCmd)
}
