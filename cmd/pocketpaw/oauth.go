package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/peopleinfo/pocketpaw/internal/oauth"
)

func oauthCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "oauth",
		Short: "Manage device-flow OAuth logins for CLI-backed providers",
	}
	root.AddCommand(oauthLoginCmd())
	return root
}

// oauthLoginCmd starts a device-flow session and polls it to completion,
// printing the verification URL/code as soon as they're known (spec §4.J:
// Start never blocks the caller for the full device-flow duration, so this
// command does its own polling loop on top of it).
func oauthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <provider>",
		Short: "Start a device-flow login for codex, qwen, or gemini",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			mgr := oauth.NewManager(defaultOAuthProviders())

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sess, err := mgr.Start(ctx, provider)
			if err != nil {
				return err
			}
			if sess.VerificationURL != "" {
				cmd.Printf("Visit %s", sess.VerificationURL)
				if sess.UserCode != "" {
					cmd.Printf(" and enter code %s", sess.UserCode)
				}
				cmd.Println()
			}

			for i := 0; i < 60; i++ {
				sess, ok := mgr.Poll(sess.ID)
				if !ok {
					return fmt.Errorf("oauth: session vanished")
				}
				switch sess.Status {
				case oauth.StatusCompleted:
					cmd.Println("login complete.")
					return nil
				case oauth.StatusExpired:
					return fmt.Errorf("oauth: session expired before login completed")
				}
				time.Sleep(5 * time.Second)
			}
			return fmt.Errorf("oauth: timed out waiting for login")
		},
	}
}
