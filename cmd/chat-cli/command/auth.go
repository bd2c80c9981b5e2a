package command

import (
	"errors"
	"fmt"
	"time"

	"counselchat/internal/auth"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// authCmd represents the auth command for credential related subcommands
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Credential commands",
	Long:  `Store, inspect and forget the access token chat-cli uses.`,
}

var setTokenCmd = &cobra.Command{
	Use:   "set-token <jwt>",
	Short: "Store an access token in the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := auth.StoreToken(args[0])
		if err != nil {
			return fmt.Errorf("could not store token: %w", err)
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Logged in as %s (user %d)\n", creds.Username, creds.UserID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who chat-cli is logged in as",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := auth.GetTokens()
		if errors.Is(err, auth.ErrNoCredentials) {
			fmt.Fprintln(cmd.OutOrStdout(), "Not logged in.")
			return nil
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User:    %s (id %d)\n", creds.Username, creds.UserID)
		if creds.ExpiresAt > 0 {
			expires := time.Unix(creds.ExpiresAt, 0)
			if time.Now().After(expires) {
				color.New(color.FgRed).Fprintf(out, "Expired: %s\n", expires.Format(time.RFC1123))
			} else {
				fmt.Fprintf(out, "Expires: %s\n", expires.Format(time.RFC1123))
			}
		}
		return nil
	},
}

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auth.DeleteTokens(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Successfully logged out.")
		return nil
	},
}

func init() {
	authCmd.AddCommand(setTokenCmd)
	authCmd.AddCommand(statusCmd)
	authCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(authCmd)
}
