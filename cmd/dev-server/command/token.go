package command

import (
	"fmt"

	"counselchat/internal/auth"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for a development user",
	Example: `  dev-server token --user-id 1 --username sam
  chat-cli auth set-token "$(dev-server token --user-id 1 --username sam)"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var id auth.Identity
		id.UserID, _ = cmd.Flags().GetInt64("user-id")
		id.Username, _ = cmd.Flags().GetString("username")
		id.Avatar, _ = cmd.Flags().GetString("avatar")
		id.AvatarColor, _ = cmd.Flags().GetString("avatar-color")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = cfg.JWTExpiry
		}
		if id.UserID <= 0 {
			return fmt.Errorf("--user-id must be positive")
		}

		tok, err := auth.IssueToken(cfg.JWTSecret, id, ttl)
		if err != nil {
			return fmt.Errorf("could not sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64("user-id", 0, "user id carried in the token (required)")
	tokenCmd.Flags().String("username", "", "display name carried in the token (required)")
	tokenCmd.Flags().String("avatar", "", "avatar URL")
	tokenCmd.Flags().String("avatar-color", "", "avatar colour, e.g. #4a8")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default JWT_EXPIRY)")
	tokenCmd.MarkFlagRequired("user-id")
	tokenCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(tokenCmd)
}
