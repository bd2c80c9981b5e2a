package command

import (
	"fmt"
	"log/slog"
	"os"

	"counselchat/internal/config"
	"counselchat/internal/logging"

	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dev-server",
	Short: "dev-server - local chat backend for development",
	Long: `dev-server runs a small backend that speaks the chat REST and socket
contract, and mints access tokens for it. Messages live in memory unless
DATABASE_URL points at postgres.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}
		if err := loaded.ValidateServer(); err != nil {
			return err
		}
		cfg = loaded
		logger = logging.Setup(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
