package command

// root.go defines the root command for chat-cli and the settings every
// subcommand shares.

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"counselchat/internal/auth"
	"counselchat/internal/config"
	"counselchat/internal/logging"

	"github.com/spf13/cobra"
)

var (
	apiURL   string // overrides API_URL
	wsURL    string // overrides WS_URL
	logLevel string // overrides LOG_LEVEL

	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chat-cli",
	Short: "chat-cli - terminal client for counselling chat rooms",
	Long: `chat-cli connects to a chat backend from the terminal. With it you can:
- Store the access token you were issued
- Join a chat room and talk in real time
- Page through a room's history

Settings come from the environment (or a .env file); flags override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}
		if apiURL != "" {
			loaded.APIURL = apiURL
		}
		if wsURL != "" {
			loaded.WSURL = wsURL
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		logger = logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "REST API base URL (default from API_URL)")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws", "", "socket URL (default from WS_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default from LOG_LEVEL)")
}

// loadCredentials prefers an explicit token and falls back to the keyring
func loadCredentials(flagToken string) (*auth.StoredCredentials, error) {
	if flagToken != "" {
		claims, err := auth.ParseUnverified(flagToken)
		if err != nil {
			return nil, err
		}
		return claims.Credentials(flagToken), nil
	}

	creds, err := auth.GetTokens()
	if errors.Is(err, auth.ErrNoCredentials) {
		return nil, fmt.Errorf("not logged in, run 'chat-cli auth set-token' first or pass --token")
	}
	return creds, err
}
