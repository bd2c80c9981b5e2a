package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"counselchat/internal/devserver"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.DevServerPort
		}
		if cfg.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}

		opts := devserver.Options{JWTSecret: cfg.JWTSecret, Logger: logger}
		if cfg.DatabaseURL != "" {
			db, err := devserver.OpenPostgres(cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return fmt.Errorf("failed to get database instance: %w", err)
			}
			defer sqlDB.Close()
			opts.Repo = devserver.NewGormMessageRepository(db)
		} else {
			logger.Warn("DATABASE_URL not set, messages are kept in memory")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := fmt.Sprintf("127.0.0.1:%d", port)
		return devserver.New(opts).Run(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "listen port (default DEV_SERVER_PORT)")
	rootCmd.AddCommand(serveCmd)
}
