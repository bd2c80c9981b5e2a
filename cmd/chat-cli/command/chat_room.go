package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"counselchat/internal/api"
	"counselchat/internal/auth"
	"counselchat/internal/chat"
	"counselchat/internal/transport"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat room related commands",
	Long:  `Commands to join a chat room and read its history.`,
}

var chatJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a chat room and talk in real time",
	Long: `Join a chat room. Every line you type is sent as a message.
Commands inside the room:
  /older      load the previous page of history
  /typing     show the others that you are typing
  /reconnect  reconnect the live connection
  /quit       leave the room`,
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, _ := cmd.Flags().GetInt64("room")
		flagToken, _ := cmd.Flags().GetString("token")

		creds, err := loadCredentials(flagToken)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return joinRoom(ctx, roomID, creds, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Print a page of a room's history",
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, _ := cmd.Flags().GetInt64("room")
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")
		flagToken, _ := cmd.Flags().GetString("token")
		if limit <= 0 {
			limit = cfg.PageSize
		}

		creds, err := loadCredentials(flagToken)
		if err != nil {
			return err
		}

		result, err := newAPIClient(creds.AccessToken).FetchMessages(cmd.Context(), roomID, page, limit)
		if err != nil {
			return err
		}

		r := NewRenderer(cmd.OutOrStdout(), creds.UserID)
		for _, m := range chat.ToMessages(result.Messages) {
			r.printMessage(m, false)
		}
		if result.HasMore {
			r.System("page %d of room %d; more with --page %d", page, roomID, page+1)
		}
		return nil
	},
}

func init() {
	chatCmd.AddCommand(chatJoinCmd)
	chatCmd.AddCommand(chatHistoryCmd)
	rootCmd.AddCommand(chatCmd)

	for _, c := range []*cobra.Command{chatJoinCmd, chatHistoryCmd} {
		c.Flags().Int64P("room", "r", 0, "Chat room ID (required)")
		c.Flags().StringP("token", "t", "", "JWT token (optional, uses stored token if logged in)")
		c.MarkFlagRequired("room")
	}
	chatHistoryCmd.Flags().IntP("page", "p", 1, "Page number, 1 = newest")
	chatHistoryCmd.Flags().IntP("limit", "l", 0, "Messages per page (default PAGE_SIZE)")
}

func newAPIClient(token string) *api.Client {
	c := api.NewClient(api.Options{
		BaseURL:   cfg.APIURL,
		Timeout:   cfg.RESTTimeout,
		RateLimit: cfg.RESTRateLimit,
		RateBurst: cfg.RESTRateBurst,
		Logger:    logger,
	})
	c.SetToken(token)
	return c
}

func joinRoom(ctx context.Context, roomID int64, creds *auth.StoredCredentials, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel() // releases the stdin reader
	socket := transport.NewClient(transport.Options{
		URL:                  cfg.WSURL,
		ConnectTimeout:       cfg.ConnectTimeout,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Logger:               logger,
	})
	sess := chat.NewSession(newAPIClient(creds.AccessToken), socket, chat.Config{
		RoomID:        roomID,
		UserID:        creds.UserID,
		UserName:      creds.Username,
		Avatar:        creds.Avatar,
		AvatarColor:   creds.AvatarColor,
		Token:         creds.AccessToken,
		PageSize:      cfg.PageSize,
		TypingTimeout: cfg.TypingTimeout,
		PresenceTTL:   cfg.PresenceTTL,
		Logger:        logger,
	})
	defer sess.Close()

	r := NewRenderer(out, creds.UserID)
	off := sess.OnChange(r.Render)
	defer off()

	r.System("joining room %d as %s...", roomID, creds.Username)
	if err := sess.Open(ctx); err != nil {
		return err
	}
	r.Render(sess.Snapshot())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.System("leaving room %d", roomID)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, sess, r, line); quit {
				r.System("leaving room %d", roomID)
				return nil
			}
		}
	}
}

// handleLine runs a slash command or sends the line; it reports whether
// the user asked to leave
func handleLine(ctx context.Context, sess *chat.Session, r *Renderer, line string) bool {
	switch strings.TrimSpace(line) {
	case "/quit":
		return true
	case "/older":
		if !sess.HasMoreMessages() {
			r.System("no earlier messages")
			return false
		}
		if err := sess.LoadOlderMessages(ctx); err != nil {
			r.Error(err)
		}
		return false
	case "/typing":
		sess.StartTyping()
		return false
	case "/reconnect":
		if err := sess.Reconnect(ctx); err != nil {
			r.Error(err)
		}
		return false
	}

	// coming back to the prompt is our foreground event
	sess.Resume(ctx)
	sess.StopTyping()

	err := sess.SendMessage(ctx, line)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
	case err != nil:
		r.Error(fmt.Errorf("not sent: %w", err))
	}
	return false
}
