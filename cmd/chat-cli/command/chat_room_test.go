package command

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"counselchat/internal/auth"
	"counselchat/internal/config"
	"counselchat/internal/devserver"
	"counselchat/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// syncBuffer is written by session callbacks and read by the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startBackend(t *testing.T) (*devserver.Server, string) {
	gin.SetMode(gin.TestMode)
	dev := devserver.New(devserver.Options{JWTSecret: testSecret, Logger: logging.Discard()})
	srv := httptest.NewServer(dev.Handler())
	t.Cleanup(func() {
		dev.Close()
		srv.Close()
	})

	cfg = &config.Config{
		APIURL:               srv.URL,
		WSURL:                "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		RESTTimeout:          2 * time.Second,
		ConnectTimeout:       2 * time.Second,
		PageSize:             50,
		TypingTimeout:        time.Second,
		PresenceTTL:          time.Second,
		MaxReconnectAttempts: 2,
		RESTRateLimit:        100,
		RESTRateBurst:        100,
	}
	logger = logging.Discard()
	return dev, srv.URL
}

func issue(t *testing.T, id auth.Identity) *auth.StoredCredentials {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, id, time.Hour)
	require.NoError(t, err)
	claims, err := auth.ParseUnverified(tok)
	require.NoError(t, err)
	return claims.Credentials(tok)
}

func TestJoinRoomSendsLinesUntilQuit(t *testing.T) {
	startBackend(t)
	creds := issue(t, auth.Identity{UserID: 1, Username: "sam"})

	out := &syncBuffer{}
	in := strings.NewReader("hello there\n   \n/older\n/quit\nnever sent\n")

	err := joinRoom(context.Background(), 7, creds, in, out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "joining room 7 as sam")
	assert.Contains(t, text, "you: hello there")
	assert.Contains(t, text, "no earlier messages")
	assert.Contains(t, text, "leaving room 7")
	assert.NotContains(t, text, "never sent")

	// the message reached the backend
	page, err := newAPIClient(creds.AccessToken).FetchMessages(context.Background(), 7, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hello there", page.Messages[0].Message)
}

func TestJoinRoomStopsOnCancel(t *testing.T) {
	startBackend(t)
	creds := issue(t, auth.Identity{UserID: 1, Username: "sam"})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	// a reader that never returns a line until the test ends
	pr, pw := io.Pipe()
	defer pw.Close()

	require.NoError(t, joinRoom(ctx, 7, creds, pr, &syncBuffer{}))
}

func TestLoadCredentials(t *testing.T) {
	keyring.MockInit()

	_, err := loadCredentials("")
	assert.ErrorContains(t, err, "not logged in")

	creds := issue(t, auth.Identity{UserID: 4, Username: "ana"})
	fromFlag, err := loadCredentials(creds.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(4), fromFlag.UserID)

	_, err = auth.StoreToken(creds.AccessToken)
	require.NoError(t, err)
	stored, err := loadCredentials("")
	require.NoError(t, err)
	assert.Equal(t, "ana", stored.Username)
}
