package devserver

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"counselchat/internal/api"
	"counselchat/internal/auth"
	"counselchat/internal/chat"
	"counselchat/internal/logging"
	"counselchat/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// EndToEndSuite drives two chat sessions through the real REST and
// socket clients against the development backend.
type EndToEndSuite struct {
	suite.Suite
	h *harness
}

func TestEndToEndSuite(t *testing.T) {
	suite.Run(t, new(EndToEndSuite))
}

func (s *EndToEndSuite) SetupTest() {
	s.h = newHarness(s.T())
}

func (s *EndToEndSuite) session(id auth.Identity, roomID int64, pageSize int) *chat.Session {
	t := s.T()
	tok := token(t, id)

	rest := api.NewClient(api.Options{BaseURL: s.h.URL, Timeout: 2 * time.Second, Logger: logging.Discard()})
	rest.SetToken(tok)
	socket := transport.NewClient(transport.Options{
		URL:            "ws" + strings.TrimPrefix(s.h.URL, "http") + "/ws",
		ConnectTimeout: 2 * time.Second,
		Logger:         logging.Discard(),
	})

	sess := chat.NewSession(rest, socket, chat.Config{
		RoomID:        roomID,
		UserID:        id.UserID,
		UserName:      id.Username,
		AvatarColor:   id.AvatarColor,
		Token:         tok,
		PageSize:      pageSize,
		TypingTimeout: 200 * time.Millisecond,
		PresenceTTL:   time.Second,
		Logger:        logging.Discard(),
	})
	t.Cleanup(sess.Close)
	return sess
}

func (s *EndToEndSuite) waitForMembers(roomID int64, n int) {
	s.Require().Eventually(func() bool {
		room := s.h.dev.Hub().Room(roomID)
		return room != nil && room.GetUserCount() == n
	}, 2*time.Second, 10*time.Millisecond)
}

func bodies(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}

func (s *EndToEndSuite) TestConversation() {
	ctx := context.Background()
	patientSess := s.session(patient, 7, 50)
	counselorSess := s.session(counselor, 7, 50)

	s.Require().NoError(patientSess.Open(ctx))
	s.Require().NoError(counselorSess.Open(ctx))
	s.True(patientSess.IsConnected())
	s.waitForMembers(7, 2)

	s.Require().NoError(patientSess.SendMessage(ctx, "I had a rough week"))

	// sender: exactly one confirmed copy despite REST response and echo
	mine := patientSess.Messages()
	s.Require().Len(mine, 1)
	s.False(mine[0].Pending())
	s.Positive(mine[0].ID)

	s.Require().Eventually(func() bool {
		return len(counselorSess.Messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	theirs := counselorSess.Messages()[0]
	s.Equal(mine[0].ID, theirs.ID)
	s.Equal("sam", theirs.UserName)

	s.Require().NoError(counselorSess.SendMessage(ctx, "Tell me about it"))
	s.Require().Eventually(func() bool {
		return len(patientSess.Messages()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	s.Equal([]string{"I had a rough week", "Tell me about it"}, bodies(patientSess.Messages()))

	// give any stray echo a moment to arrive, then check nothing doubled
	time.Sleep(100 * time.Millisecond)
	s.Len(patientSess.Messages(), 2)
	s.Len(counselorSess.Messages(), 2)
}

func (s *EndToEndSuite) TestTypingIndicator() {
	ctx := context.Background()
	patientSess := s.session(patient, 7, 50)
	counselorSess := s.session(counselor, 7, 50)
	s.Require().NoError(patientSess.Open(ctx))
	s.Require().NoError(counselorSess.Open(ctx))
	s.waitForMembers(7, 2)

	counselorSess.StartTyping()
	s.Require().Eventually(func() bool {
		users := patientSess.TypingUsers()
		return len(users) == 1 && users[0].UserName == "dr lee"
	}, 2*time.Second, 10*time.Millisecond)
	s.Empty(counselorSess.TypingUsers())

	// debounce timeout sends the stop
	s.Require().Eventually(func() bool {
		return len(patientSess.TypingUsers()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *EndToEndSuite) TestHistoryPaging() {
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		s.Require().NoError(s.h.repo.Create(ctx, &MessageRecord{
			RoomID: 7, SenderID: 2, UserName: "dr lee", Message: fmt.Sprintf("m%d", i),
		}))
	}

	sess := s.session(patient, 7, 2)
	s.Require().NoError(sess.Open(ctx))
	s.Equal([]string{"m4", "m5"}, bodies(sess.Messages()))
	s.True(sess.HasMoreMessages())

	s.Require().NoError(sess.LoadOlderMessages(ctx))
	s.Equal([]string{"m2", "m3", "m4", "m5"}, bodies(sess.Messages()))

	s.Require().NoError(sess.LoadOlderMessages(ctx))
	s.Equal([]string{"m1", "m2", "m3", "m4", "m5"}, bodies(sess.Messages()))
	s.False(sess.HasMoreMessages())

	// nothing more to load: no-op
	s.Require().NoError(sess.LoadOlderMessages(ctx))
	s.Len(sess.Messages(), 5)
}

func (s *EndToEndSuite) TestResumeAfterServerDrop() {
	ctx := context.Background()
	sess := s.session(patient, 7, 50)
	s.Require().NoError(sess.Open(ctx))
	s.waitForMembers(7, 1)

	s.h.dev.Hub().Room(7).GetClients()[0].Close()
	s.Require().Eventually(func() bool { return !sess.IsConnected() }, 2*time.Second, 10*time.Millisecond)

	sess.Resume(ctx)
	s.True(sess.IsConnected())
	s.waitForMembers(7, 1)
}

func TestSessionWithoutCredentialsTouchesNothing(t *testing.T) {
	h := newHarness(t)

	rest := api.NewClient(api.Options{BaseURL: h.URL})
	socket := transport.NewClient(transport.Options{URL: "ws" + strings.TrimPrefix(h.URL, "http") + "/ws"})
	sess := chat.NewSession(rest, socket, chat.Config{RoomID: 7, UserID: 1})
	defer sess.Close()

	require.NoError(t, sess.Open(context.Background()))
	require.NoError(t, sess.SendMessage(context.Background(), "hi"))

	assert.Equal(t, chat.StateUninitialized, sess.State())
	assert.Zero(t, h.dev.Hub().ClientCount())
}
