package command

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"counselchat/internal/chat"

	"github.com/fatih/color"
)

var (
	selfColor    = color.New(color.FgGreen)
	peerColor    = color.New(color.FgCyan)
	earlierColor = color.New(color.FgHiBlack)
	typingColor  = color.New(color.FgHiBlack, color.Italic)
	systemColor  = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
)

// Renderer prints session snapshots as a scrolling transcript. Only
// confirmed messages are printed, each once; history loaded later is
// marked as earlier.
type Renderer struct {
	w      io.Writer
	selfID int64

	mu        sync.Mutex
	printed   map[int64]bool
	newest    int64
	typing    string
	connected bool
	started   bool
}

func NewRenderer(w io.Writer, selfID int64) *Renderer {
	return &Renderer{w: w, selfID: selfID, printed: make(map[int64]bool)}
}

// Render prints whatever changed since the previous snapshot
func (r *Renderer) Render(s chat.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.State == chat.StateClosed {
		return
	}

	var earlier []chat.Message
	for _, m := range s.Messages {
		if m.Pending() || r.printed[m.ID] {
			continue
		}
		r.printed[m.ID] = true
		if r.newest != 0 && m.ID < r.newest {
			earlier = append(earlier, m)
			continue
		}
		r.newest = max(r.newest, m.ID)
		r.printMessage(m, false)
	}
	if len(earlier) > 0 {
		earlierColor.Fprintf(r.w, "── %d earlier message(s) ──\n", len(earlier))
		for _, m := range earlier {
			r.printMessage(m, true)
		}
	}

	if s.State == chat.StateReady || s.State == chat.StateLoadingOlder {
		if !r.started || s.Connected != r.connected {
			r.started = true
			r.connected = s.Connected
			if s.Connected {
				r.system("connected")
			} else {
				r.system("offline: messages still send, live updates paused (/reconnect to retry)")
			}
		}
	}

	if line := typingLine(s.TypingUsers); line != r.typing {
		r.typing = line
		if line != "" {
			typingColor.Fprintln(r.w, line)
		}
	}
}

func (r *Renderer) printMessage(m chat.Message, earlier bool) {
	name := m.UserName
	if name == "" {
		name = fmt.Sprintf("user %d", m.SenderID)
	}
	c := peerColor
	if m.SenderID == r.selfID {
		c = selfColor
		name = "you"
	}
	if earlier {
		c = earlierColor
	}
	c.Fprintf(r.w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), name, m.Body)
}

// System prints a status line
func (r *Renderer) System(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.system(format, args...)
}

func (r *Renderer) system(format string, args ...any) {
	systemColor.Fprintf(r.w, "🔔 "+format+"\n", args...)
}

// Error prints a failure line
func (r *Renderer) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	errorColor.Fprintf(r.w, "✗ %v\n", err)
}

func typingLine(users []chat.TypingStatus) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0].UserName + " is typing..."
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.UserName
	}
	return strings.Join(names, ", ") + " are typing..."
}
