package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/guard"
	"github.com/philonis/neo/internal/agent/runner"
	"github.com/philonis/neo/internal/logging"
	"github.com/philonis/neo/internal/markdown"
)

const (
	writeTimeout   = 10 * time.Second
	confirmTimeout = 2 * time.Minute
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to loopback. Accept pages served from it and
		// non-browser clients that send no Origin header.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := u.Hostname()
		return host == "localhost" || host == "127.0.0.1" || host == "::1"
	},
}

// clientMessage is what the browser sends over the chat socket.
type clientMessage struct {
	Type    string `json:"type"`              // chat | confirm | cancel | ping
	Content string `json:"content,omitempty"` // chat
	Session string `json:"session,omitempty"` // chat
	Model   string `json:"model,omitempty"`   // chat
	ID      string `json:"id,omitempty"`      // confirm
	Approve bool   `json:"approve,omitempty"` // confirm
}

// serverMessage is one event pushed to the client. The payload fields in
// use depend on Type.
type serverMessage struct {
	Type    string          `json:"type"` // text | thinking | tool_call | tool_result | confirm_request | done | error | pong
	Text    string          `json:"text,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	ID      string          `json:"id,omitempty"`
	Message string          `json:"message,omitempty"`
	HTML    string          `json:"html,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// chatSocket is one connected chat client. Writes go through writeMu since
// gorilla/websocket allows only one concurrent writer per connection.
type chatSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	confirmMu  sync.Mutex
	confirmSeq int
	pending    map[string]chan bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newChatSocket(conn *websocket.Conn) *chatSocket {
	return &chatSocket{
		conn:    conn,
		pending: make(map[string]chan bool),
		closed:  make(chan struct{}),
	}
}

func (c *chatSocket) send(msg serverMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

// close shuts the connection and denies every confirmation still waiting
// for an answer.
func (c *chatSocket) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
		c.confirmMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.confirmMu.Unlock()
	})
}

// confirm implements the guard's confirmation hook for runs started by
// this client. It blocks the executing tool until the user answers, the
// client disconnects, or the prompt times out. Timeouts and disconnects
// count as denial.
func (c *chatSocket) confirm(action, target, value string) bool {
	c.confirmMu.Lock()
	c.confirmSeq++
	id := strconv.Itoa(c.confirmSeq)
	ch := make(chan bool, 1)
	c.pending[id] = ch
	c.confirmMu.Unlock()

	defer func() {
		c.confirmMu.Lock()
		delete(c.pending, id)
		c.confirmMu.Unlock()
	}()

	msg := guard.ConfirmationMessage(action, target, value)
	if err := c.send(serverMessage{Type: "confirm_request", ID: id, Message: msg}); err != nil {
		return false
	}
	select {
	case ok := <-ch:
		return ok
	case <-c.closed:
		return false
	case <-time.After(confirmTimeout):
		return false
	}
}

func (c *chatSocket) resolveConfirm(id string, approve bool) {
	c.confirmMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.confirmMu.Unlock()
	if ok {
		ch <- approve
	}
}

func (c *chatSocket) pingLoop() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// handleChatSocket upgrades the connection and reads client messages until
// disconnect. Chat requests run one at a time per connection; confirm and
// cancel messages are handled while a run is in flight.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("[Server] websocket upgrade failed: %v", err)
		return
	}
	c := newChatSocket(conn)
	defer c.close()

	logging.Infof("[Server] chat client connected: %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go c.pingLoop()

	running := make(chan struct{}, 1)
	var cancelMu sync.Mutex
	var runCancel context.CancelFunc

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "chat":
			if strings.TrimSpace(msg.Content) == "" {
				c.send(serverMessage{Type: "error", Error: "content is required"})
				continue
			}
			select {
			case running <- struct{}{}:
			default:
				c.send(serverMessage{Type: "error", Error: "a request is already running"})
				continue
			}
			runCtx, cancelRun := context.WithCancel(ctx)
			cancelMu.Lock()
			runCancel = cancelRun
			cancelMu.Unlock()
			go func(m clientMessage) {
				defer func() { <-running }()
				defer cancelRun()
				s.streamRun(runCtx, c, m)
			}(msg)
		case "confirm":
			c.resolveConfirm(msg.ID, msg.Approve)
		case "cancel":
			cancelMu.Lock()
			if runCancel != nil {
				runCancel()
			}
			cancelMu.Unlock()
		case "ping":
			c.send(serverMessage{Type: "pong"})
		default:
			c.send(serverMessage{Type: "error", Error: "unknown message type"})
		}
	}

	logging.Infof("[Server] chat client disconnected: %s", r.RemoteAddr)
}

// streamRun executes one chat request and forwards agent events to the
// client as they happen.
func (s *Server) streamRun(ctx context.Context, c *chatSocket, msg clientMessage) {
	sessionKey := msg.Session
	if sessionKey == "" {
		sessionKey = "web"
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	// Route confirmation prompts to this client for the duration of the run.
	s.deps.Guard.SetConfirmFunc(c.confirm)
	defer s.deps.Guard.SetConfirmFunc(nil)

	events, err := s.deps.Runner.Run(ctx, &runner.RunRequest{
		SessionKey:    sessionKey,
		Prompt:        msg.Content,
		ModelOverride: msg.Model,
	})
	if err != nil {
		c.send(serverMessage{Type: "error", Error: err.Error()})
		return
	}

	var text strings.Builder
	var runErr error
	for ev := range events {
		switch ev.Type {
		case ai.EventTypeText:
			text.WriteString(ev.Text)
			c.send(serverMessage{Type: "text", Text: ev.Text})
		case ai.EventTypeThinking:
			c.send(serverMessage{Type: "thinking", Text: ev.Text})
		case ai.EventTypeToolCall:
			m := serverMessage{Type: "tool_call"}
			if ev.ToolCall != nil {
				m.Tool = ev.ToolCall.Name
				m.Args = ev.ToolCall.Input
			}
			c.send(m)
		case ai.EventTypeToolResult:
			m := serverMessage{Type: "tool_result", Text: runner.ResultBrief(ev.Text)}
			if ev.ToolCall != nil {
				m.Tool = ev.ToolCall.Name
			}
			c.send(m)
		case ai.EventTypeError:
			runErr = ev.Error
			if runErr == nil {
				runErr = errors.New("run failed")
			}
		case ai.EventTypeDone:
		}
	}

	if runErr != nil {
		c.send(serverMessage{Type: "error", Error: runErr.Error()})
		return
	}
	final := text.String()
	c.send(serverMessage{Type: "done", Text: final, HTML: markdown.Render(final)})
}
