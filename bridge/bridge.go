// Package bridge relays a session over WebSocket. Clients receive the
// transcript and status changes as JSON frames and may submit prompts or
// interrupt the running turn.
package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/m4xw311/agentwire/agent"
	"github.com/m4xw311/agentwire/logging"
	"github.com/sirupsen/logrus"
)

const (
	clientBuffer = 256
	writeTimeout = 10 * time.Second
	turnTimeout  = 30 * time.Second
)

// Frame types.
const (
	FrameHello      = "hello"
	FrameTranscript = "transcript"
	FrameStatus     = "status"
	FrameError      = "error"
	FramePrompt     = "prompt"
	FrameInterrupt  = "interrupt"
)

// Frame is one JSON message in either direction.
type Frame struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Conversation is the part of agent.Session the bridge drives.
type Conversation interface {
	SubmitTurn(ctx context.Context, text string) error
	Interrupt(ctx context.Context) error
	Status() agent.Status
	Busy() bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Frame
}

// Hub fans frames out to every connected client. It is an io.Writer so it
// can be installed as a session's transcript.
type Hub struct {
	conv   Conversation
	logger *logrus.Entry

	mu      sync.Mutex
	clients map[string]*client
}

func NewHub(conv Conversation) *Hub {
	return &Hub{
		conv:    conv,
		logger:  logging.NewLogger("bridge"),
		clients: make(map[string]*client),
	}
}

// SetConversation sets the conversation prompts are submitted to.
func (h *Hub) SetConversation(conv Conversation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conv = conv
}

func (h *Hub) conversation() Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conv
}

// Write broadcasts transcript output. It never blocks on slow clients.
func (h *Hub) Write(p []byte) (int, error) {
	h.Broadcast(Frame{Type: FrameTranscript, Text: string(p)})
	return len(p), nil
}

// PublishStatus broadcasts a status change.
func (h *Hub) PublishStatus(s agent.Status) {
	h.Broadcast(Frame{Type: FrameStatus, Status: string(s)})
}

// Broadcast queues a frame for every client. Clients whose queue is full
// are disconnected.
func (h *Hub) Broadcast(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- f:
		default:
			h.logger.WithField("client", id).Warn("client too slow, disconnecting")
			delete(h.clients, id)
			close(c.send)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan Frame, clientBuffer)}
	logger := h.logger.WithField("client", c.id)

	status := agent.StatusDisconnected
	if conv := h.conversation(); conv != nil {
		status = conv.Status()
	}
	c.send <- Frame{Type: FrameHello, ClientID: c.id, Status: string(status)}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	logger.Info("client connected")

	go h.writeLoop(c, logger)
	h.readLoop(r.Context(), c, logger)

	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	logger.Info("client disconnected")
}

func (h *Hub) writeLoop(c *client, logger *logrus.Entry) {
	defer c.conn.Close()
	for f := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(f); err != nil {
			logger.WithError(err).Debug("write failed")
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readLoop(ctx context.Context, c *client, logger *logrus.Entry) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Warn("read failed")
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.reply(c, Frame{Type: FrameError, Text: "malformed frame"})
			continue
		}
		if err := h.dispatch(ctx, f); err != nil {
			logger.WithError(err).WithField("frame", f.Type).Warn("frame rejected")
			h.reply(c, Frame{Type: FrameError, Text: err.Error()})
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, f Frame) error {
	conv := h.conversation()
	if conv == nil {
		return errNoConversation
	}
	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	switch f.Type {
	case FramePrompt:
		if f.Text == "" {
			return errEmptyPrompt
		}
		if conv.Busy() {
			return errBusy
		}
		return conv.SubmitTurn(ctx, f.Text)
	case FrameInterrupt:
		return conv.Interrupt(ctx)
	default:
		return &unknownFrameError{typ: f.Type}
	}
}

func (h *Hub) reply(c *client, f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}
