package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/adapters/microphone"
	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
	"github.com/satriahrh/livescribe/internal/metrics"
	"github.com/satriahrh/livescribe/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Time allowed to record a finished session.
	historyWait = 5 * time.Second
)

// Hub maintains the set of active relay clients
type Hub struct {
	// Registered clients.
	clients map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	stopped chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	transcriber *usecase.Transcriber
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader
	history     repositories.SessionHistory
	publisher   repositories.EventPublisher

	logger *zap.Logger
}

// HubOption configures optional hub collaborators
type HubOption func(*Hub)

// WithHistory records the outcome of every finished session
func WithHistory(history repositories.SessionHistory) HubOption {
	return func(h *Hub) { h.history = history }
}

// WithPublisher publishes every session event through publisher
func WithPublisher(publisher repositories.EventPublisher) HubOption {
	return func(h *Hub) { h.publisher = publisher }
}

// NewHub creates a new WebSocket hub. An empty allowedOrigins or one
// containing "*" accepts every origin.
func NewHub(transcriber *usecase.Transcriber, relayMetrics *metrics.Metrics, allowedOrigins []string, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients:     make(map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		stopped:     make(chan struct{}),
		transcriber: transcriber,
		metrics:     relayMetrics,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		allowed[strings.TrimSuffix(origin, "/")] = struct{}{}
	}
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// Run starts the hub's main loop and returns when ctx is done, closing
// every remaining client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.metrics.RecordRelayConnection(1)
			h.logger.Info("Client registered", zap.String("clientID", client.clientID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.metrics.RecordRelayConnection(-1)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.clientID))

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
				h.metrics.RecordRelayConnection(-1)
			}
			h.mu.Unlock()
			h.logger.Info("Hub stopped")
			return
		}
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeClient upgrades the request and serves one relay client
func (h *Hub) ServeClient(w http.ResponseWriter, r *http.Request, clientID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan WriteData, 256),
		done:     make(chan struct{}),
		clientID: clientID,
		logger:   h.logger.With(zap.String("clientID", clientID)),
	}

	select {
	case h.register <- client:
	case <-h.stopped:
		conn.Close()
		return errors.New("hub is not running")
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// HandleWebSocketWithAuth handles websocket requests with a pre-authenticated client ID
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, clientID string) error {
	return hub.ServeClient(c.Response(), c.Request(), clientID)
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and a transcription session.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed once the client is unregistered.
	done      chan struct{}
	closeOnce sync.Once

	clientID string
	logger   *zap.Logger

	mutex      sync.Mutex
	session    *usecase.TranscriptionSession
	microphone *microphone.RemoteMicrophone
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		c.stopSession()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON queues a text message unless the client is gone
func (c *Client) sendJSON(message interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return
	}

	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	case <-c.done:
	}
}

// processMessage processes incoming control messages from the client
func (c *Client) processMessage(message []byte) {
	msg, err := ParseMessage(message)
	if err != nil {
		c.logger.Warn("Failed to parse message", zap.Error(err))
		c.sendJSON(CreateErrorMessage(ErrorCodeInvalidMessage, err.Error()))
		return
	}

	switch m := msg.(type) {
	case *StartMessage:
		c.handleStart(m)
	case *BaseMessage:
		switch m.Type {
		case MessageTypeMicrophoneGranted:
			c.handleMicrophoneDecision(true)
		case MessageTypeMicrophoneDenied:
			c.handleMicrophoneDecision(false)
		case MessageTypeStop:
			c.handleStop()
		}
	}
}

// processBinaryAudioChunk forwards a raw float32 chunk to the session microphone
func (c *Client) processBinaryAudioChunk(data []byte) {
	c.mutex.Lock()
	mic := c.microphone
	c.mutex.Unlock()

	if mic == nil {
		c.logger.Warn("Received binary audio chunk but no active session found", zap.Int("size", len(data)))
		return
	}

	if !mic.Push(data) {
		c.logger.Debug("Dropped audio chunk outside capture", zap.Int("size", len(data)))
	}
}

// handleStart starts a new transcription session for this connection
func (c *Client) handleStart(msg *StartMessage) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.session != nil && !c.session.State().IsTerminal() {
		c.sendJSON(CreateErrorMessage(ErrorCodeSessionActive, "a session is already running on this connection"))
		return
	}

	mic := microphone.NewRemoteMicrophone(c.logger)
	session, err := c.hub.transcriber.NewSession(msg.Options(), mic)
	if err != nil {
		c.logger.Warn("Failed to create transcription session", zap.Error(err))
		c.sendJSON(CreateErrorMessage(ErrorCodeInvalidMessage, err.Error()))
		return
	}

	if err := session.Start(context.Background()); err != nil {
		c.logger.Error("Failed to start transcription session", zap.Error(err))
		c.sendJSON(CreateErrorMessage(ErrorCodeSessionActive, err.Error()))
		return
	}

	c.session = session
	c.microphone = mic
	go c.forwardEvents(session, time.Now())

	c.logger.Info("Transcription session started", zap.String("sessionID", session.ID()))
}

func (c *Client) handleMicrophoneDecision(granted bool) {
	c.mutex.Lock()
	mic := c.microphone
	c.mutex.Unlock()

	if mic == nil {
		c.sendJSON(CreateErrorMessage(ErrorCodeNoSession, "no session is awaiting microphone access"))
		return
	}

	if granted {
		mic.Grant()
	} else {
		mic.Deny()
	}
}

func (c *Client) handleStop() {
	c.mutex.Lock()
	session := c.session
	c.mutex.Unlock()

	if session == nil {
		c.sendJSON(CreateErrorMessage(ErrorCodeNoSession, "no session to stop"))
		return
	}
	session.Stop()
}

// stopSession stops the current session when the connection goes away
func (c *Client) stopSession() {
	c.mutex.Lock()
	session, mic := c.session, c.microphone
	c.mutex.Unlock()

	if session != nil {
		session.Stop()
	}
	if mic != nil {
		mic.Close()
	}
}

// forwardEvents relays session events until the session delivers its last one.
// A session whose result stream ends on its own is stopped so the client
// receives the final text.
func (c *Client) forwardEvents(session *usecase.TranscriptionSession, startedAt time.Time) {
	events, done := session.Events(), session.Done()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				c.logger.Debug("Session events drained", zap.String("sessionID", session.ID()))
				return
			}
			c.sendJSON(EventMessage(event))
			c.publish(event)
			if event.IsTerminal() {
				c.record(entities.NewSessionRecord(c.clientID, session.Options(), startedAt, event))
			}

		case <-done:
			done = nil
			session.Stop()
		}
	}
}

func (c *Client) publish(event entities.Event) {
	if c.hub.publisher == nil {
		return
	}
	if err := c.hub.publisher.Publish(context.Background(), c.clientID, event); err != nil {
		c.logger.Warn("Failed to publish session event",
			zap.String("sessionID", event.SessionID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

func (c *Client) record(record entities.SessionRecord) {
	if c.hub.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWait)
	defer cancel()
	if err := c.hub.history.Save(ctx, record); err != nil {
		c.logger.Error("Failed to record session", zap.String("sessionID", record.SessionID), zap.Error(err))
	}
}
