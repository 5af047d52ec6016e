// Package relayclient speaks the relay's websocket protocol from the client side.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/internal/api"
	relay "github.com/satriahrh/livescribe/internal/websocket"
)

const writeWait = 10 * time.Second

// SessionError is returned when the relay reports an error for the session
type SessionError struct {
	Code    string
	Message string
}

func (e *SessionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay error: %s", e.Code)
	}
	return fmt.Sprintf("relay error: %s: %s", e.Code, e.Message)
}

// Authenticate exchanges client credentials for a relay token
func Authenticate(ctx context.Context, baseURL, clientID, secret string) (string, error) {
	body, err := json.Marshal(api.ClientAuthRequest{ClientID: clientID, Secret: secret})
	if err != nil {
		return "", fmt.Errorf("failed to encode auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+"/api/v1/clients/auth", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to authenticate: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authentication failed with status %d: %s", resp.StatusCode, payload)
	}

	var authResp api.ClientAuthResponse
	if err := json.Unmarshal(payload, &authResp); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	return authResp.Token, nil
}

// Client is a connection to the relay's /ws endpoint
type Client struct {
	// Linger keeps the session open after the audio ends so trailing
	// results can arrive before stop is sent.
	Linger time.Duration

	conn   *websocket.Conn
	logger *zap.Logger

	messages  chan inbound
	readErr   error
	closed    chan struct{}
	closeOnce sync.Once
}

type inbound struct {
	Type      relay.MessageType `json:"type"`
	SessionID string            `json:"session_id"`
	Text      string            `json:"text"`
	Code      string            `json:"error_code"`
	Message   string            `json:"message"`
}

// Dial connects to the relay at baseURL (http or https), authenticating
// with token when it is not empty
func Dial(ctx context.Context, baseURL, token string, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}

	c := &Client{
		conn:     conn,
		logger:   logger,
		messages: make(chan inbound, 16),
		closed:   make(chan struct{}),
	}
	go c.readLoop()

	logger.Info("Connected to relay", zap.String("url", u.String()))
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.messages)
	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.readErr = err
			return
		}
		select {
		case c.messages <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) writeJSON(message interface{}) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(message)
}

// Transcribe runs one session: it starts it, grants the microphone, streams
// chunks once the session has started and asks the relay to stop when
// chunks closes or ctx is done. It returns the final transcript.
func (c *Client) Transcribe(ctx context.Context, start relay.StartMessage, chunks <-chan []byte, onTranscript func(text string)) (string, error) {
	start.Type = relay.MessageTypeStart
	if err := c.writeJSON(start); err != nil {
		return "", fmt.Errorf("failed to send start: %w", err)
	}
	if err := c.writeJSON(relay.BaseMessage{Type: relay.MessageTypeMicrophoneGranted}); err != nil {
		return "", fmt.Errorf("failed to grant microphone: %w", err)
	}

	started, stopSent := false, false
	sendStop := func() error {
		if stopSent {
			return nil
		}
		stopSent = true
		return c.writeJSON(relay.BaseMessage{Type: relay.MessageTypeStop})
	}

	done := ctx.Done()
	var linger <-chan time.Time
	chunkCount := 0
	for {
		var audio <-chan []byte
		if started && !stopSent {
			audio = chunks
		}

		select {
		case <-done:
			done = nil
			if err := sendStop(); err != nil {
				return "", fmt.Errorf("failed to send stop: %w", err)
			}

		case <-linger:
			linger = nil
			if err := sendStop(); err != nil {
				return "", fmt.Errorf("failed to send stop: %w", err)
			}

		case chunk, ok := <-audio:
			if !ok {
				c.logger.Debug("Audio finished", zap.Int("chunks", chunkCount))
				chunks = nil
				if c.Linger > 0 {
					linger = time.After(c.Linger)
					continue
				}
				if err := sendStop(); err != nil {
					return "", fmt.Errorf("failed to send stop: %w", err)
				}
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return "", fmt.Errorf("failed to send audio chunk: %w", err)
			}
			chunkCount++

		case msg, ok := <-c.messages:
			if !ok {
				return "", fmt.Errorf("relay connection closed: %w", c.readErr)
			}
			switch msg.Type {
			case relay.MessageTypeStarted:
				started = true
				c.logger.Info("Session started", zap.String("sessionID", msg.SessionID))
			case relay.MessageTypeTranscript:
				if onTranscript != nil {
					onTranscript(msg.Text)
				}
			case relay.MessageTypeStopped:
				return msg.Text, nil
			case relay.MessageTypeError:
				return "", &SessionError{Code: msg.Code, Message: msg.Message}
			}
		}
	}
}

// Close closes the connection
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
