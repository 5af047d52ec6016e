package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

// DefaultSubjectPrefix roots every published subject
const DefaultSubjectPrefix = "livescribe"

// Config describes the NATS connection
type Config struct {
	Servers          []string
	Token            string
	SubjectPrefix    string
	ConnectTimeoutMS int
}

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// Publisher publishes session events as JSON to
// <prefix>.sessions.<session_id>.<event_type>
type Publisher struct {
	conn   conn
	prefix string
	logger *zap.Logger
}

var _ repositories.EventPublisher = (*Publisher)(nil)

// EventPayload is the published message body
type EventPayload struct {
	ClientID string `json:"client_id"`
	entities.Event
}

// Connect dials the configured servers
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{nats.Name("livescribe-relay")}
	if cfg.ConnectTimeoutMS > 0 {
		options = append(options, nats.Timeout(time.Duration(cfg.ConnectTimeoutMS)*time.Millisecond))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("servers", url))
	return newPublisher(nc, cfg.SubjectPrefix, logger), nil
}

func newPublisher(c conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: c, prefix: prefix, logger: logger}
}

// Subject returns the subject an event of a session is published on
func (p *Publisher) Subject(event entities.Event) string {
	return strings.Join([]string{p.prefix, "sessions", subjectToken(event.SessionID), string(event.Type)}, ".")
}

// Publish implements EventPublisher interface
func (p *Publisher) Publish(ctx context.Context, clientID string, event entities.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(EventPayload{ClientID: clientID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	subject := p.Subject(event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("Failed to drain NATS connection", zap.Error(err))
	}
	p.conn.Close()
	p.logger.Info("NATS connection closed")
}

// subjectToken makes s usable as a single subject token
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
