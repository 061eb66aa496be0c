// Package events publishes record lifecycle notifications.
//
// When enabled, every persisted record produces a RecordCreated message on
// the configured NATS subject:
//
//	voicenote.records.created
//
// Publishing is best effort. Subscribers must tolerate gaps.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/voicenote/internal/config"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/fyrsmithlabs/voicenote/internal/note"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// RecordCreated summarizes a persisted record. Note text is not included.
type RecordCreated struct {
	RecordID     string         `json:"record_id"`
	Timestamp    string         `json:"timestamp"`
	InputType    note.InputType `json:"input_type"`
	MoodType     *string        `json:"mood_type"`
	Inspirations int            `json:"inspirations"`
	Todos        int            `json:"todos"`
}

// NewRecordCreated builds the event for rec.
func NewRecordCreated(rec note.Record) RecordCreated {
	ev := RecordCreated{
		RecordID:     rec.RecordID,
		Timestamp:    rec.Timestamp,
		InputType:    rec.InputType,
		Inspirations: len(rec.ParsedData.Inspirations),
		Todos:        len(rec.ParsedData.Todos),
	}
	if rec.ParsedData.Mood != nil {
		ev.MoodType = rec.ParsedData.Mood.Type
	}
	return ev
}

// Publisher emits record events.
type Publisher interface {
	PublishRecordCreated(ctx context.Context, ev RecordCreated) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// PublishRecordCreated does nothing.
func (Nop) PublishRecordCreated(context.Context, RecordCreated) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }

// NATSPublisher publishes JSON events over a NATS connection.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	owned   bool
	logger  *logging.Logger
}

// NewNATSPublisher wraps an existing connection. The caller keeps ownership
// of nc.
func NewNATSPublisher(nc *nats.Conn, subject string, logger *logging.Logger) (*NATSPublisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection required")
	}
	if subject == "" {
		return nil, errors.New("event subject required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger.Named("events")}, nil
}

// New returns a NATS publisher when events are enabled and Nop otherwise.
func New(ctx context.Context, cfg config.EventsConfig, logger *logging.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("voicenote"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(ctx, "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(ctx, "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	p, err := NewNATSPublisher(nc, cfg.Subject, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	logger.Info(ctx, "connected to NATS",
		zap.String("url", cfg.URL),
		zap.String("subject", cfg.Subject),
	)
	return p, nil
}

// PublishRecordCreated publishes ev to the configured subject.
func (p *NATSPublisher) PublishRecordCreated(ctx context.Context, ev RecordCreated) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal record event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish record event: %w", err)
	}
	p.logger.Debug(ctx, "record event published",
		zap.String("subject", p.subject),
		zap.String("record_id", ev.RecordID),
	)
	return nil
}

// Close flushes pending messages and, when the publisher opened the
// connection, closes it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
