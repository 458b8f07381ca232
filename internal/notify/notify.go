// Package notify publishes run outcomes and companion lifecycle changes to
// NATS as JSON messages.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/indexwatch/internal/daemon/events"
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/indexwatch/internal/logfields"
)

// CompanionSuffix is appended to the base subject for companion state changes.
const CompanionSuffix = ".companion"

var (
	// ErrConnectFailed indicates the NATS server could not be reached.
	ErrConnectFailed = ferrors.NetworkError("failed to connect to NATS").Build()
	// ErrPublishFailed indicates a message could not be published.
	ErrPublishFailed = ferrors.NetworkError("failed to publish notification").Build()
)

// Publisher delivers events to an external subscriber.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
	Close() error
}

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes events on core NATS subjects.
type NATSPublisher struct {
	conn    conn
	subject string
}

// Connect dials the NATS server at url. Runs go to subject and companion
// state changes to subject+CompanionSuffix.
func Connect(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("indexwatch"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", url).
			Build()
	}

	slog.Info("NATS notifier connected",
		slog.String("url", url),
		slog.String("subject", subject))

	return newNATSPublisher(nc, subject), nil
}

func newNATSPublisher(c conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: c, subject: subject}
}

// SubjectFor returns the subject an event is published on.
func (p *NATSPublisher) SubjectFor(evt events.Event) string {
	if _, ok := evt.(events.CompanionStateChanged); ok {
		return p.subject + CompanionSuffix
	}
	return p.subject
}

// Publish marshals evt and publishes it, then flushes so delivery failures
// surface before ctx ends.
func (p *NATSPublisher) Publish(ctx context.Context, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal notification").
			WithContext("event", evt.EventName()).
			Build()
	}

	subject := p.SubjectFor(evt)
	if err := p.conn.Publish(subject, data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to publish notification").
			WithContext("subject", subject).
			Build()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to publish notification").
			WithContext("subject", subject).
			Build()
	}

	slog.Debug("Published notification",
		slog.String("subject", subject),
		slog.String("event", evt.EventName()))
	return nil
}

// Close drains nothing and closes the connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, events.Event) error { return nil }
func (Noop) Close() error                                { return nil }
