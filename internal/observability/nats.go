package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
)

const publishTimeout = 5 * time.Second

// NATSPublisher forwards lifecycle events to a JetStream subject derived
// from the event name: {prefix}.{event.Name}. Publish failures are logged
// and dropped; lifecycle events never fail the pipelines that emit them.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	prefix  string
	logger  *slog.Logger
}

func NewNATSPublisher(url, subjectPrefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CategoryConfig, gerrors.SeverityFatal, "connect to NATS")
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, gerrors.Wrap(err, gerrors.CategoryConfig, gerrors.SeverityFatal, "create JetStream context")
	}
	logger.Info("lifecycle event publisher connected",
		logfields.Component("lifecycle"),
		logfields.URL(url),
		slog.String("subject_prefix", subjectPrefix),
	)
	return &NATSPublisher{
		conn:   conn,
		js:     js,
		prefix: subjectPrefix,
		logger: logger.With(logfields.Component("lifecycle")),
	}, nil
}

func (p *NATSPublisher) Emit(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event = NewEvent(event.Name, event.Fields)
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("marshal lifecycle event", logfields.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if _, err := p.js.Publish(ctx, p.prefix+"."+event.Name, data); err != nil {
		p.logger.Warn("publish lifecycle event",
			slog.String("event", event.Name),
			logfields.Error(err),
		)
	}
}

// Close drains the underlying connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
