package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/telemetry"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const JobsChangedSubject = "jobs.changed"

var tracer = telemetry.GetTracer("jobtracker/events")

type ChangeType string

const (
	Created ChangeType = "created"
	Updated ChangeType = "updated"
	Deleted ChangeType = "deleted"
)

// Change is published after every committed write to the job store.
type Change struct {
	Type ChangeType `json:"type"`
	ID   int64      `json:"id"`
	At   time.Time  `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Nop drops every change. It is used when NATS_URL is unset.
type Nop struct{}

func (Nop) Publish(context.Context, Change) error { return nil }

// Connect dials NATS with the reconnect policy shared by the server and jobctl.
func Connect(url, name string, timeout time.Duration) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return nc, nil
}

type NATSPublisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

func NewNATSPublisher(nc *nats.Conn, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, logger: logger}
}

func (p *NATSPublisher) Publish(ctx context.Context, change Change) error {
	_, span := tracer.Start(ctx, "PublishJobChange")
	defer span.End()

	data, err := json.Marshal(change)
	if err != nil {
		telemetry.RecordError(span, err)
		return errors.Internal("marshaling job change", err)
	}

	span.SetAttributes(
		telemetry.String("nats.subject", JobsChangedSubject),
		telemetry.String("change.type", string(change.Type)),
		telemetry.Int64("job.id", change.ID),
	)

	if err := p.nc.Publish(JobsChangedSubject, data); err != nil {
		telemetry.RecordError(span, err)
		p.logger.Error("failed to publish job change",
			zap.Int64("id", change.ID),
			zap.Error(err))
		return errors.Internal("publishing to NATS", err)
	}

	p.logger.Debug("published job change",
		zap.String("type", string(change.Type)),
		zap.Int64("id", change.ID))
	return nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// Decode parses a jobs.changed payload.
func Decode(data []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return Change{}, fmt.Errorf("decode job change: %w", err)
	}
	switch c.Type {
	case Created, Updated, Deleted:
		return c, nil
	}
	return Change{}, fmt.Errorf("decode job change: unknown type %q", c.Type)
}

// MsgHandler adapts fn to a NATS callback. Malformed messages are logged
// and skipped.
func MsgHandler(logger *zap.Logger, fn func(Change)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		change, err := Decode(msg.Data)
		if err != nil {
			logger.Warn("ignoring job change", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		fn(change)
	}
}

// Subscribe calls fn for every change published on JobsChangedSubject.
func Subscribe(nc *nats.Conn, logger *zap.Logger, fn func(Change)) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(JobsChangedSubject, MsgHandler(logger, fn))
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", JobsChangedSubject, err)
	}
	return sub, nil
}
