package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"identitysync/internal/identity"
)

const (
	// StreamName is the JetStream stream holding user change events.
	StreamName    = "IDENTITY"
	subjectPrefix = "identity.user."
)

type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher implements identity.Publisher on top of JetStream.
type Publisher struct {
	nc      *nats.Conn
	js      streamPublisher
	source  string
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Connect dials NATS, ensures the IDENTITY stream exists and returns a
// Publisher for it.
func Connect(ctx context.Context, natsURL, source string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL, nats.Name(source))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil && logger != nil {
		logger.Warn("failed to create IDENTITY stream (may already exist)", "error", err)
	}

	p := newPublisher(js, source, logger)
	p.nc = nc
	return p, nil
}

func newPublisher(js streamPublisher, source string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{
		js:      js,
		source:  source,
		timeout: 5 * time.Second,
		now:     time.Now,
		logger:  logger,
	}
}

// Close closes the NATS connection dialed by Connect.
func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// Subject returns the subject a change is published on.
func Subject(subjectID string, outcome identity.Outcome) string {
	return subjectPrefix + subjectToken(subjectID) + "." + string(outcome)
}

// NATS subject tokens may not contain separators or wildcards.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// PublishChange implements identity.Publisher.
func (p *Publisher) PublishChange(ctx context.Context, change identity.Change) error {
	eventID := uuid.NewString()
	event := UserChanged{
		Metadata: EventMetadata{
			EventID:   eventID,
			EntityID:  change.User.ID.String(),
			Timestamp: p.now().Unix(),
			Source:    p.source,
		},
		Kind:      string(change.Kind),
		Outcome:   string(change.Outcome),
		SubjectID: change.SubjectID,
		UserID:    change.User.ID.String(),
		Email:     change.User.Email,
		Name:      deref(change.User.Name),
		Image:     deref(change.User.Image),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	subject := Subject(change.SubjectID, change.Outcome)
	if _, err := p.js.Publish(pubCtx, subject, data, jetstream.WithMsgID(eventID)); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	p.logger.Debug("published event", "subject", subject, "event_id", eventID)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
