package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/edst"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix when none is configured
const DefaultSubject = "edst"

// Subject suffixes
const (
	SuffixUpsert = "upsert"
	SuffixRemove = "remove"
	SuffixPass   = "pass"
)

// Publisher sends raw payloads to a subject
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Removal is the payload published when a record is evicted
type Removal struct {
	Callsign string `json:"callsign"`
}

// Options configure a NATS notifier
type Options struct {
	URL     string
	Subject string
	// Stream, when set, publishes through a JetStream stream of that name
	// covering <subject>.>
	Stream string
	MaxAge time.Duration
}

// Notifier publishes EDST record changes to NATS
type Notifier struct {
	conn      *nats.Conn
	publisher Publisher
	subject   string
	logger    *logger.Logger
}

type jetStreamPublisher struct {
	js nats.JetStreamContext
}

func (p jetStreamPublisher) Publish(subject string, data []byte) error {
	_, err := p.js.Publish(subject, data)
	return err
}

// New connects to NATS and returns a notifier
func New(opts Options, log *logger.Logger) (*Notifier, error) {
	nc, err := nats.Connect(opts.URL,
		nats.Name("vatsim-edst-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	subject := opts.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	var publisher Publisher = nc
	if opts.Stream != "" {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		maxAge := opts.MaxAge
		if maxAge <= 0 {
			maxAge = time.Hour
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     opts.Stream,
			Subjects: []string{subject + ".>"},
			Storage:  nats.FileStorage,
			MaxAge:   maxAge,
		})
		if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
		publisher = jetStreamPublisher{js: js}
	}

	n := NewWithPublisher(publisher, subject, log)
	n.conn = nc
	return n, nil
}

// NewWithPublisher creates a notifier over an existing publisher
func NewWithPublisher(publisher Publisher, subject string, log *logger.Logger) *Notifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Notifier{
		publisher: publisher,
		subject:   subject,
		logger:    log.Named("nats"),
	}
}

// Close drains and closes the NATS connection
func (n *Notifier) Close() {
	if n.conn != nil {
		if err := n.conn.Drain(); err != nil {
			n.conn.Close()
		}
	}
}

// Subject returns the full subject for a suffix
func (n *Notifier) Subject(suffix string) string {
	return n.subject + "." + suffix
}

func (n *Notifier) publish(suffix string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := n.publisher.Publish(n.Subject(suffix), data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishUpdates publishes each record to <subject>.upsert
func (n *Notifier) PublishUpdates(records []*edst.Record) {
	for _, rec := range records {
		if err := n.publish(SuffixUpsert, rec); err != nil {
			n.logger.Warn("Failed to publish record",
				logger.String("callsign", rec.Callsign),
				logger.Error(err))
		}
	}
}

// PublishRemovals publishes each evicted callsign to <subject>.remove
func (n *Notifier) PublishRemovals(callsigns []string) {
	for _, cs := range callsigns {
		if err := n.publish(SuffixRemove, Removal{Callsign: cs}); err != nil {
			n.logger.Warn("Failed to publish removal",
				logger.String("callsign", cs),
				logger.Error(err))
		}
	}
}

// PublishPass publishes the pass summary to <subject>.pass
func (n *Notifier) PublishPass(summary edst.PassSummary) {
	if err := n.publish(SuffixPass, summary); err != nil {
		n.logger.Warn("Failed to publish pass summary",
			logger.String("pass_id", summary.ID),
			logger.Error(err))
	}
}
