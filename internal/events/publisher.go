// Package events publishes the scheduler's progress records and the
// alerts its monitor rules raise onto NATS JetStream, so an operator console (or
// any other subscriber) can follow a batch run without polling
// GET /tasks/{id} or GET /monitor/alerts.
//
// Grounded on the teacher's packages/go-core/natsclient (Client wrapping a
// *nats.Conn + JetStream context, Drain-on-close, idempotent stream
// provisioning), repurposed from the teacher's generic DOMAIN_EVENTS outbox
// stream to a DISCOVERY subject family.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamDiscovery is the durable JetStream stream carrying every
	// progress and alert event this system emits.
	StreamDiscovery = "DISCOVERY"
	// SubjectProgress is the wildcard subject C9 progress records publish
	// under, one subject per task: DISCOVERY.progress.<task_id>.
	SubjectProgress = "DISCOVERY.progress.>"
	// SubjectAlerts is the wildcard subject alert events publish under,
	// one subject per drug: DISCOVERY.alerts.<drug_id>.
	SubjectAlerts = "DISCOVERY.alerts.>"
)

var streamSubjects = []string{SubjectProgress, SubjectAlerts}

// Publisher wraps a NATS connection and JetStream context.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *zap.Logger
}

// Connect dials url and initializes a JetStream context. A connection
// failure here is non-fatal for the caller to decide: the scheduler and
// analytics layer work fine with a nil *Publisher, simply not emitting
// events (see Publisher's nil-receiver methods below).
func Connect(url string, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("events: connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: init JetStream: %w", err)
	}

	logger.Info("NATS JetStream connected", zap.String("url", url))
	return &Publisher{conn: nc, js: js, log: logger}, nil
}

// ProvisionStreams idempotently ensures the DISCOVERY stream exists with
// the progress/alerts subject filters.
func (p *Publisher) ProvisionStreams() error {
	if p == nil {
		return nil
	}

	_, err := p.js.StreamInfo(StreamDiscovery)
	if err == nil {
		p.log.Info("NATS stream already exists", zap.String("stream", StreamDiscovery))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("events: stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamDiscovery,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}
	if _, err := p.js.AddStream(cfg); err != nil {
		return fmt.Errorf("events: create stream: %w", err)
	}

	p.log.Info("NATS stream provisioned",
		zap.String("stream", StreamDiscovery), zap.Strings("subjects", streamSubjects))
	return nil
}

// ProgressEvent mirrors internal/scheduler.ProgressEvent; duplicated here
// rather than imported to keep internal/events free of a dependency on
// internal/scheduler (neither package imports the other; cmd/server
// adapts between the two).
type ProgressEvent struct {
	TaskID  string `json:"task_id"`
	Keyword string `json:"keyword"`
	Phase   string `json:"phase"`
	OK      bool   `json:"ok"`
	Items   int    `json:"items"`
}

// PublishProgress publishes ev on DISCOVERY.progress.<task_id>. A nil
// receiver (no NATS configured) is a deliberate no-op so callers do not
// need to guard every call site with a feature flag.
func (p *Publisher) PublishProgress(ev ProgressEvent) {
	if p == nil {
		return
	}
	p.publish(fmt.Sprintf("DISCOVERY.progress.%s", ev.TaskID), ev)
}

// AlertEvent mirrors the fields of a store.Alert, decoupled from the store
// package for the same reason as ProgressEvent.
type AlertEvent struct {
	ID        string `json:"id"`
	RuleID    string `json:"rule_id"`
	DrugID    string `json:"drug_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// PublishAlert publishes ev on DISCOVERY.alerts.<drug_id>.
func (p *Publisher) PublishAlert(ev AlertEvent) {
	if p == nil {
		return
	}
	p.publish(fmt.Sprintf("DISCOVERY.alerts.%s", ev.DrugID), ev)
}

func (p *Publisher) publish(subject string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("events: failed to marshal payload", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := p.js.Publish(subject, raw); err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains and closes the underlying connection. Draining flushes any
// pending JetStream publish acknowledgments before the connection closes,
// rather than dropping in-flight messages the way Close() alone would.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
