// Package messaging publishes job lifecycle events.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/config"
	"embeddingjob/internal/port/outbound"

	"github.com/nats-io/nats.go"
)

const (
	// NATS connection timeout.
	natsConnectionTimeoutSeconds = 5

	// StageSubjectSuffix is appended to the subject prefix for stage events.
	StageSubjectSuffix = ".stage"
)

// PublisherMetrics tracks publishing outcomes.
type PublisherMetrics struct {
	PublishedCount    int64     `json:"published_count"`
	FailedCount       int64     `json:"failed_count"`
	Reconnects        int       `json:"reconnects"`
	LastPublishedTime time.Time `json:"last_published_time"`
}

// NATSStagePublisher publishes stage change events over core NATS.
type NATSStagePublisher struct {
	config  config.NATSConfig
	subject string

	mutex   sync.RWMutex
	conn    *nats.Conn
	metrics PublisherMetrics
}

// NewNATSStagePublisher validates cfg and creates an unconnected publisher.
func NewNATSStagePublisher(cfg config.NATSConfig) (*NATSStagePublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL cannot be empty")
	}
	if !strings.HasPrefix(cfg.URL, "nats://") && !strings.HasPrefix(cfg.URL, "tls://") {
		return nil, errors.New("invalid NATS URL scheme")
	}
	if cfg.MaxReconnects < 0 {
		return nil, errors.New("max reconnects cannot be negative")
	}
	if cfg.ReconnectWait < 0 {
		return nil, errors.New("reconnect wait cannot be negative")
	}
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		return nil, errors.New("subject prefix cannot be empty")
	}

	return &NATSStagePublisher{
		config:  cfg,
		subject: prefix + StageSubjectSuffix,
	}, nil
}

// Subject returns the subject stage events are published on.
func (n *NATSStagePublisher) Subject() string {
	return n.subject
}

// Connect creates the NATS connection. An unreachable server is not an error:
// the client keeps retrying in the background and Probe reports it down.
func (n *NATSStagePublisher) Connect() error {
	opts := []nats.Option{
		nats.Name("embedjob"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(n.config.MaxReconnects),
		nats.ReconnectWait(n.config.ReconnectWait),
		nats.Timeout(natsConnectionTimeoutSeconds * time.Second),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			n.mutex.Lock()
			n.metrics.Reconnects++
			n.mutex.Unlock()
			slogger.InfoNoCtx("Reconnected to NATS", slogger.Fields{"url": n.config.URL})
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slogger.WarnNoCtx("Disconnected from NATS", slogger.Fields{"error": err.Error()})
			}
		}),
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n.mutex.Lock()
	n.conn = conn
	n.mutex.Unlock()
	return nil
}

// Disconnect flushes pending messages and closes the connection.
func (n *NATSStagePublisher) Disconnect() error {
	n.mutex.Lock()
	conn := n.conn
	n.conn = nil
	n.mutex.Unlock()

	if conn == nil {
		return nil
	}
	if !conn.IsConnected() {
		conn.Close()
		return nil
	}
	return conn.Drain()
}

// Probe reports whether the connection is up.
func (n *NATSStagePublisher) Probe(_ context.Context) error {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	if n.conn == nil || !n.conn.IsConnected() {
		return errors.New("not connected to NATS")
	}
	return nil
}

// PublishStageChanged publishes the event as JSON.
func (n *NATSStagePublisher) PublishStageChanged(ctx context.Context, event outbound.JobStageChangedEvent) error {
	if err := ctx.Err(); err != nil {
		n.record(false)
		return err
	}

	n.mutex.RLock()
	conn := n.conn
	n.mutex.RUnlock()
	if conn == nil {
		n.record(false)
		return errors.New("not connected to NATS")
	}

	data, err := json.Marshal(event)
	if err != nil {
		n.record(false)
		return fmt.Errorf("failed to marshal stage event: %w", err)
	}
	if err := conn.Publish(n.subject, data); err != nil {
		n.record(false)
		return fmt.Errorf("failed to publish stage event: %w", err)
	}

	n.record(true)
	return nil
}

// Metrics returns a copy of the publishing counters.
func (n *NATSStagePublisher) Metrics() PublisherMetrics {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.metrics
}

func (n *NATSStagePublisher) record(success bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if success {
		n.metrics.PublishedCount++
		n.metrics.LastPublishedTime = time.Now()
		return
	}
	n.metrics.FailedCount++
}
