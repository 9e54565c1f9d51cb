package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/metrics"
)

// Message is the payload delivered to every publisher.
type Message struct {
	CameraID  string         `json:"camera_id"`
	Alerts    []domain.Alert `json:"alerts"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher delivers the alerts of one frame. Publishing happens after the
// frame's writes are durable; a failure is reported but never undoes them.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}

// =============================================================================
// Fan-out
// =============================================================================

// MultiPublisher hands each message to every publisher in order. One
// failing publisher does not stop the others.
type MultiPublisher struct {
	publishers []Publisher
	logger     *slog.Logger
}

// NewMultiPublisher creates a MultiPublisher. Nil publishers are skipped.
func NewMultiPublisher(logger *slog.Logger, publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{logger: logger.With("component", "alert_publisher")}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

func (m *MultiPublisher) Name() string { return "multi" }

// Publish delivers msg to every publisher and joins their errors. Empty
// alert lists are not published.
func (m *MultiPublisher) Publish(ctx context.Context, msg Message) error {
	if len(msg.Alerts) == 0 {
		return nil
	}

	var errs []error
	for _, p := range m.publishers {
		err := p.Publish(ctx, msg)
		metrics.AlertPublished(p.Name(), err)
		if err != nil {
			m.logger.Warn("failed to publish alerts",
				"publisher", p.Name(),
				"camera_id", msg.CameraID,
				"alerts", len(msg.Alerts),
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		m.logger.Debug("alerts published",
			"publisher", p.Name(),
			"camera_id", msg.CameraID,
			"alerts", len(msg.Alerts),
		)
	}
	return errors.Join(errs...)
}

// NopPublisher discards every message.
type NopPublisher struct{}

func (NopPublisher) Name() string                           { return "nop" }
func (NopPublisher) Publish(context.Context, Message) error { return nil }
