// Package events mirrors forwarded sensor records to message transports.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/metrics"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/models"
)

// Record is the event published for every sensor record accepted by Trap.NZ
type Record struct {
	ID          string              `json:"id"`
	DevEUI      string              `json:"dev_eui"`
	ForwardedAt time.Time           `json:"forwarded_at"`
	Record      models.SensorRecord `json:"record"`
}

// NewRecord wraps a sensor record in an event with a fresh id
func NewRecord(devEUI string, record models.SensorRecord, now time.Time) Record {
	return Record{
		ID:          uuid.New().String(),
		DevEUI:      devEUI,
		ForwardedAt: now.UTC(),
		Record:      record,
	}
}

// Publisher sends record events to one transport
type Publisher interface {
	Publish(ctx context.Context, r Record) error
	Close() error
}

type transport struct {
	name      string
	publisher Publisher
}

// Mirror publishes each record to every registered transport.
// The zero value has no transports and publishes nothing.
type Mirror struct {
	transports []transport
}

// NewMirror creates an empty mirror
func NewMirror() *Mirror {
	return &Mirror{}
}

// Add registers a publisher under a transport name used in logs and metrics
func (m *Mirror) Add(name string, p Publisher) {
	m.transports = append(m.transports, transport{name: name, publisher: p})
}

// Len returns the number of registered transports
func (m *Mirror) Len() int {
	return len(m.transports)
}

// Publish sends r to every transport. Every transport is attempted; the
// failures are joined into the returned error.
func (m *Mirror) Publish(ctx context.Context, r Record) error {
	logger := zerolog.Ctx(ctx)

	var errs []error
	for _, t := range m.transports {
		if err := t.publisher.Publish(ctx, r); err != nil {
			metrics.EventPublishes.WithLabelValues(t.name, "failure").Inc()
			logger.Error().
				Err(err).
				Str("transport", t.name).
				Str("devEUI", r.DevEUI).
				Msg("Failed to publish record event")
			errs = append(errs, err)
			continue
		}
		metrics.EventPublishes.WithLabelValues(t.name, "success").Inc()
		logger.Debug().
			Str("transport", t.name).
			Str("eventID", r.ID).
			Msg("Record event published")
	}

	return errors.Join(errs...)
}

// Close closes every transport
func (m *Mirror) Close() error {
	var errs []error
	for _, t := range m.transports {
		if err := t.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
