// Package uplink turns TTN uplink notifications into Trap.NZ sensor records.
package uplink

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/devices"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/events"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/metrics"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/models"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/validation"
	"github.com/lorawan-server/ttn-trapnz-bridge/pkg/lorawan"
)

// TrapFPort is the only frame port carrying trap payloads
const TrapFPort = 1

// Outcome names how a notification left the pipeline
type Outcome string

const (
	OutcomeInvalidNotification Outcome = "invalid_notification"
	OutcomeIgnoredPort         Outcome = "ignored_port"
	OutcomeMissingPayload      Outcome = "missing_payload"
	OutcomeUndecodable         Outcome = "undecodable"
	OutcomeUnknownDevice       Outcome = "unknown_device"
	OutcomeDirectoryError      Outcome = "directory_error"
	OutcomeForwardFailed       Outcome = "forward_failed"
	OutcomeForwarded           Outcome = "forwarded"
)

// Result is the HTTP status to answer the webhook with and the outcome behind it
type Result struct {
	Status  int
	Outcome Outcome
}

func result(status int, outcome Outcome) Result {
	return Result{Status: status, Outcome: outcome}
}

// DeviceResolver maps a DevEUI to its Trap.NZ device
type DeviceResolver interface {
	Resolve(ctx context.Context, devEUI string) (models.Device, error)
}

// Authorizer supplies the Authorization header for Trap.NZ calls
type Authorizer interface {
	Authorization(ctx context.Context) string
	Invalidate()
}

// RecordSender creates sensor records in Trap.NZ
type RecordSender interface {
	CreateSensorRecord(ctx context.Context, record models.SensorRecord, authorization string) (int, error)
}

// EventPublisher mirrors forwarded records
type EventPublisher interface {
	Publish(ctx context.Context, r events.Record) error
}

// Processor runs the ingestion pipeline for one notification at a time.
// It holds no per-request state and is safe for concurrent use.
type Processor struct {
	validator *validation.Validator
	devices   DeviceResolver
	auth      Authorizer
	records   RecordSender
	events    EventPublisher
	now       func() time.Time
}

// Option configures a Processor
type Option func(*Processor)

// WithEvents mirrors every forwarded record to p
func WithEvents(p EventPublisher) Option {
	return func(proc *Processor) {
		proc.events = p
	}
}

// WithClock replaces time.Now for record dates
func WithClock(now func() time.Time) Option {
	return func(proc *Processor) {
		proc.now = now
	}
}

// NewProcessor creates the ingestion pipeline
func NewProcessor(v *validation.Validator, resolver DeviceResolver, auth Authorizer, records RecordSender, opts ...Option) *Processor {
	p := &Processor{
		validator: v,
		devices:   resolver,
		auth:      auth,
		records:   records,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Process handles a raw notification body and reports the status to answer with.
// Failures are reported through the status, never as errors.
func (p *Processor) Process(ctx context.Context, body []byte) Result {
	start := time.Now()
	res := p.process(ctx, body)

	metrics.Uplinks.WithLabelValues(string(res.Outcome)).Inc()
	metrics.UplinkDuration.Observe(time.Since(start).Seconds())

	return res
}

func (p *Processor) process(ctx context.Context, body []byte) Result {
	logger := zerolog.Ctx(ctx)

	var n models.UplinkNotification
	if err := p.validator.DecodeJSON(body, &n); err != nil {
		logger.Info().Err(err).Msg("Failed to parse body")
		return result(http.StatusNoContent, OutcomeInvalidNotification)
	}

	devEUI := *n.EndDeviceIDs.DevEUI
	l := logger.With().Str("devEUI", devEUI).Logger()
	logger = &l
	ctx = logger.WithContext(ctx)

	msg := n.UplinkMessage
	logger.Info().
		Str("deviceID", n.EndDeviceIDs.DeviceID).
		Int("rxMetadata", len(msg.RxMetadata)).
		Msg("Received uplink message")

	if msg.FPort == nil || *msg.FPort != TrapFPort {
		ev := logger.Info()
		if msg.FPort != nil {
			ev = ev.Int("fPort", *msg.FPort)
		}
		ev.Msg("Uplink message for unknown port, discarding")
		return result(http.StatusOK, OutcomeIgnoredPort)
	}

	strongest := StrongestRxMetadata(msg.RxMetadata)

	if msg.FRMPayload == nil {
		logger.Warn().Msg("Received uplink message with no payload")
		return result(http.StatusUnprocessableEntity, OutcomeMissingPayload)
	}

	raw, err := base64.StdEncoding.DecodeString(*msg.FRMPayload)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to decode uplink message")
		return result(http.StatusUnprocessableEntity, OutcomeUndecodable)
	}

	decoded := lorawan.DecodeTrapUplink(lorawan.EncodedUplink{Bytes: raw, FPort: *msg.FPort})
	if !decoded.OK() {
		logger.Error().Strs("decodeErrors", decoded.Errors).Msg("Failed to decode uplink message")
		return result(http.StatusUnprocessableEntity, OutcomeUndecodable)
	}
	data := decoded.Data

	logger.Info().
		Str("event", string(data.Event)).
		Str("status", string(data.Status)).
		Float64("battery", data.Battery).
		Msg("Locally decoded payload")

	if msg.HasDecodedPayload() {
		p.crossCheck(ctx, msg.DecodedPayload, data)
	}

	device, err := p.devices.Resolve(ctx, devEUI)
	if errors.Is(err, devices.ErrNotFound) {
		logger.Warn().Msg("Unknown DevEUI")
		return result(http.StatusNotFound, OutcomeUnknownDevice)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read device directory")
		return result(http.StatusInternalServerError, OutcomeDirectoryError)
	}

	record := models.SensorRecord{
		SensorID:       device.TrapNZID,
		Date:           models.FormatRecordDate(p.now()),
		Event:          data.Event,
		Status:         data.Status,
		Network:        models.NetworkTTN,
		Gateway:        strongest.GatewayIDs.GatewayID,
		RSSI:           derefFloat(strongest.RSSI),
		Sequence:       msg.FCnt,
		BatteryVoltage: data.Battery,
		SNR:            derefFloat(strongest.SNR),
		Timeout:        device.Timeout,
	}

	if !p.forward(ctx, record) {
		return result(http.StatusNoContent, OutcomeForwardFailed)
	}

	if p.events != nil {
		// Failures are logged by the publisher and never change the response
		_ = p.events.Publish(ctx, events.NewRecord(devEUI, record, p.now()))
	}

	return result(http.StatusNoContent, OutcomeForwarded)
}

// forward sends the record to Trap.NZ and reports whether it was created
func (p *Processor) forward(ctx context.Context, record models.SensorRecord) bool {
	logger := zerolog.Ctx(ctx)

	status, err := p.records.CreateSensorRecord(ctx, record, p.auth.Authorization(ctx))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create sensor record")
		return false
	}

	if status == http.StatusUnauthorized {
		// Let the next request acquire a fresh token
		p.auth.Invalidate()
	}

	if status != http.StatusCreated {
		logger.Error().Int("status", status).Str("sensorID", record.SensorID).Msg("Failed to create sensor record")
		return false
	}

	logger.Info().Str("sensorID", record.SensorID).Msg("Created sensor record")
	return true
}

// crossCheck compares the network decoded payload with the local decode. It only logs.
func (p *Processor) crossCheck(ctx context.Context, provided json.RawMessage, local *lorawan.TrapData) {
	logger := zerolog.Ctx(ctx)

	logger.Info().RawJSON("providedDecodedPayload", provided).Msg("A decoded payload was provided from the network server")

	var remote models.DecodedTrapPayload
	if err := p.validator.DecodeJSON(provided, &remote); err != nil {
		logger.Warn().Err(err).Msg("The provided decoded payload does not match our schema")
		return
	}

	if *remote.Event != string(local.Event) ||
		*remote.Status != string(local.Status) ||
		*remote.Battery != local.Battery {
		metrics.PayloadMismatches.Inc()
		logger.Warn().Msg("The provided decoded payload does not match our locally decoded payload")
	}
}

// StrongestRxMetadata returns the entry with the greatest SNR.
// Ties keep the earliest entry. rx must not be empty.
func StrongestRxMetadata(rx []models.RxMetadata) models.RxMetadata {
	best := rx[0]
	for _, cur := range rx[1:] {
		if derefFloat(cur.SNR) > derefFloat(best.SNR) {
			best = cur
		}
	}
	return best
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
