package uplink_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/devices"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/events"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/models"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/uplink"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/validation"
	"github.com/lorawan-server/ttn-trapnz-bridge/pkg/lorawan"
)

const devEUI = "0004A30B001C0530"

type resolverStub struct {
	devices map[string]models.Device
	err     error
}

func (r *resolverStub) Resolve(ctx context.Context, eui string) (models.Device, error) {
	if r.err != nil {
		return models.Device{}, r.err
	}
	d, ok := r.devices[eui]
	if !ok {
		return models.Device{}, devices.ErrNotFound
	}
	return d, nil
}

type authStub struct {
	mu          sync.Mutex
	header      string
	invalidated int
}

func (a *authStub) Authorization(ctx context.Context) string {
	return a.header
}

func (a *authStub) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidated++
}

type sentRecord struct {
	record        models.SensorRecord
	authorization string
}

type senderStub struct {
	mu     sync.Mutex
	sent   []sentRecord
	status int
	err    error
}

func (s *senderStub) CreateSensorRecord(ctx context.Context, record models.SensorRecord, authorization string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentRecord{record: record, authorization: authorization})
	return s.status, s.err
}

type eventsStub struct {
	published []events.Record
	err       error
}

func (e *eventsStub) Publish(ctx context.Context, r events.Record) error {
	e.published = append(e.published, r)
	return e.err
}

type fixture struct {
	processor *uplink.Processor
	resolver  *resolverStub
	auth      *authStub
	sender    *senderStub
	events    *eventsStub
	logs      *bytes.Buffer
}

var fixedNow = time.Date(2024, 5, 1, 12, 30, 15, 123_000_000, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		resolver: &resolverStub{devices: map[string]models.Device{
			devEUI: {DevEUI: devEUI, TrapNZID: "trap-42", Timeout: 60},
		}},
		auth:   &authStub{header: "Bearer abc"},
		sender: &senderStub{status: http.StatusCreated},
		events: &eventsStub{},
		logs:   &bytes.Buffer{},
	}
	f.processor = uplink.NewProcessor(validation.NewValidator(), f.resolver, f.auth, f.sender,
		uplink.WithEvents(f.events),
		uplink.WithClock(func() time.Time { return fixedNow }),
	)
	return f
}

func (f *fixture) process(body string) uplink.Result {
	logger := zerolog.New(f.logs)
	return f.processor.Process(logger.WithContext(context.Background()), []byte(body))
}

// notification builds a body with the given uplink_message members
func notification(members string) string {
	return fmt.Sprintf(`{"end_device_ids": {"device_id": "trap-1", "dev_eui": %q}, "uplink_message": {%s}}`, devEUI, members)
}

const oneGateway = `"rx_metadata": [{"gateway_ids": {"gateway_id": "gtw1"}, "rssi": -35, "snr": 5.2}]`

// Q+g= is event Set, status Sprung, battery 1.1
var wellFormed = notification(`"f_port": 1, "f_cnt": 12, "frm_payload": "Q+g=", ` + oneGateway)

func TestProcessForwardsRecord(t *testing.T) {
	f := newFixture()

	res := f.process(wellFormed)
	assert.Equal(t, uplink.Result{Status: http.StatusNoContent, Outcome: uplink.OutcomeForwarded}, res)

	require.Len(t, f.sender.sent, 1)
	seq := 12
	assert.Equal(t, models.SensorRecord{
		SensorID:       "trap-42",
		Date:           "2024-05-01T12:30:15.123Z",
		Event:          lorawan.EventSet,
		Status:         lorawan.StatusSprung,
		Network:        "TTN",
		Gateway:        "gtw1",
		RSSI:           -35,
		Sequence:       &seq,
		BatteryVoltage: 1.1,
		SNR:            5.2,
		Timeout:        60,
	}, f.sender.sent[0].record)
	assert.Equal(t, "Bearer abc", f.sender.sent[0].authorization)

	require.Len(t, f.events.published, 1)
	assert.Equal(t, devEUI, f.events.published[0].DevEUI)
	assert.Equal(t, "trap-42", f.events.published[0].Record.SensorID)
}

func TestProcessStatusCodes(t *testing.T) {
	cases := []struct {
		desc    string
		body    string
		status  int
		outcome uplink.Outcome
	}{
		{
			desc:    "empty body",
			body:    "",
			status:  http.StatusNoContent,
			outcome: uplink.OutcomeInvalidNotification,
		},
		{
			desc:    "not a notification",
			body:    `{"hello": "world"}`,
			status:  http.StatusNoContent,
			outcome: uplink.OutcomeInvalidNotification,
		},
		{
			desc:    "empty rx metadata",
			body:    notification(`"f_port": 1, "frm_payload": "Q+g=", "rx_metadata": []`),
			status:  http.StatusNoContent,
			outcome: uplink.OutcomeInvalidNotification,
		},
		{
			desc:    "other port",
			body:    notification(`"f_port": 2, "frm_payload": "Q+g=", ` + oneGateway),
			status:  http.StatusOK,
			outcome: uplink.OutcomeIgnoredPort,
		},
		{
			desc:    "no port",
			body:    notification(`"frm_payload": "Q+g=", ` + oneGateway),
			status:  http.StatusOK,
			outcome: uplink.OutcomeIgnoredPort,
		},
		{
			desc:    "missing payload",
			body:    notification(`"f_port": 1, ` + oneGateway),
			status:  http.StatusUnprocessableEntity,
			outcome: uplink.OutcomeMissingPayload,
		},
		{
			desc:    "invalid base64",
			body:    notification(`"f_port": 1, "frm_payload": "!!", ` + oneGateway),
			status:  http.StatusUnprocessableEntity,
			outcome: uplink.OutcomeUndecodable,
		},
		{
			desc:    "payload too short",
			body:    notification(`"f_port": 1, "frm_payload": "Qw==", ` + oneGateway),
			status:  http.StatusUnprocessableEntity,
			outcome: uplink.OutcomeUndecodable,
		},
		{
			desc:    "unknown event",
			body:    notification(`"f_port": 1, "frm_payload": "wAA=", ` + oneGateway),
			status:  http.StatusUnprocessableEntity,
			outcome: uplink.OutcomeUndecodable,
		},
		{
			desc:    "unknown device",
			body:    `{"end_device_ids": {"dev_eui": "FFFFFFFFFFFFFFFF"}, "uplink_message": {"f_port": 1, "frm_payload": "Q+g=", ` + oneGateway + `}}`,
			status:  http.StatusNotFound,
			outcome: uplink.OutcomeUnknownDevice,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture()
			res := f.process(tc.body)
			assert.Equal(t, tc.status, res.Status)
			assert.Equal(t, tc.outcome, res.Outcome)
			assert.Empty(t, f.sender.sent)
			assert.Empty(t, f.events.published)
		})
	}
}

func TestProcessEmptyDevEUIReachesResolver(t *testing.T) {
	f := newFixture()
	body := `{"end_device_ids": {"dev_eui": ""}, "uplink_message": {"f_port": 1, "frm_payload": "Q+g=", ` + oneGateway + `}}`

	res := f.process(body)
	assert.Equal(t, uplink.Result{Status: http.StatusNotFound, Outcome: uplink.OutcomeUnknownDevice}, res)

	f.resolver.devices[""] = models.Device{DevEUI: "", TrapNZID: "", Timeout: 60}
	res = f.process(body)
	assert.Equal(t, uplink.Result{Status: http.StatusNoContent, Outcome: uplink.OutcomeForwarded}, res)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "", f.sender.sent[0].record.SensorID)
}

func TestProcessDirectoryError(t *testing.T) {
	f := newFixture()
	f.resolver.err = errors.New("list devices: permission denied")

	res := f.process(wellFormed)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Equal(t, uplink.OutcomeDirectoryError, res.Outcome)
	assert.Empty(t, f.sender.sent)
}

func TestProcessForwardFailures(t *testing.T) {
	cases := []struct {
		desc        string
		status      int
		err         error
		invalidated int
	}{
		{desc: "server error", status: http.StatusInternalServerError},
		{desc: "ok instead of created", status: http.StatusOK},
		{desc: "transport error", err: errors.New("connection refused")},
		{desc: "unauthorized invalidates the token", status: http.StatusUnauthorized, invalidated: 1},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture()
			f.sender.status = tc.status
			f.sender.err = tc.err

			res := f.process(wellFormed)
			assert.Equal(t, http.StatusNoContent, res.Status)
			assert.Equal(t, uplink.OutcomeForwardFailed, res.Outcome)
			assert.Len(t, f.sender.sent, 1)
			assert.Empty(t, f.events.published)
			assert.Equal(t, tc.invalidated, f.auth.invalidated)
		})
	}
}

func TestProcessIgnoresEventPublishFailure(t *testing.T) {
	f := newFixture()
	f.events.err = errors.New("broker down")

	res := f.process(wellFormed)
	assert.Equal(t, http.StatusNoContent, res.Status)
	assert.Equal(t, uplink.OutcomeForwarded, res.Outcome)
}

func TestProcessWithoutSequence(t *testing.T) {
	f := newFixture()

	res := f.process(notification(`"f_port": 1, "frm_payload": "Q+g=", ` + oneGateway))
	assert.Equal(t, http.StatusNoContent, res.Status)
	require.Len(t, f.sender.sent, 1)
	assert.Nil(t, f.sender.sent[0].record.Sequence)
}

func TestProcessCrossCheckIsLogOnly(t *testing.T) {
	cases := []struct {
		desc    string
		decoded string
		warning string
	}{
		{
			desc:    "matching payload",
			decoded: `{"event": "Set", "status": "Sprung", "battery": 1.1}`,
		},
		{
			desc:    "null payload",
			decoded: `null`,
		},
		{
			desc:    "different status",
			decoded: `{"event": "Set", "status": "Set", "battery": 1.1}`,
			warning: "does not match our locally decoded payload",
		},
		{
			desc:    "different battery",
			decoded: `{"event": "Set", "status": "Sprung", "battery": 3.3}`,
			warning: "does not match our locally decoded payload",
		},
		{
			desc:    "invalid payload",
			decoded: `{"event": "Set", "status": "Heartbeat", "battery": 1.1}`,
			warning: "does not match our schema",
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture()
			body := notification(`"f_port": 1, "frm_payload": "Q+g=", "decoded_payload": ` + tc.decoded + `, ` + oneGateway)

			res := f.process(body)
			assert.Equal(t, http.StatusNoContent, res.Status)
			assert.Equal(t, uplink.OutcomeForwarded, res.Outcome)
			require.Len(t, f.sender.sent, 1)
			assert.Equal(t, lorawan.StatusSprung, f.sender.sent[0].record.Status)

			if tc.warning == "" {
				assert.NotContains(t, f.logs.String(), "does not match")
				return
			}
			assert.Contains(t, f.logs.String(), tc.warning)
		})
	}
}

func TestProcessSelectsStrongestGateway(t *testing.T) {
	f := newFixture()
	body := notification(`"f_port": 1, "frm_payload": "Q+g=", "rx_metadata": [
		{"gateway_ids": {"gateway_id": "gtw0"}, "rssi": -90, "snr": 3.0},
		{"gateway_ids": {"gateway_id": "gtw1"}, "rssi": -80, "snr": 7.5},
		{"gateway_ids": {"gateway_id": "gtw2"}, "rssi": -70, "snr": 7.5},
		{"gateway_ids": {"gateway_id": "gtw3"}, "rssi": -60, "snr": 2.0}
	]`)

	f.process(body)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "gtw1", f.sender.sent[0].record.Gateway)
	assert.Equal(t, -80.0, f.sender.sent[0].record.RSSI)
	assert.Equal(t, 7.5, f.sender.sent[0].record.SNR)
}

func TestStrongestRxMetadata(t *testing.T) {
	rx := func(snrs ...float64) []models.RxMetadata {
		out := make([]models.RxMetadata, len(snrs))
		for i := range snrs {
			snr := snrs[i]
			out[i] = models.RxMetadata{GatewayIDs: models.GatewayIDs{GatewayID: fmt.Sprintf("gtw%d", i)}, SNR: &snr}
		}
		return out
	}

	cases := []struct {
		desc    string
		snrs    []float64
		gateway string
	}{
		{desc: "single entry", snrs: []float64{-3}, gateway: "gtw0"},
		{desc: "first of equal maxima", snrs: []float64{3.0, 7.5, 7.5, 2.0}, gateway: "gtw1"},
		{desc: "all equal", snrs: []float64{1, 1, 1}, gateway: "gtw0"},
		{desc: "negative values", snrs: []float64{-12, -4.5, -7}, gateway: "gtw1"},
		{desc: "last is strongest", snrs: []float64{1, 2, 3}, gateway: "gtw2"},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got := uplink.StrongestRxMetadata(rx(tc.snrs...))
			assert.Equal(t, tc.gateway, got.GatewayIDs.GatewayID)
		})
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	bodies := []string{
		wellFormed,
		notification(`"f_port": 1, "frm_payload": "wAA=", ` + oneGateway),
		notification(`"f_port": 7, ` + oneGateway),
		`{}`,
	}

	for _, body := range bodies {
		f := newFixture()
		first := f.process(body)
		second := f.process(body)
		assert.Equal(t, first, second)
	}
}
