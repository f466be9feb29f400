package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/models"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/validation"
)

const validUplink = `{
  "end_device_ids": {"device_id": "trap-1", "dev_eui": "0004A30B001C0530"},
  "uplink_message": {
    "f_port": 1,
    "f_cnt": 12,
    "frm_payload": "U+g=",
    "rx_metadata": [{"gateway_ids": {"gateway_id": "gtw1"}, "rssi": -35, "snr": 5.2}]
  }
}`

func TestDecodeUplinkNotification(t *testing.T) {
	v := validation.NewValidator()

	cases := []struct {
		desc   string
		body   string
		fields []string
	}{
		{
			desc: "valid notification",
			body: validUplink,
		},
		{
			desc:   "empty body",
			body:   "",
			fields: []string{"body"},
		},
		{
			desc:   "missing uplink message",
			body:   `{"end_device_ids": {"dev_eui": "0004A30B001C0530"}}`,
			fields: []string{"uplink_message"},
		},
		{
			desc: "missing dev_eui",
			body: `{"end_device_ids": {}, "uplink_message": {
				"rx_metadata": [{"gateway_ids": {"gateway_id": "gtw1"}, "rssi": -35, "snr": 5.2}]}}`,
			fields: []string{"end_device_ids.dev_eui"},
		},
		{
			desc: "empty dev_eui is present",
			body: `{"end_device_ids": {"dev_eui": ""}, "uplink_message": {
				"rx_metadata": [{"gateway_ids": {"gateway_id": "gtw1"}, "rssi": -35, "snr": 5.2}]}}`,
		},
		{
			desc: "null dev_eui",
			body: `{"end_device_ids": {"dev_eui": null}, "uplink_message": {
				"rx_metadata": [{"gateway_ids": {"gateway_id": "gtw1"}, "rssi": -35, "snr": 5.2}]}}`,
			fields: []string{"end_device_ids.dev_eui"},
		},
		{
			desc:   "empty rx metadata",
			body:   `{"end_device_ids": {"dev_eui": "01"}, "uplink_message": {"rx_metadata": []}}`,
			fields: []string{"uplink_message.rx_metadata"},
		},
		{
			desc: "rx metadata without snr",
			body: `{"end_device_ids": {"dev_eui": "01"}, "uplink_message": {
				"rx_metadata": [{"gateway_ids": {"gateway_id": "gtw1"}, "rssi": -35}]}}`,
			fields: []string{"uplink_message.rx_metadata[0].snr"},
		},
		{
			desc:   "f_port of the wrong type",
			body:   `{"end_device_ids": {"dev_eui": "01"}, "uplink_message": {"f_port": "1"}}`,
			fields: []string{"uplink_message.f_port"},
		},
		{
			desc:   "not an object",
			body:   `[1, 2, 3]`,
			fields: []string{"body"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			var n models.UplinkNotification
			err := v.DecodeJSON([]byte(tc.body), &n)
			if tc.fields == nil {
				require.NoError(t, err)
				return
			}
			var errs validation.Errors
			require.ErrorAs(t, err, &errs)
			for _, f := range tc.fields {
				assert.Contains(t, errs, f)
			}
		})
	}
}

func TestDecodeTrapPayload(t *testing.T) {
	v := validation.NewValidator()

	cases := []struct {
		desc  string
		body  string
		valid bool
	}{
		{desc: "valid payload", body: `{"event": "Set", "status": "Sprung", "battery": 3.3}`, valid: true},
		{desc: "zero battery", body: `{"event": "Heartbeat", "status": "Set", "battery": 0}`, valid: true},
		{desc: "unknown event", body: `{"event": "Exploded", "status": "Set", "battery": 3.3}`},
		{desc: "heartbeat is not a status", body: `{"event": "Set", "status": "Heartbeat", "battery": 3.3}`},
		{desc: "missing battery", body: `{"event": "Set", "status": "Set"}`},
		{desc: "battery as string", body: `{"event": "Set", "status": "Set", "battery": "3.3"}`},
		{desc: "not an object", body: `"Set"`},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			var p models.DecodedTrapPayload
			err := v.DecodeJSON([]byte(tc.body), &p)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
		})
	}
}

func TestErrorsMessageIsStable(t *testing.T) {
	errs := validation.Errors{"b": "required", "a": "min=1"}
	assert.Equal(t, "a: min=1; b: required", errs.Error())
}
