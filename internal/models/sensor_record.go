package models

import (
	"time"

	"github.com/lorawan-server/ttn-trapnz-bridge/pkg/lorawan"
)

// NetworkTTN identifies The Things Network as the record source
const NetworkTTN = "TTN"

// SensorRecord is the event record created in the Trap.NZ API
type SensorRecord struct {
	SensorID       string         `json:"sensor_id"`
	Date           string         `json:"date"`
	Event          lorawan.Event  `json:"event"`
	Status         lorawan.Status `json:"status"`
	Network        string         `json:"network"`
	Gateway        string         `json:"gateway"`
	RSSI           float64        `json:"rssi"`
	Sequence       *int           `json:"sequence,omitempty"`
	BatteryVoltage float64        `json:"battery_voltage"`
	SNR            float64        `json:"snr"`
	Timeout        float64        `json:"timeout"`
}

// FormatRecordDate formats t as an ISO-8601 UTC timestamp with millisecond precision
func FormatRecordDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
