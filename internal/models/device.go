package models

// Device maps a LoRaWAN end device to its Trap.NZ sensor.
// Every field must be present in the directory; empty strings are accepted.
type Device struct {
	// DevEUI of the end device, compared verbatim with the notification
	DevEUI string `json:"dev_eui" db:"dev_eui"`
	// TrapNZID is the Trap.NZ sensor id records are created for
	TrapNZID string `json:"trapnz_id" db:"trapnz_id"`
	// Timeout programmed on the device, in seconds
	Timeout float64 `json:"timeout" db:"timeout"`
}
