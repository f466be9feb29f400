package lorawan

import "fmt"

// Event represents the trap event reported in an uplink
type Event string

const (
	EventSprung    Event = "Sprung"
	EventSet       Event = "Set"
	EventHeartbeat Event = "Heartbeat"
)

// Status represents the trap state reported in an uplink
type Status string

const (
	StatusSprung Status = "Sprung"
	StatusSet    Status = "Set"
)

// Lookup tables, indexed by the two-bit fields of the first payload byte
var (
	trapEvents   = [...]Event{EventSprung, EventSet, EventHeartbeat}
	trapStatuses = [...]Status{StatusSprung, StatusSet}
)

// ErrUplinkTooShort is reported for payloads shorter than two bytes
const ErrUplinkTooShort = "Uplink message too short"

// EncodedUplink is a raw application payload with its frame port
type EncodedUplink struct {
	Bytes []byte
	FPort int
}

// TrapData holds a successfully decoded trap uplink
type TrapData struct {
	Event   Event   `json:"event"`
	Status  Status  `json:"status"`
	Battery float64 `json:"battery"`
}

// DecodedUplink is either a decoded payload or a non-empty list of decode errors
type DecodedUplink struct {
	Data   *TrapData `json:"data,omitempty"`
	Errors []string  `json:"errors,omitempty"`
}

// OK reports whether decoding succeeded
func (d DecodedUplink) OK() bool {
	return d.Data != nil && len(d.Errors) == 0
}

// LookupEvent resolves an event index, ok is false when the index is out of range
func LookupEvent(index int) (Event, bool) {
	if index < 0 || index >= len(trapEvents) {
		return "", false
	}
	return trapEvents[index], true
}

// LookupStatus resolves a status index, ok is false when the index is out of range
func LookupStatus(index int) (Status, bool) {
	if index < 0 || index >= len(trapStatuses) {
		return "", false
	}
	return trapStatuses[index], true
}

// DecodeTrapUplink decodes the two-byte trap sensor payload.
//
// Byte 0 carries the event index in bits 7-6, the status index in bits 5-4
// and the top four bits of the battery reading in bits 3-0. Byte 1 carries
// the low eight bits of the battery reading. The reading is in units of 1.1mV.
func DecodeTrapUplink(in EncodedUplink) DecodedUplink {
	if len(in.Bytes) < 2 {
		return DecodedUplink{Errors: []string{ErrUplinkTooShort}}
	}

	a, b := in.Bytes[0], in.Bytes[1]

	eventIndex := int(a>>6) & 0x03
	statusIndex := int(a>>4) & 0x03

	var errs []string
	event, ok := LookupEvent(eventIndex)
	if !ok {
		errs = append(errs, fmt.Sprintf("Unknown event (index %d)", eventIndex))
	}
	status, ok := LookupStatus(statusIndex)
	if !ok {
		errs = append(errs, fmt.Sprintf("Unknown status (index %d)", statusIndex))
	}
	if len(errs) > 0 {
		return DecodedUplink{Errors: errs}
	}

	batteryRaw := int(a&0x0F)<<8 | int(b)

	return DecodedUplink{
		Data: &TrapData{
			Event:   event,
			Status:  status,
			Battery: float64(batteryRaw) * 1.1 / 1000,
		},
	}
}
