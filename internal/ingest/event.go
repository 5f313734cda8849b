package ingest

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Gateway wire format parsing errors.
var (
	ErrInvalidCBOR      = errors.New("invalid CBOR data")
	ErrMissingDeviceID  = errors.New("missing device ID in message")
	ErrMissingEvent     = errors.New("missing event data in message")
	ErrUnknownKind      = errors.New("unknown message kind")
	ErrMissingEventType = errors.New("missing event type")
	ErrMissingLogDate   = errors.New("missing log date")
)

// Message kinds the gateway emits.
const (
	KindEvent     = "event"
	KindBacklog   = "backlog"
	KindHeartbeat = "heartbeat"
)

// DeviceEvent is one duty-status event as the device gateway encodes it.
// SequenceHint is the device-local ordering counter; the server allocates
// the authoritative sequence identifier on ingest.
type DeviceEvent struct {
	DeviceID     string   `cbor:"device_id"`
	AccountID    string   `cbor:"account_id"`
	LogDate      string   `cbor:"log_date"`
	SequenceHint uint16   `cbor:"sequence_hint,omitempty"`
	EventType    string   `cbor:"event_type"`
	EventCode    string   `cbor:"event_code"`
	EventDate    string   `cbor:"event_date"`
	EventTime    string   `cbor:"event_time"`
	Timezone     string   `cbor:"timezone"`
	VehicleMiles uint32   `cbor:"vehicle_miles"`
	EngineHours  float64  `cbor:"engine_hours"`
	Latitude     *float64 `cbor:"latitude,omitempty"`
	Longitude    *float64 `cbor:"longitude,omitempty"`
	Checksum     string   `cbor:"checksum"`
}

// GatewayMessage is the top-level frame structure from the device gateway.
// A frame carries a single live event, a buffered backlog batch recorded
// during a connectivity outage, or a heartbeat.
type GatewayMessage struct {
	// DeviceID of the device that generated this frame
	DeviceID string `cbor:"device_id"`

	// TimeUS is the frame timestamp in microseconds
	TimeUS int64 `cbor:"time_us"`

	// Kind is the message type ("event", "backlog", "heartbeat")
	Kind string `cbor:"kind"`

	// Event contains the event data (when Kind == "event")
	Event *DeviceEvent `cbor:"event,omitempty"`

	// Backlog contains buffered events (when Kind == "backlog")
	Backlog []DeviceEvent `cbor:"backlog,omitempty"`
}

// DecodeMessage decodes a CBOR-encoded gateway frame.
// Returns the parsed message or an error if decoding fails.
func DecodeMessage(data []byte) (*GatewayMessage, error) {
	if len(data) == 0 {
		return nil, ErrInvalidCBOR
	}

	var msg GatewayMessage
	dec := cbor.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCBOR, err)
	}

	if msg.DeviceID == "" {
		return nil, ErrMissingDeviceID
	}

	switch msg.Kind {
	case KindHeartbeat:
	case KindEvent:
		if msg.Event == nil {
			return nil, ErrMissingEvent
		}
	case KindBacklog:
		if len(msg.Backlog) == 0 {
			return nil, ErrMissingEvent
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
	}

	return &msg, nil
}

// Validate checks that an event carries the fields a journal record needs.
// The log date and event date are parsed by the pipeline; this only rejects
// events that could never produce a record.
func (e DeviceEvent) Validate() error {
	if e.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if e.EventType == "" || e.EventCode == "" {
		return ErrMissingEventType
	}
	if e.LogDate == "" {
		return ErrMissingLogDate
	}
	return nil
}

// EncodeCBOR encodes a value to CBOR bytes.
// This is useful for testing round-trip encoding/decoding.
func EncodeCBOR(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return buf.Bytes(), nil
}
