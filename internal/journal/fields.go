package journal

import (
	"strconv"
	"strings"
)

// CanonicalSchemaVersion is bumped whenever the set of fields participating
// in hashing changes. The hashable field set must never silently grow or
// shrink: any field outside it is invisible to tamper detection.
const CanonicalSchemaVersion = 1

// Position is an optional recorded vehicle position. Coordinates are
// canonicalized to two decimal places, matching the precision the exchange
// format carries.
type Position struct {
	Latitude  float64
	Longitude float64
}

// HashableFields is the canonical, deterministic subset of a record's
// business data that participates in hashing. Everything else on a record
// is invisible to tamper detection.
type HashableFields struct {
	SequenceID   uint16
	EventType    string
	EventCode    string
	EventDate    string // YYYY-MM-DD in the driver's home timezone
	EventTime    string // HH:MM:SS
	Timezone     string // IANA zone name of the home terminal
	VehicleMiles uint32 // accumulated vehicle distance
	EngineHours  float64
	Position     *Position
	Checksum     string // per-record line checksum supplied by the device
	AccountID    string
	DeviceID     string
}

// Canonical serializes the hashable fields deterministically: fixed
// lexicographic field order, "key=value" pairs joined by '&'. The encoding
// of every value is stable, so the same fields always produce the same
// bytes regardless of platform or struct layout.
func (f HashableFields) Canonical() string {
	var b strings.Builder
	writePair(&b, "account_id", f.AccountID)
	writePair(&b, "checksum", f.Checksum)
	writePair(&b, "device_id", f.DeviceID)
	writePair(&b, "engine_hours", strconv.FormatFloat(f.EngineHours, 'f', 1, 64))
	writePair(&b, "event_code", f.EventCode)
	writePair(&b, "event_date", f.EventDate)
	writePair(&b, "event_time", f.EventTime)
	writePair(&b, "event_type", f.EventType)
	writePair(&b, "position", canonicalPosition(f.Position))
	writePair(&b, "sequence_id", strconv.FormatUint(uint64(f.SequenceID), 10))
	writePair(&b, "timezone", f.Timezone)
	writePair(&b, "vehicle_miles", strconv.FormatUint(uint64(f.VehicleMiles), 10))
	return strings.TrimSuffix(b.String(), "&")
}

func writePair(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte('&')
}

// canonicalPosition encodes an optional position as "lat,lon" with two
// decimal places, or the empty string when absent. Absent and zero-valued
// positions are therefore distinguishable.
func canonicalPosition(p *Position) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(p.Latitude, 'f', 2, 64) + "," +
		strconv.FormatFloat(p.Longitude, 'f', 2, 64)
}
