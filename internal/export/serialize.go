package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Format selects the serialization of an export bundle.
type Format string

// Supported formats.
const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}

// Extension returns the file extension of the format, including the dot.
func (f Format) Extension() string {
	if f == FormatCSV {
		return ".csv"
	}
	return ".jsonl"
}

// Valid reports whether f names a supported format.
func (f Format) Valid() bool {
	return f == FormatJSONL || f == FormatCSV
}

// WriteJSONL serializes the bundle as JSON lines, one record per line in
// export order.
func WriteJSONL(w io.Writer, b *Bundle) error {
	enc := json.NewEncoder(w)
	for _, line := range b.Lines {
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encoding export line %d: %w", line.ExportSequenceID, err)
		}
	}
	return nil
}

// csvHeader is the fixed column order of the CSV serialization.
var csvHeader = []string{
	"export_sequence_id",
	"record_id",
	"device_id",
	"log_date",
	"sequence_id",
	"sequence_id_formatted",
	"event_type",
	"event_code",
	"event_date",
	"event_time",
	"timezone",
	"vehicle_miles",
	"engine_hours",
	"latitude",
	"longitude",
	"checksum",
	"account_id",
	"content_hash",
	"chain_hash",
}

// WriteCSV serializes the bundle as CSV with a header row, one record per
// row in export order.
func WriteCSV(w io.Writer, b *Bundle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, line := range b.Lines {
		row := []string{
			strconv.Itoa(line.ExportSequenceID),
			line.RecordID,
			line.DeviceID,
			line.LogDate,
			strconv.FormatUint(uint64(line.SequenceID), 10),
			line.SequenceIDFormatted,
			line.EventType,
			line.EventCode,
			line.EventDate,
			line.EventTime,
			line.Timezone,
			strconv.FormatUint(uint64(line.VehicleMiles), 10),
			strconv.FormatFloat(line.EngineHours, 'f', 1, 64),
			formatCoord(line.Latitude),
			formatCoord(line.Longitude),
			line.Checksum,
			line.AccountID,
			line.ContentHash,
			line.ChainHash,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing export row %d: %w", line.ExportSequenceID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
