// Package merge deterministically interleaves record streams from multiple
// devices into one canonical chronological order for compliance export, and
// orders locally buffered backlogs for correct-order submission.
package merge

import (
	"sort"
	"time"
)

// Record is the ordering view of one journal record: the fields the
// canonical comparator is defined over, plus the record's identity.
type Record struct {
	RecordID   string
	Timestamp  time.Time
	DeviceID   string
	SequenceID uint16
}

// Compare is the canonical total order over records: timestamp ascending,
// ties broken by device ID (lexicographic, for determinism across
// independent devices), remaining ties broken by the scope-local sequence
// identifier. It is a strict weak ordering, so sorting is deterministic
// regardless of input order or sort stability.
func Compare(a, b Record) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	if a.DeviceID != b.DeviceID {
		if a.DeviceID < b.DeviceID {
			return -1
		}
		return 1
	}
	if a.SequenceID != b.SequenceID {
		if a.SequenceID < b.SequenceID {
			return -1
		}
		return 1
	}
	return 0
}

// Sort orders records canonically in place.
func Sort(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return Compare(records[i], records[j]) < 0
	})
}

// ExportRecord is one entry of the merged export view. ExportSequenceID is
// the record's position in the canonical cross-device order; the embedded
// Record retains the original scope-local SequenceID, so the merge never
// discards provenance.
type ExportRecord struct {
	Record
	ExportSequenceID int
}

// Resequence assigns 1-based export sequence identifiers to records, which
// must already be in canonical order (as produced by Sort).
func Resequence(records []Record) []ExportRecord {
	out := make([]ExportRecord, len(records))
	for i, rec := range records {
		out[i] = ExportRecord{Record: rec, ExportSequenceID: i + 1}
	}
	return out
}
