package merge

import (
	"sort"

	"github.com/openeld/journal/internal/journal"
)

// BacklogEntry is one client-buffered record awaiting submission after a
// connectivity outage.
type BacklogEntry struct {
	RecordID   string
	LogDate    journal.CalendarDate
	SequenceID uint16
}

// OrderBacklog sorts a buffered batch for replay: calendar day first
// (compared structurally, never as strings), then the locally assigned
// sequence identifier within a day. Replaying in this order keeps the
// submission consistent with per-scope monotonicity, so server-side
// validation sees real gaps only, not artifacts of submission order.
func OrderBacklog(entries []BacklogEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].LogDate.Compare(entries[j].LogDate); c != 0 {
			return c < 0
		}
		return entries[i].SequenceID < entries[j].SequenceID
	})
}
