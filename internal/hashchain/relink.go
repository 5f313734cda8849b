package hashchain

import (
	"time"

	"github.com/openeld/journal/internal/journal"
)

// Relink recomputes the chain linkage over a scope's active set after the
// set changed shape, for example when an edit replaced a record mid-chain.
// Content hashes are trusted as stored; only the chain hashes and stored
// previous hashes of records downstream of the change are re-derived, since
// a chain hash is a pure function of its predecessor and may never disagree
// with that computation.
//
// records must be the scope's active set sorted ascending by sequence
// identifier. The returned evidence slice is parallel to records; entries
// whose linkage was already correct are returned unchanged, so callers can
// persist only the ones that differ.
func Relink(h journal.HashProvider, scope journal.Scope, records []ChainRecord, now time.Time) []journal.TamperEvidence {
	if h == nil {
		h = journal.SHA256Provider{}
	}

	out := make([]journal.TamperEvidence, len(records))
	prev := GenesisHash(h, scope)

	for i, rec := range records {
		ev := rec.Evidence

		var storedPrev *string
		if i > 0 {
			p := prev
			storedPrev = &p
		}

		linked := chainHash(h, ev.ContentHash, prev)
		if linked != ev.ChainHash || !prevEqual(storedPrev, ev.PreviousChainHash) {
			ev.ChainHash = linked
			ev.PreviousChainHash = storedPrev
			ev.HashedAt = now.UTC()
		}

		out[i] = ev
		prev = ev.ChainHash
	}

	return out
}

func prevEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
