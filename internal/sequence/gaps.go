package sequence

import "sort"

// Gap describes a run of unissued identifiers between two observed ones.
// A leading gap (the scope's first identifier is not 1) has After == 0.
type Gap struct {
	After   uint16
	Before  uint16
	Missing int
}

// DetectGaps reports the gaps in a scope's observed identifier set. The
// input need not be sorted; duplicates are ignored for gap purposes.
func DetectGaps(ids []uint16) []Gap {
	if len(ids) == 0 {
		return nil
	}

	sorted := make([]uint16, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var gaps []Gap
	if first := sorted[0]; first > 1 {
		gaps = append(gaps, Gap{After: 0, Before: first, Missing: int(first) - 1})
	}

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur == prev {
			continue
		}
		if missing := int(cur) - int(prev) - 1; missing > 0 {
			gaps = append(gaps, Gap{After: prev, Before: cur, Missing: missing})
		}
	}
	return gaps
}

// DetectDuplicates returns the set of identifiers that appear more than
// once, in ascending order.
func DetectDuplicates(ids []uint16) []uint16 {
	seen := make(map[uint16]int, len(ids))
	for _, id := range ids {
		seen[id]++
	}

	var dups []uint16
	for id, count := range seen {
		if count > 1 {
			dups = append(dups, id)
		}
	}
	sort.Slice(dups, func(i, j int) bool { return dups[i] < dups[j] })
	return dups
}
