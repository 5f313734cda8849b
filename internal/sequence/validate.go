package sequence

import (
	"fmt"

	"github.com/openeld/journal/internal/journal"
)

// Validation thresholds.
const (
	// LargeGapThreshold is the interior gap size above which GAP_DETECTED
	// escalates to LARGE_GAP.
	LargeGapThreshold = 10

	// SaturationThreshold is where APPROACHING_SATURATION advisories
	// start. Normal operation never comes close to the 65535 ceiling;
	// crossing this line is a signal for compliance review, not an error.
	SaturationThreshold = 60000
)

// IssueCode classifies one validation finding.
type IssueCode int

// Fatal issue codes, then advisory issue codes. FMCSA explicitly permits
// gaps in a device's sequence, so gap findings are advisories: evidence for
// compliance review, never grounds for rejection.
const (
	IssueOutOfRange IssueCode = iota
	IssueDuplicate
	IssueNonMonotonic
	IssueExhausted
	IssueGapDetected
	IssueLargeGap
	IssueLeadingGap
	IssueApproachingSaturation
)

// String returns the exchange-format name of the issue code.
func (c IssueCode) String() string {
	switch c {
	case IssueOutOfRange:
		return "OUT_OF_RANGE"
	case IssueDuplicate:
		return "DUPLICATE"
	case IssueNonMonotonic:
		return "NON_MONOTONIC"
	case IssueExhausted:
		return "EXHAUSTED"
	case IssueGapDetected:
		return "GAP_DETECTED"
	case IssueLargeGap:
		return "LARGE_GAP"
	case IssueLeadingGap:
		return "LEADING_GAP"
	case IssueApproachingSaturation:
		return "APPROACHING_SATURATION"
	default:
		return "UNKNOWN"
	}
}

// Issue is one validation finding.
type Issue struct {
	Code    IssueCode
	Message string
}

// Result is the outcome of validating one externally allocated identifier.
// Errors are fatal to the record; Warnings are advisories that must be
// retained for compliance review but never block admission.
type Result struct {
	Valid    bool
	Errors   []Issue
	Warnings []Issue
}

// Validate checks a proposed identifier from a disconnected device against
// the scope's current counter state and active identifier set. It is pure
// and non-mutating: the caller decides whether to reject, quarantine, or
// admit the record. proposedID is an int so out-of-range submissions can be
// reported rather than silently truncated.
func Validate(proposedID int, state journal.SequenceState, activeIDs []uint16) Result {
	var res Result

	if proposedID < journal.MinSequenceID || proposedID > journal.MaxSequenceID {
		res.Errors = append(res.Errors, Issue{
			Code: IssueOutOfRange,
			Message: fmt.Sprintf("sequence ID %d outside [%d, %d]",
				proposedID, journal.MinSequenceID, journal.MaxSequenceID),
		})
		return res
	}
	id := uint16(proposedID)

	for _, existing := range activeIDs {
		if existing == id {
			// An already-seen identifier is a duplicate, reported as
			// such rather than as a monotonicity violation.
			res.Errors = append(res.Errors, Issue{
				Code:    IssueDuplicate,
				Message: fmt.Sprintf("sequence ID %d already active in scope", id),
			})
			return res
		}
	}

	// An exhausted scope is reported as EXHAUSTED, not as the generic
	// monotonicity failure every in-range identifier would otherwise hit.
	if state.Exhausted() {
		res.Errors = append(res.Errors, Issue{
			Code:    IssueExhausted,
			Message: "scope counter has reached 65535; no identifier can be accepted",
		})
		return res
	}

	if id <= state.LastIssuedID {
		res.Errors = append(res.Errors, Issue{
			Code: IssueNonMonotonic,
			Message: fmt.Sprintf("sequence ID %d does not exceed last issued %d",
				id, state.LastIssuedID),
		})
		return res
	}

	if state.LastIssuedID == 0 && id != journal.MinSequenceID {
		res.Warnings = append(res.Warnings, Issue{
			Code:    IssueLeadingGap,
			Message: fmt.Sprintf("first observed sequence ID is %d, not 1", id),
		})
	} else if gap := int(id) - int(state.LastIssuedID) - 1; state.LastIssuedID > 0 && gap > 0 {
		code := IssueGapDetected
		if gap > LargeGapThreshold {
			code = IssueLargeGap
		}
		res.Warnings = append(res.Warnings, Issue{
			Code: code,
			Message: fmt.Sprintf("gap of %d between %d and %d",
				gap, state.LastIssuedID, id),
		})
	}

	if id >= SaturationThreshold {
		res.Warnings = append(res.Warnings, Issue{
			Code: IssueApproachingSaturation,
			Message: fmt.Sprintf("sequence ID %d is within %d of exhaustion",
				id, journal.MaxSequenceID-int(id)),
		})
	}

	res.Valid = true
	return res
}
