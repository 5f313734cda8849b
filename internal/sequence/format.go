package sequence

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/openeld/journal/internal/journal"
)

// ErrInvalidSequenceID is returned by Parse for input that is not a
// zero-padded in-range sequence identifier.
var ErrInvalidSequenceID = errors.New("invalid sequence ID")

// formattedWidth is the fixed width of an identifier in the exchange format.
const formattedWidth = 5

// Format renders an identifier as the fixed-width, zero-padded decimal
// string the exchange format requires, e.g. 42 -> "00042".
func Format(id uint16) string {
	return fmt.Sprintf("%05d", id)
}

// Parse is the strict inverse of Format. It rejects input of the wrong
// width, non-digit input, and values outside [1, 65535].
func Parse(s string) (uint16, error) {
	if len(s) != formattedWidth {
		return 0, fmt.Errorf("%w: %q is not %d characters", ErrInvalidSequenceID, s, formattedWidth)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q contains non-digit characters", ErrInvalidSequenceID, s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSequenceID, s)
	}
	if n < journal.MinSequenceID || n > journal.MaxSequenceID {
		return 0, fmt.Errorf("%w: %d outside [%d, %d]",
			ErrInvalidSequenceID, n, journal.MinSequenceID, journal.MaxSequenceID)
	}
	return uint16(n), nil
}
