package journal

import "time"

// TamperEvidence is the cryptographic envelope of one record version.
//
// ContentHash covers the canonical hashable fields only. ChainHash links
// the content hash to the predecessor's chain hash and is never set
// independently of that computation. PreviousChainHash is nil for the first
// record of a scope: the genesis value is recomputed at verification time,
// never trusted from storage.
type TamperEvidence struct {
	ContentHash       string
	ChainHash         string
	PreviousChainHash *string
	RecordVersion     uint32
	HashedAt          time.Time
}

// EditReason is the structured justification attached to an edit.
type EditReason struct {
	Code EditReasonCode
	Text string
}

// FieldDiff records one changed field in an edit, old and new values in
// their canonical string encoding.
type FieldDiff struct {
	Field string
	Old   string
	New   string
}

// AuditEntry is one immutable line in a record's history. Entries are only
// ever appended; no prior entry is mutated or removed.
type AuditEntry struct {
	ID                string
	EventID           string
	PreviousVersionID *string
	Action            RecordAction
	Actor             Actor
	PerformedAt       time.Time

	// Network context of the request that caused the entry, when known.
	RequestID string
	IPAddress string

	Reason              *EditReason
	Diffs               []FieldDiff
	RevertedToVersionID *string
}

// SequenceAdvisory is one non-fatal finding from validating a device-local
// sequence identifier at ingest. A disconnected device allocates locally and
// reconciles later; what its counter did during the outage is compliance
// evidence, so advisories are retained on the admitted record version rather
// than discarded with the hint.
type SequenceAdvisory struct {
	Code       string
	Message    string
	ProposedID uint16
	ObservedAt time.Time
}

// AuditMetadata is attached to every record version.
//
// Invariants: VersionNumber == 1 exactly when PreviousVersionID is nil;
// OriginalVersionID equals the record's own ID at version 1 and never
// changes across later versions; History only grows.
type AuditMetadata struct {
	SchemaVersion        int
	CreatedBy            Actor
	CreatedAt            time.Time
	VersionNumber        uint32
	PreviousVersionID    *string
	OriginalVersionID    string
	RequiresDriverReview bool
	DriverReviewedAt     *time.Time
	DriverReviewOutcome  *ReviewOutcome
	SequenceAdvisories   []SequenceAdvisory
	History              []AuditEntry
	TamperEvidence       TamperEvidence
}

// AppendHistory returns a copy of m whose history has entry appended. The
// full-slice expression pins capacity so the append can never write into a
// backing array shared with the receiver; prior entries are shared, not
// deep-copied, and must be treated as immutable once written.
func (m AuditMetadata) AppendHistory(entry AuditEntry) AuditMetadata {
	m.History = append(m.History[:len(m.History):len(m.History)], entry)
	return m
}
