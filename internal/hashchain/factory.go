package hashchain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openeld/journal/internal/journal"
)

// MinOtherReasonTextLen is the minimum free-text length required when an
// edit uses the catch-all OTHER reason code.
const MinOtherReasonTextLen = 20

// Factory precondition errors. These are the only hard failures at this
// boundary; everything else the factory reports is a value.
var (
	ErrEmptyEventID       = errors.New("event ID cannot be empty")
	ErrReasonTextTooShort = fmt.Errorf("reason text of at least %d characters is required for the OTHER reason code", MinOtherReasonTextLen)
	ErrReviewerNotDriver  = errors.New("review outcome must come from a driver actor")
	ErrNoPriorVersion     = errors.New("rejected edit has no prior version to reinstate")
)

// Factory builds audit metadata for newly created and newly edited records.
// The hash provider, identity provider, and clock are injected so outputs
// are fully determined by inputs under test.
type Factory struct {
	hash  journal.HashProvider
	newID journal.IdentityProvider
	now   func() time.Time
}

// NewFactory creates a Factory. A nil hash falls back to SHA-256 and a nil
// identity provider falls back to random UUIDs.
func NewFactory(hash journal.HashProvider, newID journal.IdentityProvider) *Factory {
	if hash == nil {
		hash = journal.SHA256Provider{}
	}
	if newID == nil {
		newID = journal.UUIDIdentity
	}
	return &Factory{hash: hash, newID: newID, now: time.Now}
}

// CreateParams are the inputs for a brand-new record version.
type CreateParams struct {
	EventID string
	Scope   journal.Scope
	Creator journal.Actor
	Fields  journal.HashableFields

	// PreviousChainHash is the chain hash of the scope's previous record,
	// or the scope's genesis hash when this is the first record.
	PreviousChainHash string

	// Network context, when the record arrived over the API.
	RequestID string
	IPAddress string
}

// Create produces complete audit metadata for a version-1 record: a single
// CREATED history entry and computed tamper evidence. When the supplied
// previous hash equals the recomputed genesis hash, the stored previous
// hash is nil so verification always re-derives the genesis value.
func (f *Factory) Create(p CreateParams) (journal.AuditMetadata, error) {
	if p.EventID == "" {
		return journal.AuditMetadata{}, ErrEmptyEventID
	}
	if err := p.Scope.Validate(); err != nil {
		return journal.AuditMetadata{}, err
	}

	now := f.now().UTC()
	evidence := f.evidence(p.Scope, p.Fields, p.PreviousChainHash, 1, now)

	entry := journal.AuditEntry{
		ID:          f.newID(),
		EventID:     p.EventID,
		Action:      journal.ActionCreated,
		Actor:       p.Creator,
		PerformedAt: now,
		RequestID:   p.RequestID,
		IPAddress:   p.IPAddress,
	}

	return journal.AuditMetadata{
		SchemaVersion:     journal.CanonicalSchemaVersion,
		CreatedBy:         p.Creator,
		CreatedAt:         now,
		VersionNumber:     1,
		OriginalVersionID: p.EventID,
		History:           []journal.AuditEntry{entry},
		TamperEvidence:    evidence,
	}, nil
}

// EditParams are the inputs for superseding an existing record version.
type EditParams struct {
	NewEventID        string
	SupersededEventID string
	Superseded        journal.AuditMetadata

	Scope  journal.Scope
	Editor journal.Actor
	Diffs  []journal.FieldDiff
	Reason journal.EditReason
	Fields journal.HashableFields

	// PreviousChainHash is the chain hash of the previous active record
	// in the scope, or the genesis hash when the edited record is first.
	PreviousChainHash string

	RequestID string
	IPAddress string
}

// Edit produces the superseding version's metadata: version number
// incremented, original version carried forward unchanged, new tamper
// evidence over the new content, and an EDITED entry appended to the
// inherited history. The OTHER reason code requires free text of at least
// MinOtherReasonTextLen characters; that precondition is checked before any
// hash is computed.
func (f *Factory) Edit(p EditParams) (journal.AuditMetadata, error) {
	if p.Reason.Code == journal.ReasonOther &&
		len(strings.TrimSpace(p.Reason.Text)) < MinOtherReasonTextLen {
		return journal.AuditMetadata{}, ErrReasonTextTooShort
	}
	if p.NewEventID == "" || p.SupersededEventID == "" {
		return journal.AuditMetadata{}, ErrEmptyEventID
	}
	if err := p.Scope.Validate(); err != nil {
		return journal.AuditMetadata{}, err
	}

	now := f.now().UTC()
	version := p.Superseded.VersionNumber + 1
	evidence := f.evidence(p.Scope, p.Fields, p.PreviousChainHash, version, now)

	supersededID := p.SupersededEventID
	reason := p.Reason
	entry := journal.AuditEntry{
		ID:                f.newID(),
		EventID:           p.NewEventID,
		PreviousVersionID: &supersededID,
		Action:            journal.ActionEdited,
		Actor:             p.Editor,
		PerformedAt:       now,
		RequestID:         p.RequestID,
		IPAddress:         p.IPAddress,
		Reason:            &reason,
		Diffs:             p.Diffs,
	}

	meta := p.Superseded.AppendHistory(entry)
	meta.VersionNumber = version
	meta.PreviousVersionID = &supersededID
	meta.OriginalVersionID = p.Superseded.OriginalVersionID
	meta.TamperEvidence = evidence
	// A carrier-side or support edit must be reviewed by the driver who
	// owns the record; driver-authored and system-authored edits are not.
	meta.RequiresDriverReview = p.Editor.Kind == journal.ActorCarrier ||
		p.Editor.Kind == journal.ActorSupport
	meta.DriverReviewedAt = nil
	meta.DriverReviewOutcome = nil

	return meta, nil
}

// ReviewParams are the inputs for recording a driver's review verdict.
type ReviewParams struct {
	EventID  string
	Meta     journal.AuditMetadata
	Reviewer journal.Actor
	Outcome  journal.ReviewOutcome

	RequestID string
	IPAddress string
}

// Review appends a review entry and clears the pending-review flag. Review
// is a provenance action, not a content change: no hash is recomputed. A
// rejection records which version the system must reinstate as active.
func (f *Factory) Review(p ReviewParams) (journal.AuditMetadata, error) {
	if p.Reviewer.Kind != journal.ActorDriver {
		return journal.AuditMetadata{}, ErrReviewerNotDriver
	}

	now := f.now().UTC()
	entry := journal.AuditEntry{
		ID:          f.newID(),
		EventID:     p.EventID,
		Action:      journal.ActionConfirmedEdit,
		Actor:       p.Reviewer,
		PerformedAt: now,
		RequestID:   p.RequestID,
		IPAddress:   p.IPAddress,
	}

	if p.Outcome == journal.ReviewRejected {
		if p.Meta.PreviousVersionID == nil {
			return journal.AuditMetadata{}, ErrNoPriorVersion
		}
		entry.Action = journal.ActionRejectedEdit
		reinstate := *p.Meta.PreviousVersionID
		entry.RevertedToVersionID = &reinstate
	}

	meta := p.Meta.AppendHistory(entry)
	meta.RequiresDriverReview = false
	reviewedAt := now
	outcome := p.Outcome
	meta.DriverReviewedAt = &reviewedAt
	meta.DriverReviewOutcome = &outcome

	return meta, nil
}

// evidence computes the tamper evidence for one record version. The stored
// previous hash is nil when the effective previous hash is the scope's
// genesis value.
func (f *Factory) evidence(scope journal.Scope, fields journal.HashableFields, previous string, version uint32, now time.Time) journal.TamperEvidence {
	contentHash := f.hash.Digest(fields.Canonical())

	var stored *string
	if previous != GenesisHash(f.hash, scope) {
		prev := previous
		stored = &prev
	}

	return journal.TamperEvidence{
		ContentHash:       contentHash,
		ChainHash:         chainHash(f.hash, contentHash, previous),
		PreviousChainHash: stored,
		RecordVersion:     version,
		HashedAt:          now,
	}
}
