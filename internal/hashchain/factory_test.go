package hashchain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/openeld/journal/internal/journal"
)

// seqIdentity yields "id-1", "id-2", ... for deterministic history entries.
func seqIdentity() journal.IdentityProvider {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func testScope() journal.Scope {
	return journal.Scope{DeviceID: "ELD-001", LogDate: "2026-03-14"}
}

func testFields(seq uint16) journal.HashableFields {
	return journal.HashableFields{
		SequenceID:   seq,
		EventType:    "1",
		EventCode:    "3",
		EventDate:    "2026-03-14",
		EventTime:    "08:15:00",
		Timezone:     "America/Chicago",
		VehicleMiles: 120450,
		EngineHours:  5421.3,
		Checksum:     "9F",
		AccountID:    "acct-77",
		DeviceID:     "ELD-001",
	}
}

func driver() journal.Actor {
	return journal.Actor{ID: "drv-1", Kind: journal.ActorDriver, DisplayName: "R. Alvarez"}
}

func carrier() journal.Actor {
	return journal.Actor{ID: "car-1", Kind: journal.ActorCarrier, DisplayName: "Dispatch"}
}

func mustCreate(t *testing.T, f *Factory, eventID string, prev string) journal.AuditMetadata {
	t.Helper()
	meta, err := f.Create(CreateParams{
		EventID:           eventID,
		Scope:             testScope(),
		Creator:           driver(),
		Fields:            testFields(1),
		PreviousChainHash: prev,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return meta
}

func TestFactory_Create_FirstRecord(t *testing.T) {
	f := NewFactory(nil, seqIdentity())
	genesis := GenesisHash(journal.SHA256Provider{}, testScope())

	meta := mustCreate(t, f, "ev-1", genesis)

	if meta.VersionNumber != 1 {
		t.Errorf("VersionNumber = %d, want 1", meta.VersionNumber)
	}
	if meta.PreviousVersionID != nil {
		t.Errorf("PreviousVersionID = %v, want nil", *meta.PreviousVersionID)
	}
	if meta.OriginalVersionID != "ev-1" {
		t.Errorf("OriginalVersionID = %q, want %q", meta.OriginalVersionID, "ev-1")
	}
	if meta.RequiresDriverReview {
		t.Error("RequiresDriverReview = true for a fresh record, want false")
	}
	if len(meta.History) != 1 {
		t.Fatalf("History length = %d, want 1", len(meta.History))
	}
	if meta.History[0].Action != journal.ActionCreated {
		t.Errorf("History[0].Action = %s, want CREATED", meta.History[0].Action)
	}

	// The genesis previous hash is stored as nil, not verbatim.
	if meta.TamperEvidence.PreviousChainHash != nil {
		t.Errorf("PreviousChainHash = %v, want nil for first record", *meta.TamperEvidence.PreviousChainHash)
	}
	if meta.TamperEvidence.ContentHash == "" || meta.TamperEvidence.ChainHash == "" {
		t.Error("evidence hashes must be computed")
	}
	if meta.TamperEvidence.RecordVersion != 1 {
		t.Errorf("RecordVersion = %d, want 1", meta.TamperEvidence.RecordVersion)
	}
}

func TestFactory_Create_NonGenesisPreviousStoredVerbatim(t *testing.T) {
	f := NewFactory(nil, seqIdentity())

	meta, err := f.Create(CreateParams{
		EventID:           "ev-2",
		Scope:             testScope(),
		Creator:           driver(),
		Fields:            testFields(2),
		PreviousChainHash: "abc123",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if meta.TamperEvidence.PreviousChainHash == nil {
		t.Fatal("PreviousChainHash = nil, want stored verbatim")
	}
	if *meta.TamperEvidence.PreviousChainHash != "abc123" {
		t.Errorf("PreviousChainHash = %q, want %q", *meta.TamperEvidence.PreviousChainHash, "abc123")
	}
}

func TestFactory_Create_ChainHashDerivation(t *testing.T) {
	h := journal.SHA256Provider{}
	f := NewFactory(h, seqIdentity())
	genesis := GenesisHash(h, testScope())

	meta := mustCreate(t, f, "ev-1", genesis)

	wantContent := h.Digest(testFields(1).Canonical())
	if meta.TamperEvidence.ContentHash != wantContent {
		t.Errorf("ContentHash = %s, want %s", meta.TamperEvidence.ContentHash, wantContent)
	}
	wantChain := h.Digest(wantContent + "|" + genesis)
	if meta.TamperEvidence.ChainHash != wantChain {
		t.Errorf("ChainHash = %s, want %s", meta.TamperEvidence.ChainHash, wantChain)
	}
}

func TestFactory_Create_EmptyEventID(t *testing.T) {
	f := NewFactory(nil, seqIdentity())
	_, err := f.Create(CreateParams{Scope: testScope(), Fields: testFields(1)})
	if !errors.Is(err, ErrEmptyEventID) {
		t.Errorf("Create() error = %v, want ErrEmptyEventID", err)
	}
}

func TestFactory_GenesisScoping(t *testing.T) {
	h := journal.SHA256Provider{}

	a := GenesisHash(h, journal.Scope{DeviceID: "ELD-001", LogDate: "2026-03-14"})
	b := GenesisHash(h, journal.Scope{DeviceID: "ELD-002", LogDate: "2026-03-14"})
	c := GenesisHash(h, journal.Scope{DeviceID: "ELD-001", LogDate: "2026-03-15"})

	if a == b {
		t.Error("genesis hash identical across devices")
	}
	if a == c {
		t.Error("genesis hash identical across log dates")
	}

	// Byte-identical content in different scopes yields different chains.
	f := NewFactory(h, seqIdentity())
	scopeA := journal.Scope{DeviceID: "ELD-001", LogDate: "2026-03-14"}
	scopeB := journal.Scope{DeviceID: "ELD-002", LogDate: "2026-03-14"}

	metaA, err := f.Create(CreateParams{EventID: "ev-a", Scope: scopeA, Creator: driver(), Fields: testFields(1), PreviousChainHash: a})
	if err != nil {
		t.Fatalf("Create(scopeA) error = %v", err)
	}
	metaB, err := f.Create(CreateParams{EventID: "ev-b", Scope: scopeB, Creator: driver(), Fields: testFields(1), PreviousChainHash: b})
	if err != nil {
		t.Fatalf("Create(scopeB) error = %v", err)
	}
	if metaA.TamperEvidence.ChainHash == metaB.TamperEvidence.ChainHash {
		t.Error("first-record chain hash identical across scopes with identical content")
	}
}

func TestFactory_Edit_Lineage(t *testing.T) {
	h := journal.SHA256Provider{}
	f := NewFactory(h, seqIdentity())
	genesis := GenesisHash(h, testScope())

	v1 := mustCreate(t, f, "ev-1", genesis)

	v2, err := f.Edit(EditParams{
		NewEventID:        "ev-2",
		SupersededEventID: "ev-1",
		Superseded:        v1,
		Scope:             testScope(),
		Editor:            driver(),
		Reason:            journal.EditReason{Code: journal.ReasonIncorrectStatus},
		Fields:            testFields(1),
		PreviousChainHash: genesis,
	})
	if err != nil {
		t.Fatalf("Edit() #1 error = %v", err)
	}

	v3, err := f.Edit(EditParams{
		NewEventID:        "ev-3",
		SupersededEventID: "ev-2",
		Superseded:        v2,
		Scope:             testScope(),
		Editor:            driver(),
		Reason:            journal.EditReason{Code: journal.ReasonMissingRecord},
		Fields:            testFields(1),
		PreviousChainHash: genesis,
	})
	if err != nil {
		t.Fatalf("Edit() #2 error = %v", err)
	}

	if v3.VersionNumber != 3 {
		t.Errorf("VersionNumber = %d, want 3", v3.VersionNumber)
	}
	if v3.OriginalVersionID != "ev-1" {
		t.Errorf("OriginalVersionID = %q, want %q", v3.OriginalVersionID, "ev-1")
	}
	if v3.PreviousVersionID == nil || *v3.PreviousVersionID != "ev-2" {
		t.Errorf("PreviousVersionID = %v, want ev-2", v3.PreviousVersionID)
	}

	if len(v3.History) != 3 {
		t.Fatalf("History length = %d, want 3", len(v3.History))
	}
	wantActions := []journal.RecordAction{journal.ActionCreated, journal.ActionEdited, journal.ActionEdited}
	for i, want := range wantActions {
		if v3.History[i].Action != want {
			t.Errorf("History[%d].Action = %s, want %s", i, v3.History[i].Action, want)
		}
	}

	// The inherited history of earlier versions is untouched.
	if len(v1.History) != 1 {
		t.Errorf("v1 history length = %d after edits, want 1", len(v1.History))
	}
	if len(v2.History) != 2 {
		t.Errorf("v2 history length = %d after edits, want 2", len(v2.History))
	}
}

func TestFactory_Edit_DriverReviewFlag(t *testing.T) {
	h := journal.SHA256Provider{}
	f := NewFactory(h, seqIdentity())
	genesis := GenesisHash(h, testScope())
	v1 := mustCreate(t, f, "ev-1", genesis)

	tests := []struct {
		name   string
		editor journal.Actor
		want   bool
	}{
		{name: "driver edit", editor: driver(), want: false},
		{name: "carrier edit", editor: carrier(), want: true},
		{name: "support edit", editor: journal.Actor{ID: "sup-1", Kind: journal.ActorSupport}, want: true},
		{name: "system edit", editor: journal.Actor{ID: "sys", Kind: journal.ActorSystem}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := f.Edit(EditParams{
				NewEventID:        "ev-x",
				SupersededEventID: "ev-1",
				Superseded:        v1,
				Scope:             testScope(),
				Editor:            tt.editor,
				Reason:            journal.EditReason{Code: journal.ReasonIncorrectStatus},
				Fields:            testFields(1),
				PreviousChainHash: genesis,
			})
			if err != nil {
				t.Fatalf("Edit() error = %v", err)
			}
			if meta.RequiresDriverReview != tt.want {
				t.Errorf("RequiresDriverReview = %v, want %v", meta.RequiresDriverReview, tt.want)
			}
		})
	}
}

func TestFactory_Edit_OtherReasonTextPrecondition(t *testing.T) {
	// trackingHash fails the test if any digest is computed.
	f := NewFactory(trackingHash{t: t}, seqIdentity())

	_, err := f.Edit(EditParams{
		NewEventID:        "ev-2",
		SupersededEventID: "ev-1",
		Scope:             testScope(),
		Editor:            carrier(),
		Reason:            journal.EditReason{Code: journal.ReasonOther, Text: "too short"},
		Fields:            testFields(1),
	})
	if !errors.Is(err, ErrReasonTextTooShort) {
		t.Errorf("Edit() error = %v, want ErrReasonTextTooShort", err)
	}

	// Whitespace padding does not satisfy the minimum.
	_, err = f.Edit(EditParams{
		NewEventID:        "ev-2",
		SupersededEventID: "ev-1",
		Scope:             testScope(),
		Editor:            carrier(),
		Reason:            journal.EditReason{Code: journal.ReasonOther, Text: "short     " + strings.Repeat(" ", 20)},
		Fields:            testFields(1),
	})
	if !errors.Is(err, ErrReasonTextTooShort) {
		t.Errorf("Edit() error = %v, want ErrReasonTextTooShort for padded text", err)
	}
}

func TestFactory_Edit_OtherReasonWithSufficientText(t *testing.T) {
	h := journal.SHA256Provider{}
	f := NewFactory(h, seqIdentity())
	genesis := GenesisHash(h, testScope())
	v1 := mustCreate(t, f, "ev-1", genesis)

	_, err := f.Edit(EditParams{
		NewEventID:        "ev-2",
		SupersededEventID: "ev-1",
		Superseded:        v1,
		Scope:             testScope(),
		Editor:            carrier(),
		Reason:            journal.EditReason{Code: journal.ReasonOther, Text: "driver forgot to log a fuel stop near Joliet"},
		Fields:            testFields(1),
		PreviousChainHash: genesis,
	})
	if err != nil {
		t.Errorf("Edit() error = %v, want nil for sufficient text", err)
	}
}

// trackingHash fails the test on first use; it verifies preconditions run
// before any hash computation.
type trackingHash struct{ t *testing.T }

func (h trackingHash) Digest(string) string {
	h.t.Fatal("Digest() called before precondition check")
	return ""
}

func TestFactory_Review_Confirm(t *testing.T) {
	h := journal.SHA256Provider{}
	f := NewFactory(h, seqIdentity())
	genesis := GenesisHash(h, testScope())
	v1 := mustCreate(t, f, "ev-1", genesis)

	v2, err := f.Edit(EditParams{
		NewEventID:        "ev-2",
		SupersededEventID: "ev-1",
		Superseded:        v1,
		Scope:             testScope(),
		Editor:            carrier(),
		Reason:            journal.EditReason{Code: journal.ReasonIncorrectStatus},
		Fields:            testFields(1),
		PreviousChainHash: genesis,
	})
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}

	hashBefore := v2.TamperEvidence
	reviewed, err := f.Review(ReviewParams{
		EventID:  "ev-2",
		Meta:     v2,
		Reviewer: driver(),
		Outcome:  journal.ReviewConfirmed,
	})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	if reviewed.RequiresDriverReview {
		t.Error("RequiresDriverReview = true after review, want false")
	}
	if reviewed.DriverReviewedAt == nil {
		t.Error("DriverReviewedAt = nil after review")
	}
	if reviewed.DriverReviewOutcome == nil || *reviewed.DriverReviewOutcome != journal.ReviewConfirmed {
		t.Errorf("DriverReviewOutcome = %v, want CONFIRMED", reviewed.DriverReviewOutcome)
	}
	last := reviewed.History[len(reviewed.History)-1]
	if last.Action != journal.ActionConfirmedEdit {
		t.Errorf("last history action = %s, want CONFIRMED_EDIT", last.Action)
	}
	if last.RevertedToVersionID != nil {
		t.Error("confirmation must not record a reverted-to version")
	}

	// Review never recomputes hashes and never creates a new version.
	if reviewed.TamperEvidence != hashBefore {
		t.Error("Review() changed tamper evidence")
	}
	if reviewed.VersionNumber != v2.VersionNumber {
		t.Errorf("Review() changed version number to %d", reviewed.VersionNumber)
	}
}

func TestFactory_Review_RejectRecordsReinstatedVersion(t *testing.T) {
	h := journal.SHA256Provider{}
	f := NewFactory(h, seqIdentity())
	genesis := GenesisHash(h, testScope())
	v1 := mustCreate(t, f, "ev-1", genesis)

	v2, err := f.Edit(EditParams{
		NewEventID:        "ev-2",
		SupersededEventID: "ev-1",
		Superseded:        v1,
		Scope:             testScope(),
		Editor:            carrier(),
		Reason:            journal.EditReason{Code: journal.ReasonIncorrectStatus},
		Fields:            testFields(1),
		PreviousChainHash: genesis,
	})
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}

	reviewed, err := f.Review(ReviewParams{
		EventID:  "ev-2",
		Meta:     v2,
		Reviewer: driver(),
		Outcome:  journal.ReviewRejected,
	})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	last := reviewed.History[len(reviewed.History)-1]
	if last.Action != journal.ActionRejectedEdit {
		t.Errorf("last history action = %s, want REJECTED_EDIT", last.Action)
	}
	if last.RevertedToVersionID == nil || *last.RevertedToVersionID != "ev-1" {
		t.Errorf("RevertedToVersionID = %v, want ev-1", last.RevertedToVersionID)
	}
}

func TestFactory_Review_Preconditions(t *testing.T) {
	f := NewFactory(nil, seqIdentity())

	_, err := f.Review(ReviewParams{
		EventID:  "ev-2",
		Reviewer: carrier(),
		Outcome:  journal.ReviewConfirmed,
	})
	if !errors.Is(err, ErrReviewerNotDriver) {
		t.Errorf("Review() by carrier error = %v, want ErrReviewerNotDriver", err)
	}

	// Rejecting a version-1 record has nothing to reinstate.
	_, err = f.Review(ReviewParams{
		EventID:  "ev-1",
		Meta:     journal.AuditMetadata{VersionNumber: 1},
		Reviewer: driver(),
		Outcome:  journal.ReviewRejected,
	})
	if !errors.Is(err, ErrNoPriorVersion) {
		t.Errorf("Review() reject v1 error = %v, want ErrNoPriorVersion", err)
	}
}
