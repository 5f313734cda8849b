package api

import (
	"time"

	"github.com/openeld/journal/internal/hashchain"
	"github.com/openeld/journal/internal/journal"
	"github.com/openeld/journal/internal/record"
	"github.com/openeld/journal/internal/sequence"
)

// View types translate domain values into the wire representation. Enums go
// out as their exchange-format names, never as raw integers.

// PositionView is an optional recorded vehicle position.
type PositionView struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FieldsView is the hashable field set of a record version.
type FieldsView struct {
	SequenceID          uint16        `json:"sequence_id"`
	SequenceIDFormatted string        `json:"sequence_id_formatted"`
	EventType           string        `json:"event_type"`
	EventCode           string        `json:"event_code"`
	EventDate           string        `json:"event_date"`
	EventTime           string        `json:"event_time"`
	Timezone            string        `json:"timezone"`
	VehicleMiles        uint32        `json:"vehicle_miles"`
	EngineHours         float64       `json:"engine_hours"`
	Position            *PositionView `json:"position,omitempty"`
	Checksum            string        `json:"checksum"`
	AccountID           string        `json:"account_id"`
	DeviceID            string        `json:"device_id"`
}

// ActorView identifies who performed an action.
type ActorView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	DisplayName string `json:"display_name,omitempty"`
}

// EvidenceView is the tamper evidence of a record version.
type EvidenceView struct {
	ContentHash       string    `json:"content_hash"`
	ChainHash         string    `json:"chain_hash"`
	PreviousChainHash *string   `json:"previous_chain_hash"`
	RecordVersion     uint32    `json:"record_version"`
	HashedAt          time.Time `json:"hashed_at"`
}

// ReasonView is the structured justification of an edit.
type ReasonView struct {
	Code string `json:"code"`
	Text string `json:"text,omitempty"`
}

// DiffView is one changed field in an edit.
type DiffView struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// HistoryEntryView is one line of a record's audit history.
type HistoryEntryView struct {
	ID                  string      `json:"id"`
	EventID             string      `json:"event_id"`
	PreviousVersionID   *string     `json:"previous_version_id,omitempty"`
	Action              string      `json:"action"`
	Actor               ActorView   `json:"actor"`
	PerformedAt         time.Time   `json:"performed_at"`
	RequestID           string      `json:"request_id,omitempty"`
	IPAddress           string      `json:"ip_address,omitempty"`
	Reason              *ReasonView `json:"reason,omitempty"`
	Diffs               []DiffView  `json:"diffs,omitempty"`
	RevertedToVersionID *string     `json:"reverted_to_version_id,omitempty"`
}

// MetaView is the audit metadata of a record version.
type MetaView struct {
	SchemaVersion        int                `json:"schema_version"`
	CreatedBy            ActorView          `json:"created_by"`
	CreatedAt            time.Time          `json:"created_at"`
	VersionNumber        uint32             `json:"version_number"`
	PreviousVersionID    *string            `json:"previous_version_id,omitempty"`
	OriginalVersionID    string             `json:"original_version_id"`
	RequiresDriverReview bool               `json:"requires_driver_review"`
	DriverReviewedAt     *time.Time         `json:"driver_reviewed_at,omitempty"`
	DriverReviewOutcome  *string            `json:"driver_review_outcome,omitempty"`
	History              []HistoryEntryView `json:"history"`
	TamperEvidence       EvidenceView       `json:"tamper_evidence"`
}

// RecordView is one stored record version as returned by the API.
type RecordView struct {
	ID        string     `json:"id"`
	DeviceID  string     `json:"device_id"`
	LogDate   string     `json:"log_date"`
	Status    string     `json:"status"`
	Fields    FieldsView `json:"fields"`
	Meta      MetaView   `json:"meta"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FindingView is one verifier-reported divergence.
type FindingView struct {
	Severity   string `json:"severity"`
	Code       string `json:"code"`
	RecordID   string `json:"record_id"`
	SequenceID uint16 `json:"sequence_id"`
	Message    string `json:"message"`
}

// VerifyView is the outcome of replaying one scope's chain.
type VerifyView struct {
	DeviceID       string         `json:"device_id"`
	LogDate        string         `json:"log_date"`
	Valid          bool           `json:"valid"`
	RecordsChecked int            `json:"records_checked"`
	Findings       []FindingView  `json:"findings"`
	Summary        map[string]int `json:"summary"`
}

func newPositionView(p *journal.Position) *PositionView {
	if p == nil {
		return nil
	}
	return &PositionView{Latitude: p.Latitude, Longitude: p.Longitude}
}

func newFieldsView(f journal.HashableFields) FieldsView {
	return FieldsView{
		SequenceID:          f.SequenceID,
		SequenceIDFormatted: sequence.Format(f.SequenceID),
		EventType:           f.EventType,
		EventCode:           f.EventCode,
		EventDate:           f.EventDate,
		EventTime:           f.EventTime,
		Timezone:            f.Timezone,
		VehicleMiles:        f.VehicleMiles,
		EngineHours:         f.EngineHours,
		Position:            newPositionView(f.Position),
		Checksum:            f.Checksum,
		AccountID:           f.AccountID,
		DeviceID:            f.DeviceID,
	}
}

func newActorView(a journal.Actor) ActorView {
	return ActorView{ID: a.ID, Kind: a.Kind.String(), DisplayName: a.DisplayName}
}

func newEvidenceView(e journal.TamperEvidence) EvidenceView {
	return EvidenceView{
		ContentHash:       e.ContentHash,
		ChainHash:         e.ChainHash,
		PreviousChainHash: e.PreviousChainHash,
		RecordVersion:     e.RecordVersion,
		HashedAt:          e.HashedAt,
	}
}

func newHistoryEntryView(e journal.AuditEntry) HistoryEntryView {
	v := HistoryEntryView{
		ID:                  e.ID,
		EventID:             e.EventID,
		PreviousVersionID:   e.PreviousVersionID,
		Action:              e.Action.String(),
		Actor:               newActorView(e.Actor),
		PerformedAt:         e.PerformedAt,
		RequestID:           e.RequestID,
		IPAddress:           e.IPAddress,
		RevertedToVersionID: e.RevertedToVersionID,
	}
	if e.Reason != nil {
		v.Reason = &ReasonView{Code: e.Reason.Code.String(), Text: e.Reason.Text}
	}
	for _, d := range e.Diffs {
		v.Diffs = append(v.Diffs, DiffView{Field: d.Field, Old: d.Old, New: d.New})
	}
	return v
}

func newMetaView(m journal.AuditMetadata) MetaView {
	v := MetaView{
		SchemaVersion:        m.SchemaVersion,
		CreatedBy:            newActorView(m.CreatedBy),
		CreatedAt:            m.CreatedAt,
		VersionNumber:        m.VersionNumber,
		PreviousVersionID:    m.PreviousVersionID,
		OriginalVersionID:    m.OriginalVersionID,
		RequiresDriverReview: m.RequiresDriverReview,
		DriverReviewedAt:     m.DriverReviewedAt,
		TamperEvidence:       newEvidenceView(m.TamperEvidence),
	}
	if m.DriverReviewOutcome != nil {
		outcome := m.DriverReviewOutcome.String()
		v.DriverReviewOutcome = &outcome
	}
	v.History = make([]HistoryEntryView, 0, len(m.History))
	for _, e := range m.History {
		v.History = append(v.History, newHistoryEntryView(e))
	}
	return v
}

func newRecordView(rec *record.Record) RecordView {
	return RecordView{
		ID:        rec.ID,
		DeviceID:  rec.Scope.DeviceID,
		LogDate:   rec.Scope.LogDate,
		Status:    rec.Status.String(),
		Fields:    newFieldsView(rec.Fields),
		Meta:      newMetaView(rec.Meta),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func newVerifyView(scope journal.Scope, res hashchain.Result) VerifyView {
	v := VerifyView{
		DeviceID:       scope.DeviceID,
		LogDate:        scope.LogDate,
		Valid:          res.Valid,
		RecordsChecked: res.RecordsChecked,
		Findings:       make([]FindingView, 0, len(res.Findings)),
		Summary:        make(map[string]int, len(res.Summary)),
	}
	for _, f := range res.Findings {
		v.Findings = append(v.Findings, FindingView{
			Severity:   f.Severity.String(),
			Code:       f.Code.String(),
			RecordID:   f.RecordID,
			SequenceID: f.SequenceID,
			Message:    f.Message,
		})
	}
	for sev, n := range res.Summary {
		v.Summary[sev.String()] = n
	}
	return v
}
