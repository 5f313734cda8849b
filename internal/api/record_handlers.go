package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openeld/journal/internal/auth"
	"github.com/openeld/journal/internal/export"
	"github.com/openeld/journal/internal/hashchain"
	"github.com/openeld/journal/internal/journal"
	"github.com/openeld/journal/internal/middleware"
	"github.com/openeld/journal/internal/record"
	"github.com/openeld/journal/internal/sequence"
	"github.com/openeld/journal/internal/store"
	"github.com/openeld/journal/internal/tracing"
)

// CreateRecordRequest is the request body for recording a new duty-status
// event. The sequence identifier is always allocated server-side.
type CreateRecordRequest struct {
	DeviceID     string        `json:"device_id"`
	LogDate      string        `json:"log_date"`
	EventType    string        `json:"event_type"`
	EventCode    string        `json:"event_code"`
	EventDate    string        `json:"event_date"`
	EventTime    string        `json:"event_time"`
	Timezone     string        `json:"timezone"`
	VehicleMiles uint32        `json:"vehicle_miles"`
	EngineHours  float64       `json:"engine_hours"`
	Position     *PositionView `json:"position,omitempty"`
	Checksum     string        `json:"checksum"`
	AccountID    string        `json:"account_id"`
}

// EditRecordRequest is the request body for superseding a record version.
// Only provided fields change; everything else carries over from the
// superseded version. Sequence identifier, device, and account never change
// across versions.
type EditRecordRequest struct {
	Reason       ReasonView    `json:"reason"`
	EventType    *string       `json:"event_type,omitempty"`
	EventCode    *string       `json:"event_code,omitempty"`
	EventDate    *string       `json:"event_date,omitempty"`
	EventTime    *string       `json:"event_time,omitempty"`
	Timezone     *string       `json:"timezone,omitempty"`
	VehicleMiles *uint32       `json:"vehicle_miles,omitempty"`
	EngineHours  *float64      `json:"engine_hours,omitempty"`
	Position     *PositionView `json:"position,omitempty"`
	Checksum     *string       `json:"checksum,omitempty"`
}

// ReviewRecordRequest is the request body for a driver's review verdict on a
// proposed edit.
type ReviewRecordRequest struct {
	Outcome string `json:"outcome"`
}

// RecordHandlers holds dependencies for duty-status record HTTP handlers.
type RecordHandlers struct {
	repo     record.Repository
	alloc    *sequence.Allocator
	factory  *hashchain.Factory
	verifier *hashchain.Verifier
	hash     journal.HashProvider
	logger   *slog.Logger
	now      func() time.Time

	// Optional compliance export surface; nil until EnableExport is called.
	exporter *export.Exporter
	archiver *export.Archiver
}

// NewRecordHandlers creates a new RecordHandlers instance. hash and logger
// may be nil; nil falls back to SHA-256 and the default logger.
func NewRecordHandlers(repo record.Repository, alloc *sequence.Allocator, factory *hashchain.Factory, verifier *hashchain.Verifier, hash journal.HashProvider, logger *slog.Logger) *RecordHandlers {
	if hash == nil {
		hash = journal.SHA256Provider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordHandlers{
		repo:     repo,
		alloc:    alloc,
		factory:  factory,
		verifier: verifier,
		hash:     hash,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateRecord handles POST /v1/records - records a new duty-status event.
func (h *RecordHandlers) CreateRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	scope := journal.Scope{DeviceID: strings.TrimSpace(req.DeviceID), LogDate: strings.TrimSpace(req.LogDate)}
	if err := scope.Validate(); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if errMsg := validateEventFields(req.EventType, req.EventCode, req.EventDate, req.EventTime); errMsg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, errMsg)
		return
	}

	alloc, err := h.alloc.Allocate(r.Context(), scope)
	if err != nil {
		h.writeAllocationError(w, r, scope, err)
		return
	}

	active, err := h.repo.ListActiveByScope(r.Context(), scope)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load scope records")
		return
	}
	previous := hashchain.GenesisHash(h.hash, scope)
	if len(active) > 0 {
		previous = active[len(active)-1].Meta.TamperEvidence.ChainHash
	}

	fields := journal.HashableFields{
		SequenceID:   alloc.ID,
		EventType:    req.EventType,
		EventCode:    req.EventCode,
		EventDate:    req.EventDate,
		EventTime:    req.EventTime,
		Timezone:     req.Timezone,
		VehicleMiles: req.VehicleMiles,
		EngineHours:  req.EngineHours,
		Checksum:     req.Checksum,
		AccountID:    req.AccountID,
		DeviceID:     scope.DeviceID,
	}
	if req.Position != nil {
		fields.Position = &journal.Position{Latitude: req.Position.Latitude, Longitude: req.Position.Longitude}
	}

	eventID := uuid.New().String()
	meta, err := h.factory.Create(hashchain.CreateParams{
		EventID:           eventID,
		Scope:             scope,
		Creator:           actor,
		Fields:            fields,
		PreviousChainHash: previous,
		RequestID:         middleware.GetRequestID(r.Context()),
		IPAddress:         clientIP(r),
	})
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	now := h.now().UTC()
	rec := &record.Record{
		ID:        eventID,
		Scope:     scope,
		Fields:    fields,
		Status:    journal.StatusActive,
		Meta:      meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.Insert(r.Context(), rec); err != nil {
		if errors.Is(err, record.ErrDuplicateID) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Record ID already exists")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to store record")
		return
	}

	h.logger.InfoContext(r.Context(), "duty-status record created",
		slog.String("record_id", rec.ID),
		slog.String("scope", scope.String()),
		slog.Uint64("sequence_id", uint64(alloc.ID)))

	writeJSON(w, http.StatusCreated, newRecordView(rec))
}

// GetRecord handles GET /v1/records/{id}.
func (h *RecordHandlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := recordIDFromPath(r.URL.Path)
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Record ID is required")
		return
	}

	rec := h.getRecord(w, r, id)
	if rec == nil {
		return
	}
	writeJSON(w, http.StatusOK, newRecordView(rec))
}

// ListVersions handles GET /v1/records/{id}/versions - every version of the
// logical event the record belongs to, oldest first.
func (h *RecordHandlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	id := recordIDFromPath(r.URL.Path)
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Record ID is required")
		return
	}

	rec := h.getRecord(w, r, id)
	if rec == nil {
		return
	}

	versions, err := h.repo.ListVersions(r.Context(), rec.Meta.OriginalVersionID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load record versions")
		return
	}

	views := make([]RecordView, 0, len(versions))
	for _, v := range versions {
		views = append(views, newRecordView(v))
	}
	writeJSON(w, http.StatusOK, views)
}

// EditRecord handles POST /v1/records/{id}/edits - supersedes the active
// version of a record with a corrected one. The old version is retired, the
// new version takes over the same sequence slot, and every successor in the
// scope's chain is re-linked over the new content.
func (h *RecordHandlers) EditRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	id := recordIDFromPath(r.URL.Path)
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Record ID is required")
		return
	}

	var req EditRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	reasonCode, err := journal.ParseEditReasonCode(req.Reason.Code)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	superseded := h.getRecord(w, r, id)
	if superseded == nil {
		return
	}
	if superseded.Status != journal.StatusActive {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeRecordInactive)
		WriteError(w, ctx, http.StatusConflict, ErrCodeRecordInactive, "Only the active version of a record can be edited")
		return
	}

	newFields := applyEdit(superseded.Fields, req)
	diffs := diffFields(superseded.Fields, newFields)
	if len(diffs) == 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Edit changes no fields")
		return
	}

	active, err := h.repo.ListActiveByScope(r.Context(), superseded.Scope)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load scope records")
		return
	}
	idx := indexOf(active, superseded.ID)
	if idx < 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeRecordInactive)
		WriteError(w, ctx, http.StatusConflict, ErrCodeRecordInactive, "Record is no longer part of the scope's active set")
		return
	}
	previous := hashchain.GenesisHash(h.hash, superseded.Scope)
	if idx > 0 {
		previous = active[idx-1].Meta.TamperEvidence.ChainHash
	}

	newID := uuid.New().String()
	meta, err := h.factory.Edit(hashchain.EditParams{
		NewEventID:        newID,
		SupersededEventID: superseded.ID,
		Superseded:        superseded.Meta,
		Scope:             superseded.Scope,
		Editor:            actor,
		Diffs:             diffs,
		Reason:            journal.EditReason{Code: reasonCode, Text: req.Reason.Text},
		Fields:            newFields,
		PreviousChainHash: previous,
		RequestID:         middleware.GetRequestID(r.Context()),
		IPAddress:         clientIP(r),
	})
	if err != nil {
		if errors.Is(err, hashchain.ErrReasonTextTooShort) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeReasonRequired)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeReasonRequired, err.Error())
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	now := h.now().UTC()
	newRec := &record.Record{
		ID:        newID,
		Scope:     superseded.Scope,
		Fields:    newFields,
		Status:    journal.StatusActive,
		Meta:      meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// A driver correcting their own log retires the old version outright; a
	// carrier-side or support edit leaves it awaiting the driver's review.
	retired := journal.StatusInactiveChanged
	if actor.Kind == journal.ActorCarrier || actor.Kind == journal.ActorSupport {
		retired = journal.StatusInactiveChangeRequested
	}
	superseded.Status = retired
	superseded.UpdatedAt = now

	// One atomic write: the new version and the retirement of the old one
	// land together, so the scope never holds two active versions of the
	// same sequence slot.
	if err := h.repo.Supersede(r.Context(), newRec, superseded); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to store edited record")
		return
	}

	// The new version slots into the superseded one's chain position, so
	// every successor's linkage must be recomputed and persisted.
	active[idx] = newRec
	if err := h.relinkScope(r, active, now); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to re-link scope chain")
		return
	}

	h.logger.InfoContext(r.Context(), "duty-status record edited",
		slog.String("record_id", newRec.ID),
		slog.String("superseded_id", superseded.ID),
		slog.String("scope", superseded.Scope.String()),
		slog.String("editor_kind", actor.Kind.String()),
		slog.Bool("requires_driver_review", meta.RequiresDriverReview))

	writeJSON(w, http.StatusCreated, newRecordView(newRec))
}

// ReviewRecord handles POST /v1/records/{id}/review - records the driver's
// verdict on a proposed edit. Confirmation keeps the proposed version active;
// rejection retires it and reinstates the version it superseded.
func (h *RecordHandlers) ReviewRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	id := recordIDFromPath(r.URL.Path)
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Record ID is required")
		return
	}

	var req ReviewRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	outcome, err := journal.ParseReviewOutcome(req.Outcome)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	rec := h.getRecord(w, r, id)
	if rec == nil {
		return
	}
	if !rec.Meta.RequiresDriverReview || rec.Status != journal.StatusActive {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeReviewNotPending)
		WriteError(w, ctx, http.StatusConflict, ErrCodeReviewNotPending, "Record has no driver review pending")
		return
	}

	meta, err := h.factory.Review(hashchain.ReviewParams{
		EventID:   rec.ID,
		Meta:      rec.Meta,
		Reviewer:  actor,
		Outcome:   outcome,
		RequestID: middleware.GetRequestID(r.Context()),
		IPAddress: clientIP(r),
	})
	if err != nil {
		if errors.Is(err, hashchain.ErrReviewerNotDriver) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeReviewForbidden)
			WriteError(w, ctx, http.StatusForbidden, ErrCodeReviewForbidden, err.Error())
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	now := h.now().UTC()
	rec.Meta = meta
	rec.UpdatedAt = now

	if outcome == journal.ReviewConfirmed {
		if err := h.repo.Update(r.Context(), rec); err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to store review outcome")
			return
		}
		h.logger.InfoContext(r.Context(), "proposed edit confirmed by driver",
			slog.String("record_id", rec.ID),
			slog.String("driver_id", actor.ID))
		writeJSON(w, http.StatusOK, newRecordView(rec))
		return
	}

	// Rejection: the proposed version is retired and the version it
	// superseded becomes active again. Reinstatement is a system action on
	// the prior version, outside the per-version status state machine.
	reverted := meta.History[len(meta.History)-1].RevertedToVersionID
	prior, err := h.repo.GetByID(r.Context(), *reverted)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load reinstated version")
		return
	}

	rec.Status = journal.StatusInactiveChanged
	if err := h.repo.Update(r.Context(), rec); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retire rejected record")
		return
	}

	prior.Status = journal.StatusActive
	prior.UpdatedAt = now
	if err := h.repo.Update(r.Context(), prior); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to reinstate prior version")
		return
	}

	active, err := h.repo.ListActiveByScope(r.Context(), rec.Scope)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load scope records")
		return
	}
	if err := h.relinkScope(r, active, now); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to re-link scope chain")
		return
	}

	h.logger.InfoContext(r.Context(), "proposed edit rejected by driver",
		slog.String("record_id", rec.ID),
		slog.String("reinstated_id", prior.ID),
		slog.String("driver_id", actor.ID))

	writeJSON(w, http.StatusOK, newRecordView(rec))
}

// ListScopeRecords handles GET /v1/scopes/{deviceID}/{logDate}/records -
// the scope's active record set in chain order.
func (h *RecordHandlers) ListScopeRecords(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFromPath(w, r)
	if !ok {
		return
	}

	active, err := h.repo.ListActiveByScope(r.Context(), scope)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load scope records")
		return
	}

	views := make([]RecordView, 0, len(active))
	for _, rec := range active {
		views = append(views, newRecordView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

// VerifyScope handles GET /v1/scopes/{deviceID}/{logDate}/verify - replays
// the scope's chain and reports tamper findings.
func (h *RecordHandlers) VerifyScope(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFromPath(w, r)
	if !ok {
		return
	}

	active, err := h.repo.ListActiveByScope(r.Context(), scope)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load scope records")
		return
	}

	res := h.verifier.Verify(scope, chainRecords(active), hashchain.FieldsExtractor)
	if !res.Valid {
		h.logger.WarnContext(r.Context(), "chain verification found tamper evidence",
			slog.String("scope", scope.String()),
			slog.Int("findings", len(res.Findings)))
	}

	writeJSON(w, http.StatusOK, newVerifyView(scope, res))
}

// getRecord loads a record by ID, writing the error response itself when the
// load fails. A nil return means the response has been written.
func (h *RecordHandlers) getRecord(w http.ResponseWriter, r *http.Request, id string) *record.Record {
	rec, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Record not found")
			return nil
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load record")
		return nil
	}
	return rec
}

// relinkScope recomputes the chain linkage over the scope's active set and
// persists every record whose evidence changed.
func (h *RecordHandlers) relinkScope(r *http.Request, active []*record.Record, now time.Time) (err error) {
	if len(active) == 0 {
		return nil
	}
	scope := active[0].Scope

	ctx, endSpan := tracing.StartSpan(r.Context(), "relink_scope_chain")
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx, tracing.ScopeAttributes(scope.DeviceID, scope.LogDate)...)

	relinked := hashchain.Relink(h.hash, scope, chainRecords(active), now)
	rewritten := 0
	for i, ev := range relinked {
		if ev == active[i].Meta.TamperEvidence {
			continue
		}
		active[i].Meta.TamperEvidence = ev
		active[i].UpdatedAt = now.UTC()
		if err = h.repo.Update(ctx, active[i]); err != nil {
			return err
		}
		rewritten++
	}
	tracing.AddEvent(ctx, "chain_relinked",
		attribute.Int("records.total", len(active)),
		attribute.Int("records.rewritten", rewritten))
	return nil
}

func (h *RecordHandlers) scopeFromPath(w http.ResponseWriter, r *http.Request) (journal.Scope, bool) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/scopes/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Device ID and log date are required")
		return journal.Scope{}, false
	}
	scope := journal.Scope{DeviceID: parts[0], LogDate: parts[1]}
	if err := scope.Validate(); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return journal.Scope{}, false
	}
	return scope, true
}

func (h *RecordHandlers) writeAllocationError(w http.ResponseWriter, r *http.Request, scope journal.Scope, err error) {
	switch {
	case errors.Is(err, sequence.ErrScopeExhausted):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeSequenceExhausted)
		WriteError(w, ctx, http.StatusConflict, ErrCodeSequenceExhausted, "Sequence space for this device and day is exhausted")
	case errors.Is(err, sequence.ErrScopeAnomalous):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeScopeAnomalous)
		WriteError(w, ctx, http.StatusConflict, ErrCodeScopeAnomalous, "Scope is flagged anomalous and cannot issue identifiers")
	case errors.Is(err, store.ErrStateConflict):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
		WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Concurrent allocation detected, retry the request")
	default:
		h.logger.ErrorContext(r.Context(), "sequence allocation failed",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()))
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to allocate sequence identifier")
	}
}

// chainRecords converts stored records into the verifier's chain view.
func chainRecords(recs []*record.Record) []hashchain.ChainRecord {
	out := make([]hashchain.ChainRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, hashchain.ChainRecord{
			ID:         rec.ID,
			SequenceID: rec.Fields.SequenceID,
			Fields:     rec.Fields,
			Evidence:   rec.Meta.TamperEvidence,
		})
	}
	return out
}

// applyEdit carries the superseded version's fields forward and overlays the
// provided changes. Identity fields never change.
func applyEdit(old journal.HashableFields, req EditRecordRequest) journal.HashableFields {
	f := old
	if req.EventType != nil {
		f.EventType = *req.EventType
	}
	if req.EventCode != nil {
		f.EventCode = *req.EventCode
	}
	if req.EventDate != nil {
		f.EventDate = *req.EventDate
	}
	if req.EventTime != nil {
		f.EventTime = *req.EventTime
	}
	if req.Timezone != nil {
		f.Timezone = *req.Timezone
	}
	if req.VehicleMiles != nil {
		f.VehicleMiles = *req.VehicleMiles
	}
	if req.EngineHours != nil {
		f.EngineHours = *req.EngineHours
	}
	if req.Position != nil {
		f.Position = &journal.Position{Latitude: req.Position.Latitude, Longitude: req.Position.Longitude}
	}
	if req.Checksum != nil {
		f.Checksum = *req.Checksum
	}
	return f
}

// diffFields lists every hashable field whose canonical encoding changed.
func diffFields(old, new journal.HashableFields) []journal.FieldDiff {
	var diffs []journal.FieldDiff
	oldPairs := canonicalPairs(old)
	newPairs := canonicalPairs(new)
	for i, p := range oldPairs {
		if p.value != newPairs[i].value {
			diffs = append(diffs, journal.FieldDiff{Field: p.key, Old: p.value, New: newPairs[i].value})
		}
	}
	return diffs
}

type fieldPair struct {
	key   string
	value string
}

// canonicalPairs splits the canonical encoding back into ordered pairs so
// diffs use exactly the encoding the hashes cover.
func canonicalPairs(f journal.HashableFields) []fieldPair {
	parts := strings.Split(f.Canonical(), "&")
	pairs := make([]fieldPair, 0, len(parts))
	for _, p := range parts {
		key, value, _ := strings.Cut(p, "=")
		pairs = append(pairs, fieldPair{key: key, value: value})
	}
	return pairs
}

func validateEventFields(eventType, eventCode, eventDate, eventTime string) string {
	if strings.TrimSpace(eventType) == "" {
		return "event_type is required"
	}
	if strings.TrimSpace(eventCode) == "" {
		return "event_code is required"
	}
	if _, err := journal.ParseCalendarDate(eventDate); err != nil {
		return "event_date must be YYYY-MM-DD"
	}
	if _, err := time.Parse("15:04:05", eventTime); err != nil {
		return "event_time must be HH:MM:SS"
	}
	return ""
}

func indexOf(recs []*record.Record, id string) int {
	for i, rec := range recs {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

// recordIDFromPath extracts the record ID segment from /v1/records/{id}[/...].
func recordIDFromPath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/v1/records/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// clientIP extracts the originating client address, preferring the first
// X-Forwarded-For entry when a proxy sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return
	}
}
