package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/openeld/journal/internal/export"
	"github.com/openeld/journal/internal/journal"
	"github.com/openeld/journal/internal/middleware"
)

// ExportScopeRequest is the request body for archiving a scope's verified
// records. Format defaults to JSON lines.
type ExportScopeRequest struct {
	Format string `json:"format,omitempty"`
}

// ExportView describes a stored export object.
type ExportView struct {
	Key         string        `json:"key"`
	Format      string        `json:"format"`
	SizeBytes   int64         `json:"size_bytes"`
	StoredAt    time.Time     `json:"stored_at"`
	RecordCount int           `json:"record_count"`
	Findings    []FindingView `json:"findings"`
}

// EnableExport attaches the compliance export surface. Without it, the
// export endpoint answers 503.
func (h *RecordHandlers) EnableExport(exporter *export.Exporter, archiver *export.Archiver) {
	h.exporter = exporter
	h.archiver = archiver
}

// ExportScope handles POST /v1/scopes/{deviceID}/{logDate}/export. The
// scope's chain is verified, merged into canonical order, serialized, and
// archived; a tampered chain refuses to export.
func (h *RecordHandlers) ExportScope(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil || h.archiver == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeExportUnavailable)
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeExportUnavailable, "Export archive is not configured")
		return
	}

	scope, ok := h.scopeFromPath(w, r)
	if !ok {
		return
	}

	format := export.FormatJSONL
	if r.ContentLength != 0 {
		var req ExportScopeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
			return
		}
		if req.Format != "" {
			format = export.Format(req.Format)
			if !format.Valid() {
				ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
				WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Format must be jsonl or csv")
				return
			}
		}
	}

	bundle, err := h.exporter.Build(r.Context(), []journal.Scope{scope})
	if err != nil {
		if errors.Is(err, export.ErrChainInvalid) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Scope chain failed verification")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to build export")
		return
	}

	result, err := h.archiver.Archive(r.Context(), bundle, format)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "export archive upload failed",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()))
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to archive export")
		return
	}

	view := ExportView{
		Key:         result.Key,
		Format:      string(format),
		SizeBytes:   result.SizeBytes,
		StoredAt:    result.StoredAt,
		RecordCount: len(bundle.Lines),
		Findings:    make([]FindingView, 0, len(bundle.Findings)),
	}
	for _, f := range bundle.Findings {
		view.Findings = append(view.Findings, FindingView{
			Severity:   f.Severity.String(),
			Code:       f.Code.String(),
			RecordID:   f.RecordID,
			SequenceID: f.SequenceID,
			Message:    f.Message,
		})
	}

	h.logger.InfoContext(r.Context(), "scope exported",
		slog.String("scope", scope.String()),
		slog.String("key", result.Key),
		slog.Int("records", len(bundle.Lines)))

	writeJSON(w, http.StatusCreated, view)
}
