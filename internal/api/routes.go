package api

import (
	"net/http"
	"strings"

	"github.com/openeld/journal/internal/middleware"
)

// Register wires the record handlers onto mux. Path parameters are parsed by
// the handlers themselves.
func (h *RecordHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		h.CreateRecord(w, r)
	})
	mux.HandleFunc("/v1/records/", h.recordSubtree)
	mux.HandleFunc("/v1/scopes/", h.scopeSubtree)
}

// recordSubtree dispatches /v1/records/{id}[/edits|/review|/versions].
func (h *RecordHandlers) recordSubtree(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/records/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		h.GetRecord(w, r)
	case len(parts) == 2 && parts[1] == "edits":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		h.EditRecord(w, r)
	case len(parts) == 2 && parts[1] == "review":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		h.ReviewRecord(w, r)
	case len(parts) == 2 && parts[1] == "versions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		h.ListVersions(w, r)
	default:
		notFound(w, r)
	}
}

// scopeSubtree dispatches /v1/scopes/{deviceID}/{logDate}/records|verify|export.
func (h *RecordHandlers) scopeSubtree(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/scopes/"), "/")
	if len(parts) != 3 {
		notFound(w, r)
		return
	}
	switch parts[2] {
	case "records":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		h.ListScopeRecords(w, r)
	case "verify":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		h.VerifyScope(w, r)
	case "export":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		h.ExportScope(w, r)
	default:
		notFound(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
	WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
	WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Not found")
}
