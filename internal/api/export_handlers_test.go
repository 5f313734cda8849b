package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/openeld/journal/internal/export"
)

func testArchiver(t *testing.T) *export.Archiver {
	t.Helper()
	archiver, err := export.NewArchiver(export.ArchiverConfig{
		BucketName:      "eld-exports",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Endpoint:        "https://storage.invalid",
	}, nil)
	if err != nil {
		t.Fatalf("NewArchiver() error = %v", err)
	}
	return archiver
}

func TestExportScope_Unavailable(t *testing.T) {
	h, _ := testHandlers(t)

	rr := doJSON(t, h.ExportScope, http.MethodPost, "/v1/scopes/ELD-001/2026-03-14/export", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ExportScope status = %d, want 503", rr.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Code != ErrCodeExportUnavailable {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeExportUnavailable)
	}
}

func TestExportScope_InvalidFormat(t *testing.T) {
	h, repo := testHandlers(t)
	h.EnableExport(export.NewExporter(repo, nil, nil, nil), testArchiver(t))

	rr := doJSON(t, h.ExportScope, http.MethodPost, "/v1/scopes/ELD-001/2026-03-14/export", nil,
		ExportScopeRequest{Format: "xml"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("ExportScope status = %d, want 400, body: %s", rr.Code, rr.Body.String())
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Code != ErrCodeValidation {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeValidation)
	}
}

func TestExportScope_TamperedChainRefused(t *testing.T) {
	h, repo := testHandlers(t)
	h.EnableExport(export.NewExporter(repo, nil, nil, nil), testArchiver(t))

	actor := driverActor()
	created := createRecord(t, h, actor, 1)

	// Mutate the stored business data after hashing.
	rec, err := repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	rec.Fields.VehicleMiles += 500
	if err := repo.Update(context.Background(), rec); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	rr := doJSON(t, h.ExportScope, http.MethodPost, "/v1/scopes/ELD-001/2026-03-14/export", nil, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("ExportScope status = %d, want 409, body: %s", rr.Code, rr.Body.String())
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Code != ErrCodeConflict {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeConflict)
	}
}
