// Package export assembles verified journal records from one or more device
// scopes into a single deterministically ordered compliance export: verify
// each scope's chain, merge across devices, assign export sequence
// identifiers, and serialize to neutral line formats.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openeld/journal/internal/hashchain"
	"github.com/openeld/journal/internal/journal"
	"github.com/openeld/journal/internal/merge"
	"github.com/openeld/journal/internal/record"
	"github.com/openeld/journal/internal/sequence"
	"github.com/openeld/journal/internal/tracing"
)

// Export errors.
var (
	ErrNoScopes     = errors.New("export requires at least one scope")
	ErrChainInvalid = errors.New("scope chain failed verification")
)

// Line is one entry of the merged export. ExportSequenceID is the record's
// position in the cross-device order; SequenceID retains the scope-local
// identifier, so provenance survives the merge.
type Line struct {
	ExportSequenceID    int      `json:"export_sequence_id"`
	RecordID            string   `json:"record_id"`
	DeviceID            string   `json:"device_id"`
	LogDate             string   `json:"log_date"`
	SequenceID          uint16   `json:"sequence_id"`
	SequenceIDFormatted string   `json:"sequence_id_formatted"`
	EventType           string   `json:"event_type"`
	EventCode           string   `json:"event_code"`
	EventDate           string   `json:"event_date"`
	EventTime           string   `json:"event_time"`
	Timezone            string   `json:"timezone"`
	VehicleMiles        uint32   `json:"vehicle_miles"`
	EngineHours         float64  `json:"engine_hours"`
	Latitude            *float64 `json:"latitude,omitempty"`
	Longitude           *float64 `json:"longitude,omitempty"`
	Checksum            string   `json:"checksum"`
	AccountID           string   `json:"account_id"`
	ContentHash         string   `json:"content_hash"`
	ChainHash           string   `json:"chain_hash"`
}

// Bundle is one assembled export: the merged lines plus the verification
// findings gathered while building it. A bundle is only produced when every
// scope verified without TAMPER findings; WARN findings are carried along
// for the audit trail.
type Bundle struct {
	GeneratedAt time.Time
	Scopes      []journal.Scope
	Lines       []Line
	Findings    []hashchain.Finding
}

// Exporter builds compliance export bundles from the record store.
type Exporter struct {
	repo     record.Repository
	verifier *hashchain.Verifier
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewExporter creates an Exporter. A nil verifier falls back to SHA-256
// verification, nil metrics to a fresh unregistered set, and a nil logger
// to the default.
func NewExporter(repo record.Repository, verifier *hashchain.Verifier, metrics *Metrics, logger *slog.Logger) *Exporter {
	if verifier == nil {
		verifier = hashchain.NewVerifier(nil)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		repo:     repo,
		verifier: verifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Build verifies every scope's chain, merges the active records across
// scopes into canonical order, and assigns export sequence identifiers.
// Any TAMPER finding aborts the export: a bundle is evidence, and evidence
// from a broken chain is worthless.
func (e *Exporter) Build(ctx context.Context, scopes []journal.Scope) (_ *Bundle, err error) {
	if len(scopes) == 0 {
		return nil, ErrNoScopes
	}

	ctx, endSpan := tracing.StartSpan(ctx, "build_export_bundle")
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx, attribute.Int("scopes.count", len(scopes)))

	var (
		findings []hashchain.Finding
		ordering []merge.Record
		byID     = make(map[string]*record.Record)
	)

	for _, scope := range scopes {
		if err := scope.Validate(); err != nil {
			return nil, err
		}

		active, err := e.repo.ListActiveByScope(ctx, scope)
		if err != nil {
			e.metrics.IncExportErrors()
			return nil, fmt.Errorf("loading scope %s: %w", scope, err)
		}

		start := e.now()
		result := e.verifier.Verify(scope, chainRecords(active), hashchain.FieldsExtractor)
		e.metrics.ObserveVerifyLatency(e.now().Sub(start).Seconds())
		e.metrics.CountFindings(result)

		findings = append(findings, result.Findings...)
		if !result.Valid {
			e.metrics.IncExportErrors()
			e.logger.Warn("refusing to export tampered scope",
				slog.String("scope", scope.String()),
				slog.Int("tamper_findings", result.Summary[hashchain.SeverityTamper]))
			return nil, fmt.Errorf("%w: %s", ErrChainInvalid, scope)
		}

		for _, rec := range active {
			byID[rec.ID] = rec
			ordering = append(ordering, merge.Record{
				RecordID:   rec.ID,
				Timestamp:  eventInstant(rec.Fields),
				DeviceID:   rec.Scope.DeviceID,
				SequenceID: rec.Fields.SequenceID,
			})
		}
	}

	merge.Sort(ordering)

	lines := make([]Line, 0, len(ordering))
	for _, exp := range merge.Resequence(ordering) {
		lines = append(lines, newLine(exp, byID[exp.RecordID]))
	}

	e.metrics.IncExportsGenerated()
	return &Bundle{
		GeneratedAt: e.now().UTC(),
		Scopes:      scopes,
		Lines:       lines,
		Findings:    findings,
	}, nil
}

// eventInstant resolves a record's recorded wall-clock time to an instant
// for cross-device ordering. An unknown timezone falls back to UTC: ordering
// must stay deterministic even for records with malformed zone names.
func eventInstant(f journal.HashableFields) time.Time {
	loc := time.UTC
	if f.Timezone != "" {
		if l, err := time.LoadLocation(f.Timezone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", f.EventDate+" "+f.EventTime, loc)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func newLine(exp merge.ExportRecord, rec *record.Record) Line {
	line := Line{
		ExportSequenceID:    exp.ExportSequenceID,
		RecordID:            rec.ID,
		DeviceID:            rec.Scope.DeviceID,
		LogDate:             rec.Scope.LogDate,
		SequenceID:          rec.Fields.SequenceID,
		SequenceIDFormatted: sequence.Format(rec.Fields.SequenceID),
		EventType:           rec.Fields.EventType,
		EventCode:           rec.Fields.EventCode,
		EventDate:           rec.Fields.EventDate,
		EventTime:           rec.Fields.EventTime,
		Timezone:            rec.Fields.Timezone,
		VehicleMiles:        rec.Fields.VehicleMiles,
		EngineHours:         rec.Fields.EngineHours,
		Checksum:            rec.Fields.Checksum,
		AccountID:           rec.Fields.AccountID,
		ContentHash:         rec.Meta.TamperEvidence.ContentHash,
		ChainHash:           rec.Meta.TamperEvidence.ChainHash,
	}
	if p := rec.Fields.Position; p != nil {
		lat, lon := p.Latitude, p.Longitude
		line.Latitude = &lat
		line.Longitude = &lon
	}
	return line
}

func chainRecords(records []*record.Record) []hashchain.ChainRecord {
	chain := make([]hashchain.ChainRecord, len(records))
	for i, rec := range records {
		chain[i] = hashchain.ChainRecord{
			ID:         rec.ID,
			SequenceID: rec.Fields.SequenceID,
			Fields:     rec.Fields,
			Evidence:   rec.Meta.TamperEvidence,
		}
	}
	return chain
}
