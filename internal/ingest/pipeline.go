package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openeld/journal/internal/hashchain"
	"github.com/openeld/journal/internal/journal"
	"github.com/openeld/journal/internal/merge"
	"github.com/openeld/journal/internal/record"
	"github.com/openeld/journal/internal/sequence"
)

// Pipeline turns decoded gateway events into chained journal records:
// allocate a sequence identifier in the event's scope, build the hashable
// field set, chain the record onto the scope's tail, and persist it.
type Pipeline struct {
	repo    record.Repository
	alloc   *sequence.Allocator
	factory *hashchain.Factory
	hash    journal.HashProvider
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewPipeline creates an ingest pipeline. A nil hash falls back to SHA-256,
// nil metrics to a fresh unregistered set, and a nil logger to the default.
func NewPipeline(repo record.Repository, alloc *sequence.Allocator, factory *hashchain.Factory, hash journal.HashProvider, metrics *Metrics, logger *slog.Logger) *Pipeline {
	if hash == nil {
		hash = journal.SHA256Provider{}
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		repo:    repo,
		alloc:   alloc,
		factory: factory,
		hash:    hash,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Handler returns a MessageHandler bound to ctx for use with Client.
// Malformed frames and rejected events are counted and skipped; only a
// cancelled context terminates the connection.
func (p *Pipeline) Handler(ctx context.Context) MessageHandler {
	return func(payload []byte) error {
		return p.HandleMessage(ctx, payload)
	}
}

// HandleMessage processes one gateway frame. A frame that cannot be decoded
// or that carries invalid events is logged and dropped rather than tearing
// down the connection.
func (p *Pipeline) HandleMessage(ctx context.Context, payload []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	msg, err := DecodeMessage(payload)
	if err != nil {
		p.metrics.IncMessagesError()
		p.logger.Warn("dropping undecodable gateway frame",
			slog.String("error", err.Error()))
		return nil
	}
	p.metrics.IncMessagesProcessed()

	switch msg.Kind {
	case KindHeartbeat:
		return nil
	case KindEvent:
		p.ingestEvent(ctx, *msg.Event)
		return nil
	case KindBacklog:
		p.ingestBacklog(ctx, msg.Backlog)
		return nil
	}
	return nil
}

// ingestBacklog replays a buffered batch in submission order: calendar day
// first, then the device-local sequence hint within a day. Replaying in
// order keeps server-side allocation consistent with the order the device
// recorded the events in; each replayed hint is then validated like any
// other device-local identifier, so gaps the device's counter opened during
// the outage surface as retained advisories.
func (p *Pipeline) ingestBacklog(ctx context.Context, events []DeviceEvent) {
	entries := make([]merge.BacklogEntry, 0, len(events))
	byKey := make(map[string]DeviceEvent, len(events))
	for i, ev := range events {
		date, err := journal.ParseCalendarDate(ev.LogDate)
		if err != nil {
			p.metrics.IncMessagesError()
			p.logger.Warn("dropping backlog event with invalid log date",
				slog.String("device_id", ev.DeviceID),
				slog.String("log_date", ev.LogDate))
			continue
		}
		key := strconv.Itoa(i)
		byKey[key] = ev
		entries = append(entries, merge.BacklogEntry{
			RecordID:   key,
			LogDate:    date,
			SequenceID: ev.SequenceHint,
		})
	}

	merge.OrderBacklog(entries)

	for _, entry := range entries {
		if p.ingestEvent(ctx, byKey[entry.RecordID]) {
			p.metrics.IncBacklogReplayed()
		}
	}
}

// ingestEvent creates one journal record from a gateway event. The device's
// local sequence hint, when present, is validated against the scope's
// counter state before the server allocates the authoritative identifier:
// fatal findings drop the event, advisory findings are retained on the
// admitted record. Returns true when a record was persisted.
func (p *Pipeline) ingestEvent(ctx context.Context, ev DeviceEvent) bool {
	start := p.now()

	if err := ev.Validate(); err != nil {
		p.metrics.IncMessagesError()
		p.logger.Warn("dropping invalid gateway event",
			slog.String("device_id", ev.DeviceID),
			slog.String("error", err.Error()))
		return false
	}

	scope := journal.Scope{DeviceID: ev.DeviceID, LogDate: ev.LogDate}
	if err := scope.Validate(); err != nil {
		p.metrics.IncMessagesError()
		p.logger.Warn("dropping gateway event with invalid scope",
			slog.String("device_id", ev.DeviceID),
			slog.String("log_date", ev.LogDate))
		return false
	}

	active, err := p.repo.ListActiveByScope(ctx, scope)
	if err != nil {
		p.metrics.IncMessagesError()
		p.logger.Error("failed to load scope records",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()))
		return false
	}

	advisories, ok := p.validateHint(ctx, scope, ev, active)
	if !ok {
		return false
	}

	alloc, err := p.alloc.Allocate(ctx, scope)
	if err != nil {
		p.metrics.IncMessagesError()
		switch {
		case errors.Is(err, sequence.ErrScopeExhausted):
			p.logger.Error("scope sequence space exhausted",
				slog.String("scope", scope.String()))
		case errors.Is(err, sequence.ErrScopeAnomalous):
			p.logger.Error("scope counter anomalous, refusing issuance",
				slog.String("scope", scope.String()))
		default:
			p.logger.Error("sequence allocation failed",
				slog.String("scope", scope.String()),
				slog.String("error", err.Error()))
		}
		return false
	}

	previous := hashchain.GenesisHash(p.hash, scope)
	if len(active) > 0 {
		previous = active[len(active)-1].Meta.TamperEvidence.ChainHash
	}

	fields := journal.HashableFields{
		SequenceID:   alloc.ID,
		EventType:    ev.EventType,
		EventCode:    ev.EventCode,
		EventDate:    ev.EventDate,
		EventTime:    ev.EventTime,
		Timezone:     ev.Timezone,
		VehicleMiles: ev.VehicleMiles,
		EngineHours:  ev.EngineHours,
		Checksum:     ev.Checksum,
		AccountID:    ev.AccountID,
		DeviceID:     ev.DeviceID,
	}
	if ev.Latitude != nil && ev.Longitude != nil {
		fields.Position = &journal.Position{Latitude: *ev.Latitude, Longitude: *ev.Longitude}
	}

	eventID := uuid.New().String()
	meta, err := p.factory.Create(hashchain.CreateParams{
		EventID:           eventID,
		Scope:             scope,
		Creator:           journal.Actor{ID: ev.DeviceID, Kind: journal.ActorSystem, DisplayName: "device gateway"},
		Fields:            fields,
		PreviousChainHash: previous,
	})
	if err != nil {
		p.metrics.IncMessagesError()
		p.logger.Error("record chaining failed",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()))
		return false
	}

	meta.SequenceAdvisories = advisories

	now := p.now().UTC()
	rec := &record.Record{
		ID:        eventID,
		Scope:     scope,
		Fields:    fields,
		Status:    journal.StatusActive,
		Meta:      meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.repo.Insert(ctx, rec); err != nil {
		p.metrics.IncMessagesError()
		p.logger.Error("failed to store record",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()))
		return false
	}

	p.metrics.IncRecordsCreated()
	p.metrics.ObserveIngestLatency(p.now().Sub(start).Seconds())
	p.logger.Info("duty-status record ingested",
		slog.String("record_id", rec.ID),
		slog.String("scope", scope.String()),
		slog.Uint64("sequence_id", uint64(alloc.ID)),
		slog.Int("sequence_advisories", len(advisories)))
	return true
}

// validateHint checks the device-local sequence identifier carried by ev, if
// any, against the scope's counter state and active identifier set. A fatal
// finding rejects the event; advisory findings come back for retention on
// the record. A zero hint means the device did not allocate locally and
// there is nothing to check.
func (p *Pipeline) validateHint(ctx context.Context, scope journal.Scope, ev DeviceEvent, active []*record.Record) ([]journal.SequenceAdvisory, bool) {
	if ev.SequenceHint == 0 {
		return nil, true
	}

	activeIDs := make([]uint16, len(active))
	for i, rec := range active {
		activeIDs[i] = rec.Fields.SequenceID
	}

	res, err := p.alloc.ValidateProposed(ctx, scope, int(ev.SequenceHint), activeIDs)
	if err != nil {
		p.metrics.IncMessagesError()
		p.logger.Error("device sequence validation failed",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()))
		return nil, false
	}

	if !res.Valid {
		p.metrics.IncMessagesError()
		for _, issue := range res.Errors {
			p.metrics.IncSequenceReject(issue.Code.String())
			p.logger.Warn("rejecting event with unacceptable device sequence identifier",
				slog.String("scope", scope.String()),
				slog.Uint64("proposed_id", uint64(ev.SequenceHint)),
				slog.String("code", issue.Code.String()),
				slog.String("detail", issue.Message))
		}
		return nil, false
	}

	observed := p.now().UTC()
	advisories := make([]journal.SequenceAdvisory, 0, len(res.Warnings))
	for _, issue := range res.Warnings {
		p.metrics.IncSequenceAdvisory(issue.Code.String())
		p.logger.Warn("device sequence advisory",
			slog.String("scope", scope.String()),
			slog.Uint64("proposed_id", uint64(ev.SequenceHint)),
			slog.String("code", issue.Code.String()),
			slog.String("detail", issue.Message))
		advisories = append(advisories, journal.SequenceAdvisory{
			Code:       issue.Code.String(),
			Message:    issue.Message,
			ProposedID: ev.SequenceHint,
			ObservedAt: observed,
		})
	}
	return advisories, true
}
