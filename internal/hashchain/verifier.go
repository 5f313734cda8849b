package hashchain

import (
	"fmt"
	"time"

	"github.com/openeld/journal/internal/journal"
)

// ClockSkewTolerance is how far ahead of verification time a record's hash
// timestamp may sit before FUTURE_HASH_TIMESTAMP is raised.
const ClockSkewTolerance = 60 * time.Second

// Severity classifies a verification finding. Only TAMPER findings affect
// validity; WARN and INFO surface suspicious-but-permitted conditions for
// human review.
type Severity int

// Finding severities.
const (
	SeverityTamper Severity = iota
	SeverityWarn
	SeverityInfo
)

// String returns the exchange-format name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityTamper:
		return "TAMPER"
	case SeverityWarn:
		return "WARN"
	case SeverityInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// FindingCode identifies the specific divergence a finding reports.
type FindingCode int

// Finding codes.
const (
	CodeContentHashMismatch FindingCode = iota
	CodeChainHashMismatch
	CodeGenesisHashMismatch
	CodeMissingPreviousHash
	CodeFutureHashTimestamp
)

// String returns the exchange-format name of the finding code.
func (c FindingCode) String() string {
	switch c {
	case CodeContentHashMismatch:
		return "CONTENT_HASH_MISMATCH"
	case CodeChainHashMismatch:
		return "CHAIN_HASH_MISMATCH"
	case CodeGenesisHashMismatch:
		return "GENESIS_HASH_MISMATCH"
	case CodeMissingPreviousHash:
		return "MISSING_PREVIOUS_HASH"
	case CodeFutureHashTimestamp:
		return "FUTURE_HASH_TIMESTAMP"
	default:
		return "UNKNOWN"
	}
}

// Finding is one verifier-reported divergence, carrying enough context to
// be surfaced verbatim to an audit report.
type Finding struct {
	Severity   Severity
	Code       FindingCode
	RecordID   string
	SequenceID uint16
	Message    string
}

// Result is the outcome of replaying one scope's chain.
type Result struct {
	Valid          bool
	Findings       []Finding
	RecordsChecked int
	Summary        map[Severity]int
}

// ChainRecord is one active record as presented for verification: its
// stored hashable fields and stored tamper evidence.
type ChainRecord struct {
	ID         string
	SequenceID uint16
	Fields     journal.HashableFields
	Evidence   journal.TamperEvidence
}

// Extractor recomputes a record's hashable fields from its stored business
// data, independently of the fields embedded in the ChainRecord. When
// available it lets verification detect records whose stored data no longer
// matches the hashed content.
type Extractor func(ChainRecord) (journal.HashableFields, error)

// FieldsExtractor is the default Extractor: it re-reads the fields carried
// on the ChainRecord itself.
func FieldsExtractor(rec ChainRecord) (journal.HashableFields, error) {
	return rec.Fields, nil
}

// Verifier replays a scope's active record set and reports tamper findings.
type Verifier struct {
	hash journal.HashProvider
	now  func() time.Time
}

// NewVerifier creates a Verifier. A nil hash falls back to SHA-256.
func NewVerifier(hash journal.HashProvider) *Verifier {
	if hash == nil {
		hash = journal.SHA256Provider{}
	}
	return &Verifier{hash: hash, now: time.Now}
}

// Verify walks records, which must be the scope's active set sorted
// ascending by sequence identifier, and recomputes every hash from scratch.
// A nil extract skips content re-verification and checks only the chain
// structure. A single corrupted record invalidates the recomputation of
// every successor, so one upstream tamper surfaces as a chain-hash mismatch
// on each record after it.
func (v *Verifier) Verify(scope journal.Scope, records []ChainRecord, extract Extractor) Result {
	res := Result{
		RecordsChecked: len(records),
		Summary:        make(map[Severity]int),
	}

	genesis := GenesisHash(v.hash, scope)
	expectedPrev := genesis
	now := v.now()

	for i, rec := range records {
		contentHash := rec.Evidence.ContentHash
		if extract != nil {
			fields, err := extract(rec)
			if err != nil {
				res.add(Finding{
					Severity:   SeverityTamper,
					Code:       CodeContentHashMismatch,
					RecordID:   rec.ID,
					SequenceID: rec.SequenceID,
					Message:    fmt.Sprintf("content re-extraction failed: %v", err),
				})
			} else if recomputed := v.hash.Digest(fields.Canonical()); recomputed != rec.Evidence.ContentHash {
				res.add(Finding{
					Severity:   SeverityTamper,
					Code:       CodeContentHashMismatch,
					RecordID:   rec.ID,
					SequenceID: rec.SequenceID,
					Message:    "stored content hash does not match recomputed canonical fields",
				})
				contentHash = recomputed
			}
		}

		stored := rec.Evidence.PreviousChainHash
		if i == 0 {
			// The first record stores nil and the genesis value is
			// derived; a stored non-nil value must still equal it.
			effective := genesis
			if stored != nil {
				effective = *stored
			}
			if effective != genesis {
				res.add(Finding{
					Severity:   SeverityTamper,
					Code:       CodeGenesisHashMismatch,
					RecordID:   rec.ID,
					SequenceID: rec.SequenceID,
					Message:    "first record's previous hash does not match the scope's genesis hash",
				})
			}
		} else if stored == nil {
			res.add(Finding{
				Severity:   SeverityTamper,
				Code:       CodeMissingPreviousHash,
				RecordID:   rec.ID,
				SequenceID: rec.SequenceID,
				Message:    "only the first record of a scope may omit its previous chain hash",
			})
		}

		if recomputed := chainHash(v.hash, contentHash, expectedPrev); recomputed != rec.Evidence.ChainHash {
			res.add(Finding{
				Severity:   SeverityTamper,
				Code:       CodeChainHashMismatch,
				RecordID:   rec.ID,
				SequenceID: rec.SequenceID,
				Message:    "stored chain hash does not match recomputation from predecessor",
			})
			expectedPrev = recomputed
		} else {
			expectedPrev = rec.Evidence.ChainHash
		}

		if rec.Evidence.HashedAt.After(now.Add(ClockSkewTolerance)) {
			res.add(Finding{
				Severity:   SeverityWarn,
				Code:       CodeFutureHashTimestamp,
				RecordID:   rec.ID,
				SequenceID: rec.SequenceID,
				Message: fmt.Sprintf("hash timestamp %s is ahead of verification time %s",
					rec.Evidence.HashedAt.UTC().Format(time.RFC3339),
					now.UTC().Format(time.RFC3339)),
			})
		}
	}

	res.Valid = res.Summary[SeverityTamper] == 0
	return res
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	r.Summary[f.Severity]++
}
