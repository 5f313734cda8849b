// Package hashchain builds and verifies the tamper-evident hash chain over
// a scope's duty-status records: content hashes over canonical fields,
// chain hashes linking each record to its predecessor, and the edit-version
// lineage that preserves every version ever written.
package hashchain

import "github.com/openeld/journal/internal/journal"

// genesisSalt seeds the deterministic stand-in for "the previous record" at
// the start of every scope's chain. Changing it invalidates every stored
// chain hash and is a schema version bump, never a patch.
const genesisSalt = "eldjournal/genesis/v1"

// GenesisHash derives the scope's genesis hash. It is recomputed wherever
// it is needed and never persisted: the first record of a scope stores a
// nil previous hash so verification derives the genesis value instead of
// trusting storage.
func GenesisHash(h journal.HashProvider, scope journal.Scope) string {
	return h.Digest(scope.DeviceID + "|" + scope.LogDate + "|" + genesisSalt)
}

// chainHash links a record's content hash to its predecessor's chain hash.
// It is the only way a chain hash is ever produced.
func chainHash(h journal.HashProvider, contentHash, previous string) string {
	return h.Digest(contentHash + "|" + previous)
}
