// Package keyregistry is the single source of truth for long-term
// key-pair metadata: registration, rotation policy, revocation,
// retention cleanup, key-exchange bookkeeping and device trust.
//
// The registry performs no cryptographic operations. It tracks which
// public key is active for each (user, device) pair and enforces the
// rotation policy selected at construction. All state is in memory;
// callers that need durability can use Snapshot and Restore.
package keyregistry
