// Package eventledger implements the append-only, hash-chained event ledger
// that records every significant action taken by the TSA application.
//
// The chain begins with a genesis entry whose PreviousHash is the sentinel
// GenesisPreviousHash ("0"). Every subsequent entry records the SHA-256 digest
// of its predecessor, so any post-hoc edit of the stored log is detectable
// via Verify.
//
// Three pieces make up the ledger:
//   - ChainStore: the in-memory chain plus a durable Backend.
//   - Notifier: fans newly appended entries out to live subscribers.
//   - Ledger: the facade feature handlers use (Append, Query, Subscribe).
//
// Three Backend implementations are provided:
//   - FileBackend: canonical JSON file, rewritten on every append.
//   - LevelDBBackend: append-only embedded key/value log.
//   - PostgresBackend: append-only table, for shared deployments.
package eventledger
