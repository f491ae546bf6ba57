// Package storage provides durable key-value persistence for the
// encryption subsystem.
//
// Records are grouped by kind ("identity", "session", "pairing", "backup")
// and addressed by a caller-chosen key within that kind. Two
// implementations share the Store contract: SQLiteStore for devices and
// MemStore for tests. Multi-record updates that must commit or fail as a
// unit (key rotation, pairing-ticket consumption) run inside Tx.
package storage
