package storage

import (
	"context"
	"errors"
)

// ErrNotFound indicates no record exists for the requested kind and key.
var ErrNotFound = errors.New("record not found")

// Record kinds used by the encryption subsystem. Implementations treat
// kinds opaquely; the constants just keep callers consistent.
const (
	KindIdentity = "identity"
	KindSession  = "session"
	KindPairing  = "pairing"
	KindBackup   = "backup"
)

// Store is the durable storage contract consumed by the identity, session
// and pairing components. Any get/set/delete-by-key backend satisfies it.
type Store interface {
	// Get returns the value for (kind, key), or ErrNotFound.
	Get(ctx context.Context, kind, key string) ([]byte, error)

	// Put durably writes the value for (kind, key), replacing any
	// existing record. The write is complete when Put returns nil.
	Put(ctx context.Context, kind, key string, value []byte) error

	// Delete removes the record for (kind, key). Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, kind, key string) error

	// List returns the keys present under kind, in unspecified order.
	List(ctx context.Context, kind string) ([]string, error)

	// Tx runs fn against a transactional view of the store. All writes
	// made by fn commit together when fn returns nil, and are discarded
	// entirely when fn returns an error.
	Tx(ctx context.Context, fn func(Store) error) error
}
