package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ledgerline/e2ee/crypto"
	"github.com/ledgerline/e2ee/storage"
)

var (
	// ErrAlreadyExists indicates an identity is already present. Callers
	// must rotate explicitly rather than regenerate, so existing sessions
	// are never silently orphaned.
	ErrAlreadyExists = errors.New("identity key pair already exists")

	// ErrUnknownEpoch indicates no key pair, current or historical,
	// matches the requested epoch.
	ErrUnknownEpoch = errors.New("no identity key for requested epoch")
)

// DefaultMaxPreviousKeys bounds the retained rotation history.
const DefaultMaxPreviousKeys = 3

// Config carries the store's construction-time dependencies. Zero values
// select sensible defaults.
type Config struct {
	DeviceID        string
	MaxPreviousKeys int
	Clock           crypto.TimeProvider
}

// Store owns the durable identity state for the device it runs on.
type Store struct {
	db          storage.Store
	deviceID    string
	maxPrevious int
	clock       crypto.TimeProvider

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates an identity store over the given durable backend.
func NewStore(db storage.Store, cfg Config) *Store {
	if cfg.MaxPreviousKeys <= 0 {
		cfg.MaxPreviousKeys = DefaultMaxPreviousKeys
	}
	if cfg.Clock == nil {
		cfg.Clock = crypto.DefaultTimeProvider{}
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "primary"
	}

	return &Store{
		db:          db,
		deviceID:    cfg.DeviceID,
		maxPrevious: cfg.MaxPreviousKeys,
		clock:       cfg.Clock,
		locks:       make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing mutations for one user.
func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// Generate creates the epoch-0 identity key pair for a user. It fails with
// ErrAlreadyExists when one is present.
func (s *Store) Generate(ctx context.Context, userID string) (*Record, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.Get(ctx, storage.KindIdentity, userID); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	record := &Record{
		UserID:    userID,
		DeviceID:  s.deviceID,
		Epoch:     0,
		PublicKey: append([]byte(nil), keyPair.Public[:]...),
		SecretKey: append([]byte(nil), keyPair.Private[:]...),
		RotatedAt: s.clock.Now(),
	}

	if err := s.persist(ctx, record); err != nil {
		record.wipe()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Generate",
		"user_id":    userID,
		"key_prefix": crypto.Fingerprint(keyPair.Public),
	}).Info("Identity key pair generated at epoch 0")

	return record, nil
}

// Get returns the current identity record for a user, or
// storage.ErrNotFound when none exists.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	data, err := s.db.Get(ctx, storage.KindIdentity, userID)
	if err != nil {
		return nil, err
	}
	return UnmarshalRecord(data)
}

// Rotate generates a fresh key pair at the next epoch, retaining the
// outgoing key in a bounded history. The write is all-or-nothing: a
// persistence failure leaves the prior epoch fully intact.
func (s *Store) Rotate(ctx context.Context, userID string) (*Record, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	retired := KeyRecord{
		Epoch:     record.Epoch,
		PublicKey: record.PublicKey,
		SecretKey: record.SecretKey,
		RotatedAt: record.RotatedAt,
	}

	rotated := &Record{
		UserID:    record.UserID,
		DeviceID:  record.DeviceID,
		Epoch:     record.Epoch + 1,
		PublicKey: append([]byte(nil), keyPair.Public[:]...),
		SecretKey: append([]byte(nil), keyPair.Private[:]...),
		RotatedAt: s.clock.Now(),
		Previous:  append([]KeyRecord{retired}, record.Previous...),
	}

	// Trim and wipe generations that fall out of the retention window.
	if len(rotated.Previous) > s.maxPrevious {
		for _, evicted := range rotated.Previous[s.maxPrevious:] {
			crypto.ZeroBytes(evicted.SecretKey)
		}
		rotated.Previous = rotated.Previous[:s.maxPrevious]
	}

	if err := s.persist(ctx, rotated); err != nil {
		rotated.wipe()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Rotate",
		"user_id":   userID,
		"new_epoch": rotated.Epoch,
		"history":   len(rotated.Previous),
	}).Info("Identity key pair rotated")

	return rotated, nil
}

// Install writes a complete identity record, replacing any existing one.
// Used by backup restore and by the secondary device during pairing.
func (s *Store) Install(ctx context.Context, record *Record) error {
	if record == nil || record.UserID == "" {
		return fmt.Errorf("%w: incomplete identity record", crypto.ErrInvalidParameter)
	}
	if _, err := record.KeyPair(); err != nil {
		return err
	}

	lock := s.userLock(record.UserID)
	lock.Lock()
	defer lock.Unlock()

	record.DeviceID = s.deviceID
	if err := s.persist(ctx, record); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Install",
		"user_id":  record.UserID,
		"epoch":    record.Epoch,
	}).Info("Identity record installed")

	return nil
}

// Wipe irreversibly erases all key material for a user: secret buffers are
// zeroed before the record is deleted.
func (s *Store) Wipe(ctx context.Context, userID string) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	record.wipe()

	if err := s.db.Delete(ctx, storage.KindIdentity, userID); err != nil {
		return fmt.Errorf("failed to delete identity record: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Wipe",
		"user_id":  userID,
	}).Info("Identity key material wiped")

	return nil
}

// KeyAtEpoch returns the key pair active at the given epoch, searching the
// current key first and then the retained history.
func (s *Store) KeyAtEpoch(ctx context.Context, userID string, epoch uint64) (*crypto.KeyPair, error) {
	record, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if record.Epoch == epoch {
		return record.KeyPair()
	}

	for _, previous := range record.Previous {
		if previous.Epoch == epoch {
			historical := &Record{PublicKey: previous.PublicKey, SecretKey: previous.SecretKey}
			return historical.KeyPair()
		}
	}

	return nil, fmt.Errorf("%w: epoch %d for user %s", ErrUnknownEpoch, epoch, userID)
}

func (s *Store) persist(ctx context.Context, record *Record) error {
	data, err := record.Marshal()
	if err != nil {
		return err
	}
	return s.db.Tx(ctx, func(tx storage.Store) error {
		return tx.Put(ctx, storage.KindIdentity, record.UserID, data)
	})
}
