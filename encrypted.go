package e2ee

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ledgerline/e2ee/crypto"
	"github.com/ledgerline/e2ee/identity"
	"github.com/ledgerline/e2ee/pairing"
	"github.com/ledgerline/e2ee/rotation"
	"github.com/ledgerline/e2ee/session"
	"github.com/ledgerline/e2ee/storage"
	"github.com/ledgerline/e2ee/vault"
)

// backupRecoveryKeySuffix distinguishes the recovery-key-protected blob
// from the password-protected one under the backup kind.
const backupRecoveryKeySuffix = "/recovery"

// EncryptedMessenger is the real implementation of Messenger, wired for
// users whose tier includes end-to-end encryption.
var _ Messenger = (*EncryptedMessenger)(nil)

type EncryptedMessenger struct {
	opts   Options
	policy Policy

	ids    *identity.Store
	pairer *pairing.Coordinator

	mu       sync.Mutex
	userID   string
	sessions *session.Manager
	rotator  *rotation.Controller
}

func newEncryptedMessenger(opts Options, policy Policy) *EncryptedMessenger {
	ids := identity.NewStore(opts.Store, identity.Config{
		DeviceID:        opts.DeviceID,
		MaxPreviousKeys: policy.MaxPreviousKeys,
		Clock:           opts.Clock,
	})

	return &EncryptedMessenger{
		opts:   opts,
		policy: policy,
		ids:    ids,
		pairer: pairing.NewCoordinator(opts.Store, opts.Clock, policy.PairingTTL),
	}
}

// Initialize binds the messenger to a user and constructs the per-user
// session manager and rotation controller. It does not generate keys;
// SetupEncryption, a restore, or pairing does that.
func (m *EncryptedMessenger) Initialize(_ context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", crypto.ErrInvalidParameter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.userID = userID
	m.sessions = session.NewManager(userID, m.ids, m.opts.Directory, m.opts.Store)
	m.rotator = rotation.NewController(m.ids, m.opts.Clock, m.policy.RotationInterval)

	logrus.WithFields(logrus.Fields{
		"function": "Initialize",
		"user_id":  userID,
	}).Info("Messenger initialized")

	return nil
}

func (m *EncryptedMessenger) current() (string, *session.Manager, *rotation.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return "", nil, nil, ErrNotInitialized
	}
	return m.userID, m.sessions, m.rotator, nil
}

// SetupEncryption generates the epoch-0 identity if none exists, then
// writes two backup blobs: one under the user's password and one under a
// freshly generated recovery key, which is returned for one-time display.
func (m *EncryptedMessenger) SetupEncryption(ctx context.Context, password string) (string, error) {
	userID, _, _, err := m.current()
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", fmt.Errorf("%w: empty password", crypto.ErrInvalidParameter)
	}

	record, err := m.ids.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		record, err = m.ids.Generate(ctx, userID)
	}
	if err != nil {
		return "", err
	}

	recoveryKey, err := vault.NewRecoveryKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate recovery key: %w", err)
	}

	passwordBlob, err := m.backupBlob(record, password)
	if err != nil {
		return "", err
	}
	recoveryBlob, err := m.backupBlob(record, vault.NormalizeRecoveryKey(recoveryKey))
	if err != nil {
		return "", err
	}

	// Both blobs land together or not at all; otherwise a failure here
	// would leave a fresh password backup next to a stale recovery one.
	err = m.opts.Store.Tx(ctx, func(tx storage.Store) error {
		if err := tx.Put(ctx, storage.KindBackup, userID, passwordBlob); err != nil {
			return err
		}
		return tx.Put(ctx, storage.KindBackup, userID+backupRecoveryKeySuffix, recoveryBlob)
	})
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function": "SetupEncryption",
		"user_id":  userID,
		"epoch":    record.Epoch,
	}).Info("Encryption set up, backups written")

	return recoveryKey, nil
}

func (m *EncryptedMessenger) backupBlob(record *identity.Record, secret string) ([]byte, error) {
	encoded, err := record.Marshal()
	if err != nil {
		return nil, err
	}

	blob, err := vault.WrapWithParams(base64.StdEncoding.EncodeToString(encoded), secret, vault.Params{
		Time:        m.policy.Argon2Time,
		MemoryKiB:   m.policy.Argon2MemoryKiB,
		Parallelism: m.policy.Argon2Parallelism,
	})
	if err != nil {
		return nil, err
	}
	return blob.Marshal()
}

// RestoreFromPassword reinstalls the identity from the password-protected
// backup blob.
func (m *EncryptedMessenger) RestoreFromPassword(ctx context.Context, password string) error {
	userID, _, _, err := m.current()
	if err != nil {
		return err
	}
	return m.restore(ctx, userID, password, userID)
}

// RestoreFromRecoveryKey reinstalls the identity from the recovery-key-
// protected backup blob.
func (m *EncryptedMessenger) RestoreFromRecoveryKey(ctx context.Context, recoveryKey string) error {
	userID, _, _, err := m.current()
	if err != nil {
		return err
	}
	return m.restore(ctx, userID, vault.NormalizeRecoveryKey(recoveryKey), userID+backupRecoveryKeySuffix)
}

func (m *EncryptedMessenger) restore(ctx context.Context, userID, secret, key string) error {
	data, err := m.opts.Store.Get(ctx, storage.KindBackup, key)
	if err != nil {
		return err
	}

	blob, err := vault.UnmarshalBlob(data)
	if err != nil {
		return err
	}

	plaintext, err := vault.Unwrap(blob, secret)
	if err != nil {
		return err
	}

	encoded, err := base64.StdEncoding.DecodeString(plaintext)
	if err != nil {
		return fmt.Errorf("failed to decode backup payload: %w", err)
	}

	record, err := identity.UnmarshalRecord(encoded)
	if err != nil {
		return err
	}

	if err := m.ids.Install(ctx, record); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "restore",
		"user_id":  userID,
		"epoch":    record.Epoch,
	}).Info("Identity restored from backup")

	return nil
}

// EncryptMessage seals plaintext for the conversation, establishing the
// current-epoch session first. Establish is idempotent, so the common
// path costs one cache hit.
func (m *EncryptedMessenger) EncryptMessage(ctx context.Context, conversationID, plaintext, recipientID string) (*session.Envelope, error) {
	_, sessions, _, err := m.current()
	if err != nil {
		return nil, err
	}

	if err := sessions.Establish(ctx, conversationID, recipientID); err != nil {
		return nil, err
	}
	return sessions.Encrypt(ctx, conversationID, plaintext)
}

// DecryptMessage opens an envelope, lazily establishing the matching
// session for its epoch when needed.
func (m *EncryptedMessenger) DecryptMessage(ctx context.Context, conversationID string, envelope *session.Envelope, senderID, recipientID string) (string, error) {
	_, sessions, _, err := m.current()
	if err != nil {
		return "", err
	}
	return sessions.Decrypt(ctx, conversationID, envelope, senderID, recipientID)
}

// SafetyNumber returns the fingerprint shared with another user.
func (m *EncryptedMessenger) SafetyNumber(ctx context.Context, otherUserID string) (string, error) {
	_, sessions, _, err := m.current()
	if err != nil {
		return "", err
	}
	return sessions.SafetyNumber(ctx, otherUserID)
}

// IdentityPublicKey returns the current identity public key so the
// application can publish it to the key directory.
func (m *EncryptedMessenger) IdentityPublicKey(ctx context.Context) ([32]byte, error) {
	userID, _, _, err := m.current()
	if err != nil {
		return [32]byte{}, err
	}

	record, err := m.ids.Get(ctx, userID)
	if err != nil {
		return [32]byte{}, err
	}

	pair, err := record.KeyPair()
	if err != nil {
		return [32]byte{}, err
	}
	return pair.Public, nil
}

// RegenerateKeys forces an immediate epoch rotation.
func (m *EncryptedMessenger) RegenerateKeys(ctx context.Context) (*rotation.Result, error) {
	userID, _, rotator, err := m.current()
	if err != nil {
		return nil, err
	}
	return rotator.Force(ctx, userID)
}

// CheckAndRotateIfNeeded rotates when the policy interval has elapsed.
func (m *EncryptedMessenger) CheckAndRotateIfNeeded(ctx context.Context, override ...time.Duration) (*rotation.Result, error) {
	userID, _, rotator, err := m.current()
	if err != nil {
		return nil, err
	}
	return rotator.CheckAndRotate(ctx, userID, override...)
}

// IsSetUp reports whether an identity key pair exists for the user.
func (m *EncryptedMessenger) IsSetUp(ctx context.Context) bool {
	userID, _, _, err := m.current()
	if err != nil {
		return false
	}
	_, err = m.ids.Get(ctx, userID)
	return err == nil
}

// CreatePairingRequest exports the identity record, seals it under a key
// derived from the pairing code, and registers the ticket. The durable
// ticket never contains plaintext key material, so a storage backend
// outside the device's trust boundary learns nothing.
func (m *EncryptedMessenger) CreatePairingRequest(ctx context.Context) (*PairingRequest, error) {
	userID, _, _, err := m.current()
	if err != nil {
		return nil, err
	}

	record, err := m.ids.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	encoded, err := record.Marshal()
	if err != nil {
		return nil, err
	}

	// Two-phase: draw the code first so the payload can be sealed under
	// it, then bind both into the ticket atomically.
	sealed, code, err := m.sealPairingPayload(encoded, userID)
	if err != nil {
		return nil, err
	}

	issuedCode, expiresAt, err := m.pairer.CreateRequestWithCode(ctx, userID, sealed, code)
	if err != nil {
		return nil, err
	}

	return &PairingRequest{Code: issuedCode, ExpiresAt: expiresAt}, nil
}

// VerifyPairingCode redeems a code on the second device, decrypts the
// transferred identity record and installs it.
func (m *EncryptedMessenger) VerifyPairingCode(ctx context.Context, code string) error {
	userID, _, _, err := m.current()
	if err != nil {
		return err
	}

	sealed, err := m.pairer.VerifyCode(ctx, userID, code)
	if err != nil {
		return err
	}

	encoded, err := m.openPairingPayload(sealed, userID, code)
	if err != nil {
		return err
	}

	record, err := identity.UnmarshalRecord(encoded)
	if err != nil {
		return err
	}

	if err := m.ids.Install(ctx, record); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "VerifyPairingCode",
		"user_id":  userID,
		"epoch":    record.Epoch,
	}).Info("Device paired, identity installed")

	return nil
}

// Teardown wipes cached session keys. Durable state is untouched.
func (m *EncryptedMessenger) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions != nil {
		m.sessions.Teardown()
	}
	m.userID = ""
	m.sessions = nil
	m.rotator = nil
	return nil
}
