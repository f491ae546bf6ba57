package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ledgerline/e2ee/crypto"
	"github.com/ledgerline/e2ee/identity"
	"github.com/ledgerline/e2ee/storage"
)

// ErrSessionNotEstablished indicates encrypt was called before establish
// for the conversation's current epoch. Recoverable: establish and retry.
var ErrSessionNotEstablished = errors.New("session not established for conversation")

// Manager owns the session state for one local user on one device.
type Manager struct {
	userID string
	ids    *identity.Store
	dir    Directory
	db     storage.Store

	mu     sync.Mutex
	states map[string]*State
	locks  map[string]*sync.Mutex
}

// NewManager creates a session manager for the given local user.
func NewManager(userID string, ids *identity.Store, dir Directory, db storage.Store) *Manager {
	return &Manager{
		userID: userID,
		ids:    ids,
		dir:    dir,
		db:     db,
		states: make(map[string]*State),
		locks:  make(map[string]*sync.Mutex),
	}
}

// conversationLock returns the mutex serializing work on one conversation,
// giving Establish its establish-once-if-absent contract under concurrency.
func (m *Manager) conversationLock(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[conversationID] = lock
	}
	return lock
}

func (m *Manager) stateKey(conversationID string, epoch uint64) string {
	return fmt.Sprintf("%s/%s/%d", m.userID, conversationID, epoch)
}

// Establish derives and stores a session for the conversation at the
// current local epoch. Idempotent: if a current-epoch session already
// exists the call is a no-op.
func (m *Manager) Establish(ctx context.Context, conversationID, peerUserID string) error {
	lock := m.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.ids.Get(ctx, m.userID)
	if err != nil {
		return fmt.Errorf("failed to load local identity: %w", err)
	}

	if _, err := m.loadState(ctx, conversationID, record.Epoch); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	_, err = m.establishLocked(ctx, conversationID, peerUserID, record.Epoch, nil)
	return err
}

// establishLocked computes the shared secret and session key for one
// (conversation, epoch) and persists the resulting state. The conversation
// lock must be held. A non-nil keyPair overrides the current identity key,
// used when establishing against a historical epoch.
func (m *Manager) establishLocked(ctx context.Context, conversationID, peerUserID string, epoch uint64, keyPair *crypto.KeyPair) (*State, error) {
	if keyPair == nil {
		var err error
		keyPair, err = m.localKeyForEpoch(ctx, epoch)
		if err != nil {
			return nil, err
		}
	}

	peerPublicKey, err := m.dir.PublicKey(ctx, peerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch peer public key: %w", err)
	}

	sharedSecret, err := crypto.DeriveSharedSecret(peerPublicKey, keyPair.Private)
	if err != nil {
		return nil, err
	}

	sessionKey, err := crypto.SessionKey(sharedSecret, epoch)
	crypto.ZeroBytes(sharedSecret[:])
	if err != nil {
		return nil, err
	}

	state := &State{
		ConversationID: conversationID,
		PeerUserID:     peerUserID,
		Epoch:          epoch,
		SessionKey:     append([]byte(nil), sessionKey[:]...),
	}
	crypto.ZeroBytes(sessionKey[:])

	if err := m.persistState(ctx, state); err != nil {
		state.wipe()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "establishLocked",
		"conversation_id": conversationID,
		"peer_user_id":    peerUserID,
		"epoch":           epoch,
	}).Info("Session established")

	return state, nil
}

// Encrypt seals plaintext for the conversation under a single-use message
// key. The returned envelope carries the counter value used, not the
// post-increment value.
func (m *Manager) Encrypt(ctx context.Context, conversationID, plaintext string) (*Envelope, error) {
	lock := m.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.ids.Get(ctx, m.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load local identity: %w", err)
	}

	state, err := m.loadState(ctx, conversationID, record.Epoch)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s at epoch %d", ErrSessionNotEstablished, conversationID, record.Epoch)
	}
	if err != nil {
		return nil, err
	}

	counter := state.SendCounter

	messageKey, err := crypto.MessageKey(state.SessionKey, state.Epoch, counter)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(messageKey[:])

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext, err := crypto.SealSymmetric(messageKey, nonce, []byte(plaintext), messageAAD(conversationID, state.Epoch, counter))
	if err != nil {
		return nil, err
	}

	state.SendCounter++
	if err := m.persistState(ctx, state); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Encrypt",
		"conversation_id": conversationID,
		"epoch":           state.Epoch,
		"counter":         counter,
	}).Debug("Message encrypted")

	return &Envelope{
		Ciphertext: ciphertext,
		Nonce:      nonce[:],
		Counter:    counter,
		Epoch:      state.Epoch,
	}, nil
}

// Decrypt opens an envelope, lazily establishing the session for the
// envelope's epoch when necessary. The epoch may be older than the current
// one; identity.ErrUnknownEpoch is returned when it matches no retained
// key generation. Decrypting one's own sent messages requires the original
// recipient id so the shared secret is rebuilt from the correct peer key.
func (m *Manager) Decrypt(ctx context.Context, conversationID string, envelope *Envelope, senderID, recipientID string) (string, error) {
	if envelope == nil {
		return "", fmt.Errorf("%w: nil envelope", crypto.ErrInvalidParameter)
	}
	if len(envelope.Nonce) != crypto.NonceSize {
		return "", fmt.Errorf("%w: nonce length %d", crypto.ErrInvalidParameter, len(envelope.Nonce))
	}

	lock := m.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.loadState(ctx, conversationID, envelope.Epoch)
	if errors.Is(err, storage.ErrNotFound) {
		// The other side of our own messages is the recipient, not us.
		peer := senderID
		if senderID == m.userID {
			peer = recipientID
		}
		state, err = m.establishLocked(ctx, conversationID, peer, envelope.Epoch, nil)
	}
	if err != nil {
		return "", err
	}

	messageKey, err := crypto.MessageKey(state.SessionKey, envelope.Epoch, envelope.Counter)
	if err != nil {
		return "", err
	}
	defer crypto.ZeroBytes(messageKey[:])

	var nonce crypto.Nonce
	copy(nonce[:], envelope.Nonce)

	plaintext, err := crypto.OpenSymmetric(messageKey, nonce, envelope.Ciphertext, messageAAD(conversationID, envelope.Epoch, envelope.Counter))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "Decrypt",
			"conversation_id": conversationID,
			"epoch":           envelope.Epoch,
			"counter":         envelope.Counter,
		}).Warn("Envelope failed authentication")
		return "", err
	}

	// Bookkeeping only: derivation always uses the envelope's embedded
	// counter, so out-of-order delivery still decrypts.
	if envelope.Counter >= state.RecvCounter {
		state.RecvCounter = envelope.Counter + 1
		if err := m.persistState(ctx, state); err != nil {
			return "", err
		}
	}

	return string(plaintext), nil
}

// SafetyNumber computes the human-comparable fingerprint of the local and
// peer public keys. Both parties arrive at the identical string.
func (m *Manager) SafetyNumber(ctx context.Context, otherUserID string) (string, error) {
	record, err := m.ids.Get(ctx, m.userID)
	if err != nil {
		return "", fmt.Errorf("failed to load local identity: %w", err)
	}

	keyPair, err := record.KeyPair()
	if err != nil {
		return "", err
	}

	peerPublicKey, err := m.dir.PublicKey(ctx, otherUserID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch peer public key: %w", err)
	}

	return crypto.SafetyNumber(keyPair.Public, peerPublicKey), nil
}

// PurgeBefore deletes retained session states older than the given epoch
// for one conversation. Messages sealed under purged epochs become
// permanently undecryptable.
func (m *Manager) PurgeBefore(ctx context.Context, conversationID string, epoch uint64) error {
	lock := m.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	keys, err := m.db.List(ctx, storage.KindSession)
	if err != nil {
		return err
	}

	prefix := m.userID + "/" + conversationID + "/"
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		stateEpoch, err := strconv.ParseUint(strings.TrimPrefix(key, prefix), 10, 64)
		if err != nil {
			continue
		}
		if stateEpoch >= epoch {
			continue
		}

		if cached, ok := m.states[key]; ok {
			cached.wipe()
			delete(m.states, key)
		}
		if err := m.db.Delete(ctx, storage.KindSession, key); err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"function":        "PurgeBefore",
			"conversation_id": conversationID,
			"epoch":           stateEpoch,
		}).Info("Historical session purged")
	}

	return nil
}

// Teardown wipes all cached session keys. Durable state is untouched.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, state := range m.states {
		state.wipe()
		delete(m.states, key)
	}
}

// localKeyForEpoch resolves the local key pair backing a session epoch.
// Epochs at or below our own resolve through the retained history and fail
// with identity.ErrUnknownEpoch once evicted. An epoch ahead of ours means
// the peer rotated first; the agreement then uses our current key, which is
// exactly what the peer's directory lookup saw.
//
// Lazy establishment of a historical epoch is best-effort: it pairs the
// historical local key with the peer's current directory key, so once both
// sides have rotated since the envelope was sealed the agreement no longer
// matches and decryption fails. The retained session record for that epoch,
// established before the rotations, is the reliable path for old messages.
func (m *Manager) localKeyForEpoch(ctx context.Context, epoch uint64) (*crypto.KeyPair, error) {
	record, err := m.ids.Get(ctx, m.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load local identity: %w", err)
	}
	if epoch > record.Epoch {
		return record.KeyPair()
	}
	return m.ids.KeyAtEpoch(ctx, m.userID, epoch)
}

func (m *Manager) loadState(ctx context.Context, conversationID string, epoch uint64) (*State, error) {
	key := m.stateKey(conversationID, epoch)

	m.mu.Lock()
	state, ok := m.states[key]
	m.mu.Unlock()
	if ok {
		return state, nil
	}

	data, err := m.db.Get(ctx, storage.KindSession, key)
	if err != nil {
		return nil, err
	}

	state, err = unmarshalState(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.states[key] = state
	m.mu.Unlock()
	return state, nil
}

func (m *Manager) persistState(ctx context.Context, state *State) error {
	data, err := state.marshal()
	if err != nil {
		return err
	}

	key := m.stateKey(state.ConversationID, state.Epoch)
	if err := m.db.Put(ctx, storage.KindSession, key, data); err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}

	m.mu.Lock()
	m.states[key] = state
	m.mu.Unlock()
	return nil
}

// messageAAD binds the conversation, epoch and counter into each message's
// authentication tag so an envelope replayed into another context fails.
func messageAAD(conversationID string, epoch, counter uint64) []byte {
	return []byte(fmt.Sprintf("%s|%d|%d", conversationID, epoch, counter))
}
