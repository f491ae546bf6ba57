package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/e2ee/crypto"
	"github.com/ledgerline/e2ee/identity"
	"github.com/ledgerline/e2ee/storage"
)

// fakeDirectory serves published public keys from a map, standing in for
// the server-side key directory.
type fakeDirectory struct {
	keys map[string][32]byte
}

func (d *fakeDirectory) PublicKey(_ context.Context, userID string) ([32]byte, error) {
	key, ok := d.keys[userID]
	if !ok {
		return [32]byte{}, fmt.Errorf("no published key for %s", userID)
	}
	return key, nil
}

func (d *fakeDirectory) publish(userID string, record *identity.Record) {
	var key [32]byte
	copy(key[:], record.PublicKey)
	d.keys[userID] = key
}

// party bundles one side of a conversation: its own device store, identity
// store and session manager.
type party struct {
	userID  string
	ids     *identity.Store
	manager *Manager
}

func newParty(t *testing.T, userID string, dir *fakeDirectory) *party {
	t.Helper()

	db := storage.NewMemStore()
	ids := identity.NewStore(db, identity.Config{DeviceID: userID + "-device"})

	record, err := ids.Generate(context.Background(), userID)
	require.NoError(t, err)
	dir.publish(userID, record)

	return &party{
		userID:  userID,
		ids:     ids,
		manager: NewManager(userID, ids, dir, db),
	}
}

func newConversation(t *testing.T) (*party, *party, *fakeDirectory) {
	t.Helper()
	dir := &fakeDirectory{keys: make(map[string][32]byte)}
	alice := newParty(t, "alice", dir)
	bob := newParty(t, "bob", dir)
	return alice, bob, dir
}

func TestTwoPartyRoundTrip(t *testing.T) {
	t.Parallel()

	alice, bob, _ := newConversation(t)
	ctx := context.Background()

	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))

	envelope, err := alice.manager.Encrypt(ctx, "conv1", "hello")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), envelope.Epoch)
	assert.Equal(t, uint64(0), envelope.Counter)
	assert.NotEmpty(t, envelope.Ciphertext)
	assert.Len(t, envelope.Nonce, crypto.NonceSize)

	plaintext, err := bob.manager.Decrypt(ctx, "conv1", envelope, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "hello", plaintext)
}

func TestEncryptRequiresEstablishedSession(t *testing.T) {
	t.Parallel()

	alice, _, _ := newConversation(t)

	_, err := alice.manager.Encrypt(context.Background(), "conv1", "hello")
	assert.ErrorIs(t, err, ErrSessionNotEstablished)
}

func TestEstablishIdempotent(t *testing.T) {
	t.Parallel()

	alice, bob, _ := newConversation(t)
	ctx := context.Background()

	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))

	envelope, err := alice.manager.Encrypt(ctx, "conv1", "first")
	require.NoError(t, err)

	// Re-establishing must not reset counters or re-derive the key.
	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))

	second, err := alice.manager.Encrypt(ctx, "conv1", "second")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Counter)

	plaintext, err := bob.manager.Decrypt(ctx, "conv1", envelope, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "first", plaintext)
}

func TestCountersMonotonic(t *testing.T) {
	t.Parallel()

	alice, _, _ := newConversation(t)
	ctx := context.Background()

	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))

	seen := make(map[uint64]bool)
	for i := 0; i < 10; i++ {
		envelope, err := alice.manager.Encrypt(ctx, "conv1", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		assert.False(t, seen[envelope.Counter], "counter %d reused", envelope.Counter)
		seen[envelope.Counter] = true
		assert.Equal(t, uint64(i), envelope.Counter)
	}
}

func TestOutOfOrderDecryption(t *testing.T) {
	t.Parallel()

	alice, bob, _ := newConversation(t)
	ctx := context.Background()

	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))

	var envelopes []*Envelope
	for i := 0; i < 3; i++ {
		envelope, err := alice.manager.Encrypt(ctx, "conv1", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		envelopes = append(envelopes, envelope)
	}

	// Arrival order 2, 0, 1: each envelope's embedded counter drives
	// derivation, so order must not matter.
	for _, index := range []int{2, 0, 1} {
		plaintext, err := bob.manager.Decrypt(ctx, "conv1", envelopes[index], "alice", "bob")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("message %d", index), plaintext)
	}
}

func TestDecryptOwnSentMessage(t *testing.T) {
	t.Parallel()

	alice, _, _ := newConversation(t)
	ctx := context.Background()

	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))

	envelope, err := alice.manager.Encrypt(ctx, "conv1", "note to self")
	require.NoError(t, err)

	// The sender reconstructs the shared secret from the other side: the
	// original recipient id selects the peer public key.
	plaintext, err := alice.manager.Decrypt(ctx, "conv1", envelope, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "note to self", plaintext)
}

func TestDecryptTamperedEnvelope(t *testing.T) {
	t.Parallel()

	alice, bob, _ := newConversation(t)
	ctx := context.Background()

	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))

	envelope, err := alice.manager.Encrypt(ctx, "conv1", "hello")
	require.NoError(t, err)

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		tampered := *envelope
		tampered.Ciphertext = append([]byte(nil), envelope.Ciphertext...)
		tampered.Ciphertext[0] ^= 0x01
		_, err := bob.manager.Decrypt(ctx, "conv1", &tampered, "alice", "bob")
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})

	t.Run("altered counter", func(t *testing.T) {
		tampered := *envelope
		tampered.Counter = envelope.Counter + 1
		_, err := bob.manager.Decrypt(ctx, "conv1", &tampered, "alice", "bob")
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})

	t.Run("wrong conversation", func(t *testing.T) {
		require.NoError(t, bob.manager.Establish(ctx, "conv2", "alice"))
		_, err := bob.manager.Decrypt(ctx, "conv2", envelope, "alice", "bob")
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})
}

func TestRotationSupersedesSession(t *testing.T) {
	t.Parallel()

	alice, bob, dir := newConversation(t)
	ctx := context.Background()

	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))
	oldEnvelope, err := alice.manager.Encrypt(ctx, "conv1", "before rotation")
	require.NoError(t, err)

	rotated, err := alice.ids.Rotate(ctx, "alice")
	require.NoError(t, err)
	dir.publish("alice", rotated)

	// The old session is superseded: encrypting now requires establishing
	// at the new epoch.
	_, err = alice.manager.Encrypt(ctx, "conv1", "after rotation")
	assert.ErrorIs(t, err, ErrSessionNotEstablished)

	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))
	newEnvelope, err := alice.manager.Encrypt(ctx, "conv1", "after rotation")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), newEnvelope.Epoch)
	assert.Equal(t, uint64(0), newEnvelope.Counter)

	// Bob reads both: the new-epoch message via lazy establishment against
	// Alice's rotated key, and the late-arriving old-epoch message via the
	// retained epoch-0 session.
	plaintext, err := bob.manager.Decrypt(ctx, "conv1", newEnvelope, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "after rotation", plaintext)

	plaintext, err = bob.manager.Decrypt(ctx, "conv1", oldEnvelope, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "before rotation", plaintext)
}

func TestDecryptForgedFutureEpoch(t *testing.T) {
	t.Parallel()

	alice, bob, _ := newConversation(t)
	ctx := context.Background()

	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))
	envelope, err := alice.manager.Encrypt(ctx, "conv1", "hello")
	require.NoError(t, err)

	// An attacker bumping the epoch forward produces a key mismatch, never
	// silent garbage.
	forged := *envelope
	forged.Epoch = 99
	_, err = bob.manager.Decrypt(ctx, "conv1", &forged, "alice", "bob")
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestPurgeBefore(t *testing.T) {
	t.Parallel()

	alice, bob, dir := newConversation(t)
	ctx := context.Background()

	require.NoError(t, bob.manager.Establish(ctx, "conv1", "alice"))
	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))
	oldEnvelope, err := alice.manager.Encrypt(ctx, "conv1", "old message")
	require.NoError(t, err)

	// Bob decrypts once so his epoch-0 session state exists.
	_, err = bob.manager.Decrypt(ctx, "conv1", oldEnvelope, "alice", "bob")
	require.NoError(t, err)

	rotated, err := alice.ids.Rotate(ctx, "alice")
	require.NoError(t, err)
	dir.publish("alice", rotated)

	require.NoError(t, bob.manager.PurgeBefore(ctx, "conv1", 1))

	// After the purge and Alice's rotation, the epoch-0 session cannot be
	// rebuilt: lazy establishment against Alice's rotated directory key
	// yields a different session key, so authentication fails.
	_, err = bob.manager.Decrypt(ctx, "conv1", oldEnvelope, "alice", "bob")
	assert.Error(t, err)
}

func TestSafetyNumberMatchesAcrossParties(t *testing.T) {
	t.Parallel()

	alice, bob, _ := newConversation(t)
	ctx := context.Background()

	fromAlice, err := alice.manager.SafetyNumber(ctx, "bob")
	require.NoError(t, err)
	fromBob, err := bob.manager.SafetyNumber(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, fromAlice, fromBob)
}

func TestConcurrentEstablishConverges(t *testing.T) {
	t.Parallel()

	alice, _, _ := newConversation(t)
	ctx := context.Background()

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			done <- alice.manager.Establish(ctx, "conv1", "bob")
		}()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}

	// A single session must exist with counters intact.
	envelope, err := alice.manager.Encrypt(ctx, "conv1", "hello")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), envelope.Counter)
}

func TestEnvelopeMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	alice, bob, _ := newConversation(t)
	ctx := context.Background()

	require.NoError(t, alice.manager.Establish(ctx, "conv1", "bob"))
	envelope, err := alice.manager.Encrypt(ctx, "conv1", "hello")
	require.NoError(t, err)

	encoded, err := envelope.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalEnvelope(encoded)
	require.NoError(t, err)

	plaintext, err := bob.manager.Decrypt(ctx, "conv1", decoded, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "hello", plaintext)
}

func TestDecryptInvalidEnvelope(t *testing.T) {
	t.Parallel()

	alice, _, _ := newConversation(t)
	ctx := context.Background()

	_, err := alice.manager.Decrypt(ctx, "conv1", nil, "bob", "alice")
	assert.ErrorIs(t, err, crypto.ErrInvalidParameter)

	_, err = alice.manager.Decrypt(ctx, "conv1", &Envelope{Nonce: []byte("short")}, "bob", "alice")
	assert.ErrorIs(t, err, crypto.ErrInvalidParameter)
}

func TestUnknownEpochAfterHistoryEviction(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{keys: make(map[string][32]byte)}
	db := storage.NewMemStore()
	ids := identity.NewStore(db, identity.Config{MaxPreviousKeys: 1})
	ctx := context.Background()

	record, err := ids.Generate(ctx, "alice")
	require.NoError(t, err)
	dir.publish("alice", record)

	newParty(t, "bob", dir)

	manager := NewManager("alice", ids, dir, db)
	require.NoError(t, manager.Establish(ctx, "conv1", "bob"))
	envelope, err := manager.Encrypt(ctx, "conv1", "hello")
	require.NoError(t, err)

	// Rotate twice so epoch 0 falls out of the bounded history, then purge
	// the retained epoch-0 session. Rebuilding it is now impossible.
	for i := 0; i < 2; i++ {
		rotated, err := ids.Rotate(ctx, "alice")
		require.NoError(t, err)
		dir.publish("alice", rotated)
	}
	require.NoError(t, manager.PurgeBefore(ctx, "conv1", 2))

	_, err = manager.Decrypt(ctx, "conv1", envelope, "alice", "bob")
	assert.ErrorIs(t, err, identity.ErrUnknownEpoch)
}
