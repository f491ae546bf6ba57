package session

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ledgerline/e2ee/crypto"
)

// Directory looks up a peer's published identity public key. It is the
// only network-facing collaborator the session manager consumes.
type Directory interface {
	PublicKey(ctx context.Context, userID string) ([32]byte, error)
}

// Envelope is the immutable wire form of one encrypted message. The
// (epoch, counter) pair uniquely determines the message key that sealed it.
type Envelope struct {
	Ciphertext []byte `cbor:"ciphertext"`
	Nonce      []byte `cbor:"nonce"`
	Counter    uint64 `cbor:"counter"`
	Epoch      uint64 `cbor:"epoch"`
}

// Marshal encodes the envelope with deterministic CBOR encoding.
func (e *Envelope) Marshal() ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return mode.Marshal(e)
}

// UnmarshalEnvelope decodes an envelope previously produced by Marshal.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var envelope Envelope
	if err := cbor.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &envelope, nil
}

// State is the durable session record for one (conversation, epoch).
// Superseded states are never mutated, only read for historical decrypts.
type State struct {
	ConversationID string `cbor:"conversation_id"`
	PeerUserID     string `cbor:"peer_user_id"`
	Epoch          uint64 `cbor:"epoch"`
	SessionKey     []byte `cbor:"session_key"`
	SendCounter    uint64 `cbor:"send_counter"`
	RecvCounter    uint64 `cbor:"recv_counter"`
}

func (s *State) marshal() ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return mode.Marshal(s)
}

func unmarshalState(data []byte) (*State, error) {
	var state State
	if err := cbor.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &state, nil
}

func (s *State) wipe() {
	crypto.ZeroBytes(s.SessionKey)
}
