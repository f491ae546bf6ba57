package identity

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ledgerline/e2ee/crypto"
)

// KeyRecord is one retired generation of a user's identity key, kept so
// late-arriving messages sealed under an old epoch remain decryptable.
type KeyRecord struct {
	Epoch     uint64    `cbor:"epoch"`
	PublicKey []byte    `cbor:"public_key"`
	SecretKey []byte    `cbor:"secret_key"`
	RotatedAt time.Time `cbor:"rotated_at"`
}

// Record is the durable per-user identity state: the active key pair, its
// epoch, the rotation timestamp and the bounded previous-key history.
type Record struct {
	UserID    string      `cbor:"user_id"`
	DeviceID  string      `cbor:"device_id"`
	Epoch     uint64      `cbor:"epoch"`
	PublicKey []byte      `cbor:"public_key"`
	SecretKey []byte      `cbor:"secret_key"`
	RotatedAt time.Time   `cbor:"rotated_at"`
	Previous  []KeyRecord `cbor:"previous"`
}

// KeyPair returns the active key pair as fixed-size arrays.
func (r *Record) KeyPair() (*crypto.KeyPair, error) {
	if len(r.PublicKey) != 32 || len(r.SecretKey) != 32 {
		return nil, fmt.Errorf("%w: malformed key material in identity record", crypto.ErrInvalidParameter)
	}
	kp := &crypto.KeyPair{}
	copy(kp.Public[:], r.PublicKey)
	copy(kp.Private[:], r.SecretKey)
	return kp, nil
}

// wipe zeroes all secret buffers held by the record.
func (r *Record) wipe() {
	crypto.ZeroBytes(r.SecretKey)
	for i := range r.Previous {
		crypto.ZeroBytes(r.Previous[i].SecretKey)
	}
}

// Marshal encodes the record with deterministic CBOR encoding.
func (r *Record) Marshal() ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return mode.Marshal(r)
}

// UnmarshalRecord decodes a record previously produced by Marshal.
func UnmarshalRecord(data []byte) (*Record, error) {
	var record Record
	if err := cbor.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode identity record: %w", err)
	}
	return &record, nil
}
