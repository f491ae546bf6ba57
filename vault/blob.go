package vault

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Algorithm identifiers stored inside every blob. Future codecs add new
// identifiers rather than changing the meaning of existing ones.
const (
	KDFArgon2id            = "argon2id"
	CipherChaCha20Poly1305 = "chacha20poly1305"
)

// BlobVersion is the current backup blob format version.
const BlobVersion = 1

// BackupBlob is a self-describing, password-encrypted container for a
// secret value. Created on backup, replaced wholesale on re-backup, never
// mutated in place.
type BackupBlob struct {
	Version          int    `cbor:"version"`
	KDFAlgorithm     string `cbor:"kdf_algorithm"`
	CipherAlgorithm  string `cbor:"cipher_algorithm"`
	KDFSalt          []byte `cbor:"kdf_salt"`
	Nonce            []byte `cbor:"nonce"`
	Ciphertext       []byte `cbor:"ciphertext"`
	ArgonTime        uint32 `cbor:"argon_time"`
	ArgonMemoryKiB   uint32 `cbor:"argon_memory_kib"`
	ArgonParallelism uint8  `cbor:"argon_parallelism"`
}

// Marshal encodes the blob with deterministic CBOR encoding.
func (b *BackupBlob) Marshal() ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return mode.Marshal(b)
}

// UnmarshalBlob decodes a blob previously produced by Marshal.
func UnmarshalBlob(data []byte) (*BackupBlob, error) {
	var blob BackupBlob
	if err := cbor.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to decode backup blob: %w", err)
	}
	return &blob, nil
}
