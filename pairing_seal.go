package e2ee

import (
	"encoding/base64"
	"fmt"

	"github.com/ledgerline/e2ee/pairing"
	"github.com/ledgerline/e2ee/vault"
)

// Pairing payloads ride through the ticket store sealed under the 6-digit
// code, stretched by the same argon2id wrap the backup vault uses. The
// user id is folded into the secret so a ticket cannot be replayed against
// a different account.

func pairingSecret(userID, code string) string {
	return userID + "\x00" + code
}

func (m *EncryptedMessenger) sealPairingPayload(payload []byte, userID string) ([]byte, string, error) {
	code, err := pairing.GenerateCode()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate pairing code: %w", err)
	}

	blob, err := vault.WrapWithParams(base64.StdEncoding.EncodeToString(payload), pairingSecret(userID, code), vault.Params{
		Time:        m.policy.Argon2Time,
		MemoryKiB:   m.policy.Argon2MemoryKiB,
		Parallelism: m.policy.Argon2Parallelism,
	})
	if err != nil {
		return nil, "", err
	}

	sealed, err := blob.Marshal()
	if err != nil {
		return nil, "", err
	}
	return sealed, code, nil
}

func (m *EncryptedMessenger) openPairingPayload(sealed []byte, userID, code string) ([]byte, error) {
	blob, err := vault.UnmarshalBlob(sealed)
	if err != nil {
		return nil, err
	}

	plaintext, err := vault.Unwrap(blob, pairingSecret(userID, code))
	if err != nil {
		return nil, err
	}

	payload, err := base64.StdEncoding.DecodeString(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pairing payload: %w", err)
	}
	return payload, nil
}
