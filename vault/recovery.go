package vault

import (
	"encoding/base32"
	"strings"

	"github.com/ledgerline/e2ee/crypto"
)

const recoveryKeyBytes = 32

var recoveryEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewRecoveryKey generates a high-entropy secondary password: 32 random
// bytes rendered as dash-separated base32 groups. It is handed to the user
// exactly once at setup and can unwrap a backup blob like any password.
func NewRecoveryKey() (string, error) {
	raw, err := crypto.SecureRandom(recoveryKeyBytes)
	if err != nil {
		return "", err
	}
	defer crypto.ZeroBytes(raw)

	encoded := recoveryEncoding.EncodeToString(raw)

	var groups []string
	for len(encoded) > 0 {
		n := 4
		if len(encoded) < n {
			n = len(encoded)
		}
		groups = append(groups, encoded[:n])
		encoded = encoded[n:]
	}

	return strings.Join(groups, "-"), nil
}

// NormalizeRecoveryKey canonicalizes user input: uppercased with separators
// and whitespace removed, so transcription differences don't fail restore.
func NormalizeRecoveryKey(key string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t', '\n':
			return -1
		}
		return r
	}, key)
	return strings.ToUpper(cleaned)
}
