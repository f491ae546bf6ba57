package crypto

import "crypto/rand"

// SecureRandom generates cryptographically secure random bytes.
func SecureRandom(size int) ([]byte, error) {
	bytes := make([]byte, size)
	_, err := rand.Read(bytes)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}
