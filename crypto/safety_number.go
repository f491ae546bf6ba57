package crypto

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	safetyNumberGroups = 12
	safetyGroupDigits  = 5
)

// safetyDomain domain-separates the fingerprint hash from any other use of
// the same public keys.
const safetyDomain = "ledgerline-e2ee-safety-v1"

// SafetyNumber formats a human-comparable fingerprint of two parties'
// public keys: twelve groups of five decimal digits separated by spaces.
//
// The keys are sorted into a canonical order before hashing, so both
// parties compute the identical string regardless of who calls. Two people
// comparing safety numbers out of band can detect a man-in-the-middle that
// substituted either public key.
func SafetyNumber(publicKeyA, publicKeyB [32]byte) string {
	first, second := publicKeyA, publicKeyB
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}

	h := sha512.New()
	h.Write([]byte(safetyDomain))
	h.Write(first[:])
	h.Write(second[:])
	digest := h.Sum(nil)

	// 12 groups of 5 bytes each, reduced modulo 100000 into 5 digits.
	groups := make([]string, 0, safetyNumberGroups)
	for i := 0; i < safetyNumberGroups; i++ {
		chunk := digest[i*5 : i*5+5]
		var value uint64
		for _, b := range chunk {
			value = value<<8 | uint64(b)
		}
		groups = append(groups, fmt.Sprintf("%05d", value%100000))
	}

	return strings.Join(groups, " ")
}

// Fingerprint returns a short hex preview of a single public key, suitable
// for logging and display. Not a substitute for the full safety number.
func Fingerprint(publicKey [32]byte) string {
	h := sha512.Sum512(publicKey[:])
	return fmt.Sprintf("%x", binary.BigEndian.Uint64(h[:8]))
}
