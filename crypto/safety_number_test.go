package crypto

import (
	"regexp"
	"testing"
)

var safetyNumberFormat = regexp.MustCompile(`^\d{5}( \d{5}){11}$`)

func TestSafetyNumberSymmetric(t *testing.T) {
	t.Parallel()

	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	fromAlice := SafetyNumber(alice.Public, bob.Public)
	fromBob := SafetyNumber(bob.Public, alice.Public)

	if fromAlice != fromBob {
		t.Errorf("SafetyNumber() not symmetric: %q vs %q", fromAlice, fromBob)
	}
}

func TestSafetyNumberFormat(t *testing.T) {
	t.Parallel()

	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	number := SafetyNumber(alice.Public, bob.Public)
	if !safetyNumberFormat.MatchString(number) {
		t.Errorf("SafetyNumber() format invalid: %q", number)
	}
}

func TestSafetyNumberDetectsKeySubstitution(t *testing.T) {
	t.Parallel()

	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	mallory, _ := GenerateKeyPair()

	genuine := SafetyNumber(alice.Public, bob.Public)
	substituted := SafetyNumber(alice.Public, mallory.Public)

	if genuine == substituted {
		t.Error("SafetyNumber() did not change after key substitution")
	}
}
