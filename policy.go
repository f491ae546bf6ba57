package e2ee

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ledgerline/e2ee/crypto"
	"github.com/ledgerline/e2ee/identity"
	"github.com/ledgerline/e2ee/pairing"
	"github.com/ledgerline/e2ee/rotation"
)

// Policy carries the operational knobs of the subsystem. Values not set
// in a policy file keep their defaults.
type Policy struct {
	// RotationInterval is how old an identity key may grow before
	// CheckAndRotateIfNeeded generates a new epoch.
	RotationInterval time.Duration `yaml:"rotation_interval"`

	// MaxPreviousKeys bounds the retained rotation history used to
	// decrypt late-arriving messages.
	MaxPreviousKeys int `yaml:"max_previous_keys"`

	// PairingTTL is how long a pairing code stays redeemable.
	PairingTTL time.Duration `yaml:"pairing_ttl"`

	// Argon2 work factors for password-protected backups.
	Argon2Time        uint32 `yaml:"argon2_time"`
	Argon2MemoryKiB   uint32 `yaml:"argon2_memory_kib"`
	Argon2Parallelism uint8  `yaml:"argon2_parallelism"`
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		RotationInterval: rotation.DefaultInterval,
		MaxPreviousKeys:  identity.DefaultMaxPreviousKeys,
		PairingTTL:       pairing.DefaultTTL,
	}
}

// LoadPolicy reads a YAML policy file, overlaying its values on the
// defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate rejects nonsensical policy values.
func (p Policy) Validate() error {
	if p.RotationInterval < time.Minute {
		return fmt.Errorf("%w: rotation interval %s below one minute", crypto.ErrInvalidParameter, p.RotationInterval)
	}
	if p.MaxPreviousKeys < 1 {
		return fmt.Errorf("%w: max previous keys must be at least 1", crypto.ErrInvalidParameter)
	}
	if p.PairingTTL < time.Minute {
		return fmt.Errorf("%w: pairing ttl %s below one minute", crypto.ErrInvalidParameter, p.PairingTTL)
	}
	return nil
}
