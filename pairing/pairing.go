// Package pairing transfers identity key material between two devices held
// by the same person, mediated by a short numeric code the user types on
// the second device.
//
// A 6-digit code is deliberately low-entropy: it is optimized for manual
// transcription, and the narrow single-use window bounds brute-force
// exposure. Each ticket is consumed exactly once; afterwards the code is
// permanently invalid regardless of remaining time-to-live. Expiry is
// checked lazily at verification time, not by a background sweep.
package pairing

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ledgerline/e2ee/crypto"
	"github.com/ledgerline/e2ee/storage"
)

var (
	// ErrInvalidCode indicates no matching unconsumed, unexpired ticket.
	ErrInvalidCode = errors.New("invalid or expired pairing code")

	// ErrAlreadyConsumed indicates the code was already redeemed. The
	// payload is never handed over twice.
	ErrAlreadyConsumed = errors.New("pairing code already consumed")

	// ErrAlreadyPending indicates an unconsumed ticket already exists for
	// the user. Two live codes could both be redeemed concurrently, so a
	// second request is refused until the first is consumed or expires.
	ErrAlreadyPending = errors.New("a pairing request is already pending")
)

// DefaultTTL is how long a pairing code stays redeemable.
const DefaultTTL = 10 * time.Minute

const codeDigits = 6

// Ticket is the durable record of one pairing request.
type Ticket struct {
	ID        string    `cbor:"id"`
	UserID    string    `cbor:"user_id"`
	Code      string    `cbor:"code"`
	Payload   []byte    `cbor:"payload"`
	IssuedAt  time.Time `cbor:"issued_at"`
	ExpiresAt time.Time `cbor:"expires_at"`
	Consumed  bool      `cbor:"consumed"`
}

// Coordinator issues and redeems pairing tickets.
type Coordinator struct {
	db    storage.Store
	clock crypto.TimeProvider
	ttl   time.Duration
}

// NewCoordinator creates a pairing coordinator. A non-positive ttl selects
// DefaultTTL.
func NewCoordinator(db storage.Store, clock crypto.TimeProvider, ttl time.Duration) *Coordinator {
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{db: db, clock: clock, ttl: ttl}
}

// CreateRequest issues a fresh single-use code bound to the user and the
// opaque key payload. It fails with ErrAlreadyPending while an unconsumed,
// unexpired ticket exists for the user.
func (c *Coordinator) CreateRequest(ctx context.Context, userID string, keyPayload []byte) (code string, expiresAt time.Time, err error) {
	code, err = GenerateCode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate pairing code: %w", err)
	}
	return c.CreateRequestWithCode(ctx, userID, keyPayload, code)
}

// CreateRequestWithCode is CreateRequest with a caller-supplied code from
// GenerateCode. It exists so the caller can encrypt the payload under the
// code before the ticket is written; the coordinator then never needs to
// see plaintext key material.
func (c *Coordinator) CreateRequestWithCode(ctx context.Context, userID string, keyPayload []byte, code string) (string, time.Time, error) {
	if userID == "" || len(keyPayload) == 0 {
		return "", time.Time{}, fmt.Errorf("%w: missing user id or payload", crypto.ErrInvalidParameter)
	}
	if len(code) != codeDigits {
		return "", time.Time{}, fmt.Errorf("%w: pairing code must be %d digits", crypto.ErrInvalidParameter, codeDigits)
	}

	now := c.clock.Now()

	ticket := &Ticket{
		ID:        uuid.NewString(),
		UserID:    userID,
		Code:      code,
		Payload:   keyPayload,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	err := c.db.Tx(ctx, func(tx storage.Store) error {
		existing, err := c.loadTicket(ctx, tx, userID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if existing != nil && !existing.Consumed && now.Before(existing.ExpiresAt) {
			return ErrAlreadyPending
		}

		data, err := marshalTicket(ticket)
		if err != nil {
			return err
		}
		return tx.Put(ctx, storage.KindPairing, userID, data)
	})
	if err != nil {
		return "", time.Time{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "CreateRequestWithCode",
		"user_id":    userID,
		"ticket_id":  ticket.ID,
		"expires_at": ticket.ExpiresAt.Format(time.RFC3339),
	}).Info("Pairing request created")

	return code, ticket.ExpiresAt, nil
}

// VerifyCode redeems a pairing code and returns the key payload exactly
// once. Consumption is atomic: a concurrent or retried call with the same
// code fails with ErrAlreadyConsumed rather than handing the payload over
// again. Expired tickets fail with ErrInvalidCode whether or not they were
// ever consumed.
func (c *Coordinator) VerifyCode(ctx context.Context, userID, code string) ([]byte, error) {
	if len(code) != codeDigits {
		return nil, ErrInvalidCode
	}

	now := c.clock.Now()
	var payload []byte

	err := c.db.Tx(ctx, func(tx storage.Store) error {
		ticket, err := c.loadTicket(ctx, tx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidCode
		}
		if err != nil {
			return err
		}

		if !now.Before(ticket.ExpiresAt) {
			// Lazy expiry: drop the stale ticket on sight.
			if err := tx.Delete(ctx, storage.KindPairing, userID); err != nil {
				return err
			}
			return ErrInvalidCode
		}

		if subtle.ConstantTimeCompare([]byte(ticket.Code), []byte(code)) != 1 {
			return ErrInvalidCode
		}

		if ticket.Consumed {
			return ErrAlreadyConsumed
		}

		ticket.Consumed = true
		payload = ticket.Payload
		// The consumed ticket stays behind (until replaced or expired) so
		// a retry is distinguishable from a wrong code.
		ticket.Payload = nil

		data, err := marshalTicket(ticket)
		if err != nil {
			return err
		}
		return tx.Put(ctx, storage.KindPairing, userID, data)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "VerifyCode",
		"user_id":  userID,
	}).Info("Pairing code consumed, key payload handed over")

	return payload, nil
}

func (c *Coordinator) loadTicket(ctx context.Context, tx storage.Store, userID string) (*Ticket, error) {
	data, err := tx.Get(ctx, storage.KindPairing, userID)
	if err != nil {
		return nil, err
	}
	var ticket Ticket
	if err := cbor.Unmarshal(data, &ticket); err != nil {
		return nil, fmt.Errorf("failed to decode pairing ticket: %w", err)
	}
	return &ticket, nil
}

func marshalTicket(ticket *Ticket) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return mode.Marshal(ticket)
}

// GenerateCode draws a uniform 6-digit code from crypto/rand.
func GenerateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
