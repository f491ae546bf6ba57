// Package rotation decides when a user's identity key pair is due for a
// new epoch and orchestrates the regeneration.
//
// Rotation is serialized per user: of two concurrent attempts, the second
// observes the epoch already advanced by the first and reports a no-op
// rather than double-incrementing. Persistence failures leave the prior
// epoch fully intact.
package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ledgerline/e2ee/crypto"
	"github.com/ledgerline/e2ee/identity"
)

// DefaultInterval is the rotation policy default: one new epoch every 30
// days unless forced earlier.
const DefaultInterval = 30 * 24 * time.Hour

// Rotation outcome reasons.
const (
	ReasonIntervalElapsed = "interval elapsed"
	ReasonNotDue          = "interval not elapsed"
	ReasonForced          = "forced"
)

// Result reports one rotation decision.
type Result struct {
	Rotated  bool
	Reason   string
	NewEpoch uint64
}

// Controller monitors key age and triggers epoch rotation.
type Controller struct {
	ids      *identity.Store
	clock    crypto.TimeProvider
	interval time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewController creates a rotation controller with the given default
// interval. A non-positive interval selects DefaultInterval.
func NewController(ids *identity.Store, clock crypto.TimeProvider, interval time.Duration) *Controller {
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{
		ids:      ids,
		clock:    clock,
		interval: interval,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (c *Controller) userLock(userID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[userID] = lock
	}
	return lock
}

// CheckAndRotate rotates the user's identity key if the rotation interval
// has elapsed since the last rotation. An optional override replaces the
// controller's default interval for this call only. Never rotates more
// than once per call.
func (c *Controller) CheckAndRotate(ctx context.Context, userID string, override ...time.Duration) (*Result, error) {
	interval := c.interval
	if len(override) > 0 && override[0] > 0 {
		interval = override[0]
	}

	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	record, err := c.ids.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	age := c.clock.Since(record.RotatedAt)
	if age < interval {
		logrus.WithFields(logrus.Fields{
			"function": "CheckAndRotate",
			"user_id":  userID,
			"key_age":  age.String(),
			"interval": interval.String(),
		}).Debug("Rotation not due")

		return &Result{Rotated: false, Reason: ReasonNotDue, NewEpoch: record.Epoch}, nil
	}

	return c.rotateLocked(ctx, userID, ReasonIntervalElapsed)
}

// Force rotates immediately regardless of key age. Used when a compromise
// is suspected or the user requests regeneration.
func (c *Controller) Force(ctx context.Context, userID string) (*Result, error) {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return c.rotateLocked(ctx, userID, ReasonForced)
}

func (c *Controller) rotateLocked(ctx context.Context, userID, reason string) (*Result, error) {
	rotated, err := c.ids.Rotate(ctx, userID)
	if err != nil {
		// Nothing advanced: identity.Rotate persists all-or-nothing.
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "rotateLocked",
		"user_id":   userID,
		"new_epoch": rotated.Epoch,
		"reason":    reason,
	}).Info("Identity key rotated")

	return &Result{Rotated: true, Reason: reason, NewEpoch: rotated.Epoch}, nil
}
