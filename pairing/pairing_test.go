package pairing

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/e2ee/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(t)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewCoordinator(storage.NewMemStore(), clock, DefaultTTL), clock
}

func TestCreateRequest(t *testing.T) {
	t.Parallel()

	coordinator, clock := newTestCoordinator(t)

	code, expiresAt, err := coordinator.CreateRequest(context.Background(), "alice", []byte("key payload"))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
	assert.Equal(t, clock.Now().Add(DefaultTTL), expiresAt)
}

func TestVerifyCodeHappyPath(t *testing.T) {
	t.Parallel()

	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	code, _, err := coordinator.CreateRequest(ctx, "alice", []byte("key payload"))
	require.NoError(t, err)

	payload, err := coordinator.VerifyCode(ctx, "alice", code)
	require.NoError(t, err)
	assert.Equal(t, []byte("key payload"), payload)
}

func TestVerifyCodeConsumedExactlyOnce(t *testing.T) {
	t.Parallel()

	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	code, _, err := coordinator.CreateRequest(ctx, "alice", []byte("key payload"))
	require.NoError(t, err)

	_, err = coordinator.VerifyCode(ctx, "alice", code)
	require.NoError(t, err)

	// The retry must fail and must not return the payload again.
	payload, err := coordinator.VerifyCode(ctx, "alice", code)
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
	assert.Nil(t, payload)
}

func TestVerifyCodeWrongCode(t *testing.T) {
	t.Parallel()

	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	code, _, err := coordinator.CreateRequest(ctx, "alice", []byte("key payload"))
	require.NoError(t, err)

	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}

	_, err = coordinator.VerifyCode(ctx, "alice", wrong)
	assert.ErrorIs(t, err, ErrInvalidCode)

	// The right code still works after a failed guess.
	_, err = coordinator.VerifyCode(ctx, "alice", code)
	assert.NoError(t, err)
}

func TestVerifyCodeExpired(t *testing.T) {
	t.Parallel()

	coordinator, clock := newTestCoordinator(t)
	ctx := context.Background()

	code, _, err := coordinator.CreateRequest(ctx, "alice", []byte("key payload"))
	require.NoError(t, err)

	// Issued at T with a 10-minute TTL, verified at T+11 minutes: fails
	// even though never consumed.
	clock.advance(11 * time.Minute)

	_, err = coordinator.VerifyCode(ctx, "alice", code)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerifyCodeUnknownUser(t *testing.T) {
	t.Parallel()

	coordinator, _ := newTestCoordinator(t)

	_, err := coordinator.VerifyCode(context.Background(), "nobody", "123456")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestCreateRequestAlreadyPending(t *testing.T) {
	t.Parallel()

	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, _, err := coordinator.CreateRequest(ctx, "alice", []byte("first"))
	require.NoError(t, err)

	_, _, err = coordinator.CreateRequest(ctx, "alice", []byte("second"))
	assert.ErrorIs(t, err, ErrAlreadyPending)
}

func TestCreateRequestAfterExpiry(t *testing.T) {
	t.Parallel()

	coordinator, clock := newTestCoordinator(t)
	ctx := context.Background()

	_, _, err := coordinator.CreateRequest(ctx, "alice", []byte("first"))
	require.NoError(t, err)

	clock.advance(DefaultTTL + time.Minute)

	// The stale ticket no longer blocks a new request.
	code, _, err := coordinator.CreateRequest(ctx, "alice", []byte("second"))
	require.NoError(t, err)

	payload, err := coordinator.VerifyCode(ctx, "alice", code)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), payload)
}

func TestCreateRequestAfterConsumption(t *testing.T) {
	t.Parallel()

	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	code, _, err := coordinator.CreateRequest(ctx, "alice", []byte("first"))
	require.NoError(t, err)
	_, err = coordinator.VerifyCode(ctx, "alice", code)
	require.NoError(t, err)

	// A consumed ticket does not count as pending.
	_, _, err = coordinator.CreateRequest(ctx, "alice", []byte("second"))
	assert.NoError(t, err)
}

func TestCreateRequestInvalidInput(t *testing.T) {
	t.Parallel()

	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, _, err := coordinator.CreateRequest(ctx, "", []byte("payload"))
	assert.Error(t, err)

	_, _, err = coordinator.CreateRequest(ctx, "alice", nil)
	assert.Error(t, err)
}

func TestConcurrentVerifySingleWinner(t *testing.T) {
	t.Parallel()

	coordinator, _ := newTestCoordinator(t)
	ctx := context.Background()

	code, _, err := coordinator.CreateRequest(ctx, "alice", []byte("key payload"))
	require.NoError(t, err)

	type outcome struct {
		payload []byte
		err     error
	}
	results := make(chan outcome, 4)
	for i := 0; i < 4; i++ {
		go func() {
			payload, err := coordinator.VerifyCode(ctx, "alice", code)
			results <- outcome{payload: payload, err: err}
		}()
	}

	winners := 0
	for i := 0; i < 4; i++ {
		r := <-results
		if r.err == nil {
			winners++
			assert.Equal(t, []byte("key payload"), r.payload)
		} else {
			assert.ErrorIs(t, r.err, ErrAlreadyConsumed)
		}
	}
	assert.Equal(t, 1, winners, "payload must be handed over exactly once")
}
