package admission

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbassil/dialdispatch/internal/policy"
)

// fakeClock is a manually-advanced time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, cps float64, sameNumber time.Duration) (*Limiter, *fakeClock) {
	t.Helper()
	p := policy.Default()
	p.MaxCallsPerSecond = cps
	p.SameNumberInterval = sameNumber
	clock := &fakeClock{t: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	return NewLimiter(policy.NewStore(p), WithClock(clock.now)), clock
}

func TestTryAcquire_GlobalSpacing(t *testing.T) {
	// 5 calls/second → 200ms between grants.
	l, clock := newTestLimiter(t, 5, time.Hour)

	for i := 0; i < 5; i++ {
		d := l.TryAcquire(fmt.Sprintf("1555123456%d", i))
		require.True(t, d.Granted, "call %d spaced 200ms apart", i)
		clock.advance(200 * time.Millisecond)
	}

	// Sixth distinct number immediately after the fifth grant plus only
	// 100ms: global spacing violated.
	clock.advance(-100 * time.Millisecond)
	d := l.TryAcquire("15551239999")
	assert.False(t, d.Granted)
	assert.Equal(t, ReasonGlobalRate, d.Reason)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestTryAcquire_DeniedDoesNotConsumeToken(t *testing.T) {
	l, clock := newTestLimiter(t, 1, time.Hour)

	require.True(t, l.TryAcquire("15551230001").Granted)

	// Denied attempts must not push the next grant further out.
	for i := 0; i < 3; i++ {
		clock.advance(100 * time.Millisecond)
		assert.False(t, l.TryAcquire("15551230002").Granted)
	}

	clock.advance(700 * time.Millisecond) // total 1s since the grant
	assert.True(t, l.TryAcquire("15551230002").Granted)
}

func TestTryAcquire_SameNumberInterval(t *testing.T) {
	l, clock := newTestLimiter(t, 100, 30*time.Minute)

	require.True(t, l.TryAcquire("15551234567").Granted)

	clock.advance(10 * time.Minute)
	d := l.TryAcquire("15551234567")
	require.False(t, d.Granted)
	assert.Equal(t, ReasonSameNumber, d.Reason)
	assert.Equal(t, 20*time.Minute, d.RetryAfter)

	// A different number is unaffected by the per-number hold.
	assert.True(t, l.TryAcquire("15559876543").Granted)

	clock.advance(20 * time.Minute)
	assert.True(t, l.TryAcquire("15551234567").Granted)
}

func TestTryAcquire_RateChangeAppliesAtRuntime(t *testing.T) {
	p := policy.Default()
	p.MaxCallsPerSecond = 1
	p.SameNumberInterval = 0
	store := policy.NewStore(p)
	clock := &fakeClock{t: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(store, WithClock(clock.now))

	require.True(t, l.TryAcquire("15551230001").Granted)
	clock.advance(200 * time.Millisecond)
	require.False(t, l.TryAcquire("15551230002").Granted)

	require.NoError(t, store.Update(func(p *policy.Policy) { p.MaxCallsPerSecond = 10 }))
	clock.advance(200 * time.Millisecond)
	assert.True(t, l.TryAcquire("15551230002").Granted, "10/s allows a grant 400ms after the last")
}

func TestTrackedNumbers(t *testing.T) {
	l, clock := newTestLimiter(t, 100, time.Hour)
	require.True(t, l.TryAcquire("15551230001").Granted)
	clock.advance(time.Second)
	require.True(t, l.TryAcquire("15551230002").Granted)
	assert.Equal(t, 2, l.TrackedNumbers())
}
