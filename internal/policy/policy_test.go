package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestInterval_ClampsToLastEntry(t *testing.T) {
	p := Default()
	p.ProgressiveIntervals = []time.Duration{0, time.Minute, 5 * time.Minute, 10 * time.Minute}

	assert.Equal(t, time.Duration(0), p.Interval(0))
	assert.Equal(t, time.Minute, p.Interval(1))
	assert.Equal(t, 10*time.Minute, p.Interval(3))
	assert.Equal(t, 10*time.Minute, p.Interval(4), "past the table clamps to last entry")
	assert.Equal(t, 10*time.Minute, p.Interval(100))
	assert.Equal(t, time.Duration(0), p.Interval(-1))
}

func TestStoreUpdate_RejectsInvalid(t *testing.T) {
	s := NewStore(Default())

	err := s.Update(func(p *Policy) { p.MaxAttempts = 0 })
	require.Error(t, err)
	assert.Equal(t, Default().MaxAttempts, s.Snapshot().MaxAttempts, "rejected update must not stick")

	require.NoError(t, s.Update(func(p *Policy) { p.MaxAttempts = 5 }))
	assert.Equal(t, 5, s.Snapshot().MaxAttempts)
}

func TestSnapshot_IsolatedFromUpdate(t *testing.T) {
	s := NewStore(Default())
	snap := s.Snapshot()

	require.NoError(t, s.Update(func(p *Policy) {
		p.ProgressiveIntervals[0] = time.Hour
		p.Hours.Blackouts = append(p.Hours.Blackouts, "2026-12-25")
	}))

	assert.Equal(t, time.Duration(0), snap.ProgressiveIntervals[0])
	assert.Empty(t, snap.Hours.Blackouts)
}
