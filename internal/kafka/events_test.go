package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCompletionEvent(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		ev, err := DecodeCompletionEvent([]byte(`{
			"call_id": "abc-123",
			"outcome": "NO_ANSWER",
			"occurred_at": "2026-03-02T15:04:05Z"
		}`))
		require.NoError(t, err)
		assert.Equal(t, "abc-123", ev.CallID)
		assert.Equal(t, "NO_ANSWER", ev.Outcome)
		assert.Nil(t, ev.CallbackAt)
	})

	t.Run("callback outcome carries schedule", func(t *testing.T) {
		ev, err := DecodeCompletionEvent([]byte(`{
			"call_id": "abc-124",
			"outcome": "CALLBACK",
			"callback_at": "2026-03-03T10:00:00Z"
		}`))
		require.NoError(t, err)
		require.NotNil(t, ev.CallbackAt)
		assert.Equal(t, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC), ev.CallbackAt.UTC())
	})

	t.Run("missing call_id rejected", func(t *testing.T) {
		_, err := DecodeCompletionEvent([]byte(`{"outcome": "SALE"}`))
		require.Error(t, err)
	})

	t.Run("missing outcome rejected", func(t *testing.T) {
		_, err := DecodeCompletionEvent([]byte(`{"call_id": "abc-125"}`))
		require.Error(t, err)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		_, err := DecodeCompletionEvent([]byte(`{not json`))
		require.Error(t, err)
	})
}

func TestDispositionEventEncode(t *testing.T) {
	ev := &DispositionEvent{
		CallID:     "abc-123",
		LeadID:     "lead-9",
		Phone:      "15551234567",
		Outcome:    "SALE",
		Attempts:   3,
		Terminal:   true,
		ResolvedAt: time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC),
	}
	data, err := ev.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"lead_id":"lead-9"`)
	assert.Contains(t, string(data), `"terminal":true`)
}
