package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbassil/dialdispatch/internal/admission"
	"github.com/nbassil/dialdispatch/internal/correlation"
	"github.com/nbassil/dialdispatch/internal/domain"
	"github.com/nbassil/dialdispatch/internal/hours"
	"github.com/nbassil/dialdispatch/internal/identity"
	"github.com/nbassil/dialdispatch/internal/kafka"
	"github.com/nbassil/dialdispatch/internal/policy"
	"github.com/nbassil/dialdispatch/internal/redial"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type memStore struct{}

func (memStore) Load(time.Time) (map[string]*domain.RedialRecord, map[string]bool, error) {
	return map[string]*domain.RedialRecord{}, map[string]bool{}, nil
}
func (memStore) Save(*domain.RedialRecord) error { return nil }
func (memStore) Delete(*domain.RedialRecord) error { return nil }
func (memStore) SaveBlocklist([]string) error { return nil }

type fakeDispatcher struct {
	enabled     bool
	triggered   int
	dialed      []string
	dialResult  string
	dialErr     error
	completions []*kafka.CompletionEvent
}

func (f *fakeDispatcher) Trigger()          { f.triggered++ }
func (f *fakeDispatcher) SetEnabled(b bool) { f.enabled = b }
func (f *fakeDispatcher) Enabled() bool     { return f.enabled }

func (f *fakeDispatcher) DispatchImmediate(_ context.Context, phone string, _ redial.Context) (string, error) {
	if f.dialErr != nil {
		return "", f.dialErr
	}
	f.dialed = append(f.dialed, phone)
	return f.dialResult, nil
}

func (f *fakeDispatcher) OnCompletion(_ context.Context, ev *kafka.CompletionEvent) error {
	f.completions = append(f.completions, ev)
	return nil
}

// ── harness ──────────────────────────────────────────────────────────────────

type apiHarness struct {
	srv        *httptest.Server
	queue      *redial.Queue
	dispatcher *fakeDispatcher
	pol        *policy.Store
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pol := policy.Default()
	pol.Hours = hours.Config{Enabled: false}
	store := policy.NewStore(pol)

	queue, err := redial.NewQueue(store, memStore{}, logger)
	require.NoError(t, err)
	cache := correlation.NewCache()
	limiter := admission.NewLimiter(store)
	pool := identity.NewPool(store, []string{"18005550001"})
	dispatcher := &fakeDispatcher{enabled: true, dialResult: "call-1"}

	h := NewHandler(queue, cache, limiter, pool, store, dispatcher, logger)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	return &apiHarness{srv: srv, queue: queue, dispatcher: dispatcher, pol: store}
}

func (h *apiHarness) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestQueueEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	_, err := h.queue.Ensure("15551230001", redial.Context{LeadID: "lead-1"})
	require.NoError(t, err)

	t.Run("list", func(t *testing.T) {
		resp := h.do(t, http.MethodGet, "/api/v1/queue", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[map[string]any](t, resp)
		assert.EqualValues(t, 1, body["count"])
	})

	t.Run("get accepts unnormalized numbers", func(t *testing.T) {
		resp := h.do(t, http.MethodGet, "/api/v1/queue/5551230001", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		rec := decode[domain.RedialRecord](t, resp)
		assert.Equal(t, "15551230001", rec.Phone)
		assert.Equal(t, "lead-1", rec.LeadID)
	})

	t.Run("get unknown is 404", func(t *testing.T) {
		resp := h.do(t, http.MethodGet, "/api/v1/queue/15559990000", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("stats", func(t *testing.T) {
		resp := h.do(t, http.MethodGet, "/api/v1/queue/stats", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[map[string]any](t, resp)
		assert.Contains(t, body, "queue")
		assert.Contains(t, body, "identities")
		assert.Contains(t, body, "admission")
	})

	t.Run("pause and resume", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/v1/queue/15551230001/pause", `{"reason":"customer asked"}`)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		rec, err := h.queue.Get("15551230001")
		require.NoError(t, err)
		assert.Equal(t, domain.RedialPaused, rec.Status)
		assert.Equal(t, "customer asked", rec.PausedReason)

		resp = h.do(t, http.MethodPost, "/api/v1/queue/15551230001/resume", "")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		rec, err = h.queue.Get("15551230001")
		require.NoError(t, err)
		assert.Equal(t, domain.RedialPending, rec.Status)
	})

	t.Run("delete with blocklist", func(t *testing.T) {
		resp := h.do(t, http.MethodDelete, "/api/v1/queue/15551230001?blocklist=1", "")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.True(t, h.queue.IsBlocklisted("15551230001"))
		_, err := h.queue.Get("15551230001")
		assert.Error(t, err)
	})
}

func TestDispatchEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/api/v1/dispatch/trigger", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, h.dispatcher.triggered)

	resp = h.do(t, http.MethodPost, "/api/v1/dispatch/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, h.dispatcher.enabled)

	resp = h.do(t, http.MethodPost, "/api/v1/dispatch/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, h.dispatcher.enabled)
}

func TestConfigEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	t.Run("get returns readable durations", func(t *testing.T) {
		resp := h.do(t, http.MethodGet, "/api/v1/config", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		view := decode[ConfigView](t, resp)
		assert.Equal(t, 12, view.MaxAttempts)
		assert.Equal(t, "4h0m0s", view.SameNumberInterval)
	})

	t.Run("partial update", func(t *testing.T) {
		resp := h.do(t, http.MethodPut, "/api/v1/config",
			`{"max_attempts": 6, "progressive_intervals": ["0s","1m","5m","10m"]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		p := h.pol.Snapshot()
		assert.Equal(t, 6, p.MaxAttempts)
		assert.Equal(t, []time.Duration{0, time.Minute, 5 * time.Minute, 10 * time.Minute}, p.ProgressiveIntervals)
		assert.Equal(t, 3, p.MaxDailyAttempts, "untouched knobs keep their values")
	})

	t.Run("bad duration rejected", func(t *testing.T) {
		resp := h.do(t, http.MethodPut, "/api/v1/config", `{"tick_interval": "soon"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid policy rejected atomically", func(t *testing.T) {
		before := h.pol.Snapshot()
		resp := h.do(t, http.MethodPut, "/api/v1/config", `{"progressive_intervals": ["-5m"]}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, before.ProgressiveIntervals, h.pol.Snapshot().ProgressiveIntervals)
	})
}

func TestCreateCall(t *testing.T) {
	h := newAPIHarness(t)

	t.Run("accepted", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/v1/calls", `{"phone":"5551230002","lead_id":"lead-2"}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		body := decode[map[string]string](t, resp)
		assert.Equal(t, "call-1", body["call_id"])
		assert.Equal(t, []string{"5551230002"}, h.dispatcher.dialed)
	})

	t.Run("missing phone", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/v1/calls", `{"lead_id":"x"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("in-flight conflict", func(t *testing.T) {
		h.dispatcher.dialErr = &domain.DuplicateCallError{CallID: "live"}
		resp := h.do(t, http.MethodPost, "/api/v1/calls", `{"phone":"5551230002"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestCompletionWebhook(t *testing.T) {
	h := newAPIHarness(t)

	t.Run("valid event forwarded", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/webhooks/completion",
			`{"call_id":"call-1","outcome":"NO_ANSWER"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, h.dispatcher.completions, 1)
		assert.Equal(t, "call-1", h.dispatcher.completions[0].CallID)
	})

	t.Run("missing outcome rejected", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/webhooks/completion", `{"call_id":"call-2"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHealthEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
