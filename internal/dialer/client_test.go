package dialer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placementServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/calls", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req PlacementRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Phone)

		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPlace_Success(t *testing.T) {
	srv := placementServer(t, http.StatusCreated, `{"call_id":"prov-123","status":"queued"}`)
	c := NewHTTPClient(srv.URL, "test-key")

	res, err := c.Place(context.Background(), PlacementRequest{
		Phone:     "15551234567",
		CallerID:  "18005550001",
		Variables: map[string]string{"first_name": "Pat"},
	})
	require.NoError(t, err)
	assert.Equal(t, "prov-123", res.CallID)
	assert.Equal(t, "queued", res.Status)
}

func TestPlace_ServerErrorIsTransient(t *testing.T) {
	srv := placementServer(t, http.StatusBadGateway, `{}`)
	c := NewHTTPClient(srv.URL, "test-key")

	_, err := c.Place(context.Background(), PlacementRequest{Phone: "15551234567"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanentRejection(err))
}

func TestPlace_RateLimitIsTransient(t *testing.T) {
	srv := placementServer(t, http.StatusTooManyRequests, `{}`)
	c := NewHTTPClient(srv.URL, "test-key")

	_, err := c.Place(context.Background(), PlacementRequest{Phone: "15551234567"})
	assert.True(t, IsTransient(err))
}

func TestPlace_InvalidNumberIsPermanent(t *testing.T) {
	srv := placementServer(t, http.StatusUnprocessableEntity, `{"code":"invalid_number","message":"not a dialable number"}`)
	c := NewHTTPClient(srv.URL, "test-key")

	_, err := c.Place(context.Background(), PlacementRequest{Phone: "15551234567"})
	require.Error(t, err)
	assert.True(t, IsPermanentRejection(err))
	assert.False(t, IsTransient(err))
}

func TestPlace_ConnectionRefusedIsTransient(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "test-key")
	_, err := c.Place(context.Background(), PlacementRequest{Phone: "15551234567"})
	assert.True(t, IsTransient(err))
}

func TestPlace_MissingCallID(t *testing.T) {
	srv := placementServer(t, http.StatusOK, `{"status":"queued"}`)
	c := NewHTTPClient(srv.URL, "test-key")

	_, err := c.Place(context.Background(), PlacementRequest{Phone: "15551234567"})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}
