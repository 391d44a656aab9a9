package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaanihq/vaani/flow"
)

func TestHTTP_SuccessSavesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"balance": 120.5}`))
	}))
	defer server.Close()

	fc := testContext()
	res, err := NewHTTP().Execute(context.Background(),
		map[string]any{"url": server.URL, "save_to": "wallet"}, fc, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Event, "success uses the default event")

	saved := fc.Variables["wallet"].(map[string]any)
	assert.Equal(t, 120.5, saved["balance"])
}

func TestHTTP_TransientRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	res, err := NewHTTP().Execute(context.Background(),
		map[string]any{"url": server.URL}, testContext(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Event)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTP_PersistentFailureEmitsError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	res, err := NewHTTP().Execute(context.Background(),
		map[string]any{"url": server.URL}, testContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, flow.EventError, res.Event)
	assert.Equal(t, int32(2), calls.Load(), "exactly one retry for the transient class")
}

func TestHTTP_PermanentNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"reason": "out of stock"}`))
	}))
	defer server.Close()

	res, err := NewHTTP().Execute(context.Background(),
		map[string]any{"url": server.URL, "method": "POST", "body": map[string]any{"item": "pizza"}},
		testContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, flow.EventError, res.Event)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")

	output := res.Output.(map[string]any)
	assert.Equal(t, http.StatusUnprocessableEntity, output["status"])
	body := output["body"].(map[string]any)
	assert.Equal(t, "out of stock", body["reason"])
}

func TestHTTP_BearerTokenFromSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-9", r.Header.Get("Idempotency-Key"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	fc := testContext()
	fc.Session["auth_token"] = "tok-123"

	res, err := NewHTTP().Execute(context.Background(), map[string]any{
		"url":     server.URL,
		"method":  "POST",
		"auth":    true,
		"headers": map[string]any{"Idempotency-Key": "idem-9"},
	}, fc, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Event)
}
