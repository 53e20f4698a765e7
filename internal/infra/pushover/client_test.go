package pushover_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceproc/internal/infra/pushover"
)

func TestClient_DisabledWithoutCredentials(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := pushover.NewClient("", "user", srv.URL)
	require.NoError(t, c.Notify(context.Background(), "hello"))
	assert.False(t, c.Enabled())
	assert.Zero(t, hits.Load())
}

func TestClient_SendsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok", r.Form.Get("token"))
		assert.Equal(t, "usr", r.Form.Get("user"))
		assert.Equal(t, "pipeline stalled", r.Form.Get("message"))
		assert.Equal(t, "Voice Processing", r.Form.Get("title"))
	}))
	defer srv.Close()

	c := pushover.NewClient("tok", "usr", srv.URL)
	require.NoError(t, c.Notify(context.Background(), "pipeline stalled"))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := pushover.NewClient("tok", "usr", srv.URL)
	require.NoError(t, c.Notify(context.Background(), "x"))
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := pushover.NewClient("tok", "usr", srv.URL)
	assert.Error(t, c.Notify(context.Background(), "x"))
	assert.Equal(t, int32(1), hits.Load())
}
