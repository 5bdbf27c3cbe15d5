package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrecall/devrecall/internal/log"
	"github.com/devrecall/devrecall/internal/providererr"
	"github.com/devrecall/devrecall/internal/ratelimit"
)

func sparseLimiter() *ratelimit.Limiter {
	reg := ratelimit.New(log.NewNop())
	return reg.Register(DependencySparse, permissiveBudget())
}

func TestNewHTTPEncoderTimeout(t *testing.T) {
	e, err := NewHTTPEncoder("http://localhost:9000", "", 2*time.Second, sparseLimiter(), log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, e.client.Timeout)

	// Zero falls back to the package default.
	e, err = NewHTTPEncoder("http://localhost:9000", "", 0, sparseLimiter(), log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, e.client.Timeout)
}

func TestHTTPEncoderEncode(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req sparseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "query", req.InputType)
		_ = json.NewEncoder(w).Encode(sparseResponse{
			Indices: []uint32{7, 42},
			Values:  []float32{0.3, 0.9},
		})
	}))
	defer srv.Close()

	e, err := NewHTTPEncoder(srv.URL, "test-key", time.Second, sparseLimiter(), log.NewNop())
	require.NoError(t, err)

	vec, err := e.Encode(context.Background(), "connection pool sizing", InputQuery)
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 42}, vec.Indices)
	assert.Equal(t, []float32{0.3, 0.9}, vec.Values)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestHTTPEncoderEncodeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no credit", http.StatusUnauthorized)
	}))
	defer srv.Close()

	e, err := NewHTTPEncoder(srv.URL, "", time.Second, sparseLimiter(), log.NewNop())
	require.NoError(t, err)

	_, err = e.Encode(context.Background(), "anything", InputPassage)
	require.Error(t, err)
	assert.True(t, providererr.IsPermanent(err))
}

func TestNopEncoderIsZero(t *testing.T) {
	vec, err := NopEncoder{}.Encode(context.Background(), "anything", InputPassage)
	require.NoError(t, err)
	assert.True(t, vec.IsZero())
}
