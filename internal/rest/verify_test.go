package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/infra"
)

func testUpstreamConfig() infra.UpstreamConfig {
	return infra.UpstreamConfig{
		RateLimit:     1000,
		RateBurst:     100,
		CBMaxRequests: 3,
		CBInterval:    time.Second,
		CBTimeout:     time.Second,
	}
}

func TestVerifier_CeremonyAttachesFreshToken(t *testing.T) {
	var verifyHeader string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/request-verify/":
			assert.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte(`{"verify_token":"vt-123","expires_in":300}`))
		case "/admin/bulk/shops/":
			verifyHeader = r.Header.Get("X-Admin-Verify-Token")
			w.Write([]byte(`{"action":"approve","results":{"updated":1,"skipped":0,"errors":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	v := NewVerifier(c, zap.NewNop())
	err := v.Run(context.Background(), func(ctx context.Context, verifyToken string) error {
		_, err := c.BulkShops(ctx, "approve", []int64{5}, verifyToken)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "vt-123", verifyHeader)
}

func TestVerifier_EmptyGrantIsFailure(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 без токена — провал церемонии, не успех
		w.Write([]byte(`{}`))
	}))

	v := NewVerifier(c, zap.NewNop())
	err := v.Run(context.Background(), func(ctx context.Context, verifyToken string) error {
		t.Fatal("action must not run without a grant")
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsVerifyFailure(err))
}

func TestVerifier_GrantDeniedPropagates(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"Superadmin only"}`))
	}))

	v := NewVerifier(c, zap.NewNop())
	err := v.Run(context.Background(), func(ctx context.Context, verifyToken string) error {
		t.Fatal("action must not run")
		return nil
	})
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestIsVerifyFailure(t *testing.T) {
	assert.True(t, IsVerifyFailure(&VerifyError{Message: "no token"}))
	assert.True(t, IsVerifyFailure(&APIError{Status: 403, Code: "VERIFY_REQUIRED"}))
	assert.False(t, IsVerifyFailure(&APIError{Status: 403, Code: "PERMISSION_DENIED"}))
	assert.False(t, IsVerifyFailure(errors.New("plain")))
	assert.False(t, IsVerifyFailure(nil))
}

func TestReliableDoer_RetriesGETHonoringRetryAfter(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := NewReliableDoer(srv.Client(), testUpstreamConfig())
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := d.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, hits)
}

func TestReliableDoer_MutationsAreNotRetried(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewReliableDoer(srv.Client(), testUpstreamConfig())
	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)

	resp, err := d.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	// POST уходит как есть: 500 отдается вызывающему без повторов
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 1, hits)
}
