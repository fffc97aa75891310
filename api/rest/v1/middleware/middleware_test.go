package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-outlayer/execution-plane/internal/attestation"
	"github.com/near-outlayer/execution-plane/internal/cache"
	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performRequest(router *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func TestAdminAuth(t *testing.T) {
	router := gin.New()
	router.GET("/ping", AdminAuth("super-secret"), okHandler)

	assert.Equal(t, http.StatusUnauthorized, performRequest(router, nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		performRequest(router, map[string]string{"Authorization": "Bearer wrong"}).Code)
	assert.Equal(t, http.StatusOK,
		performRequest(router, map[string]string{"Authorization": "Bearer super-secret"}).Code)
}

func TestAdminAuthRejectsWhenUnset(t *testing.T) {
	router := gin.New()
	router.GET("/ping", AdminAuth(""), okHandler)

	// An empty configured token must not mean open access.
	assert.Equal(t, http.StatusUnauthorized,
		performRequest(router, map[string]string{"Authorization": "Bearer "}).Code)
}

func TestWorkerCredential(t *testing.T) {
	issuer := attestation.NewCredentialIssuer([]byte("signing-secret"), time.Minute)
	credential, err := issuer.Issue("worker-9", attestation.Measurements{RTMR3: "aa"})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/ping", WorkerCredential(issuer, true), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"worker_id": c.GetString(CtxWorkerID)})
	})

	assert.Equal(t, http.StatusUnauthorized, performRequest(router, nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		performRequest(router, map[string]string{"X-Worker-Credential": "garbage"}).Code)

	w := performRequest(router, map[string]string{"X-Worker-Credential": credential})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "worker-9")
}

type fakeIdempotencyStore struct {
	outcomes  map[string]*cache.Outcome
	inFlight  map[string]bool
	abandoned []string
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{
		outcomes: make(map[string]*cache.Outcome),
		inFlight: make(map[string]bool),
	}
}

func scope(payer, endpoint, key string) string {
	return payer + "|" + endpoint + "|" + key
}

func (f *fakeIdempotencyStore) Begin(_ context.Context, payer, endpoint, key string) (*cache.Outcome, error) {
	k := scope(payer, endpoint, key)
	if out, ok := f.outcomes[k]; ok {
		return out, nil
	}
	if f.inFlight[k] {
		return nil, errs.ErrIdempotencyConflict
	}
	f.inFlight[k] = true
	return nil, nil
}

func (f *fakeIdempotencyStore) Complete(_ context.Context, payer, endpoint, key string, out cache.Outcome) error {
	k := scope(payer, endpoint, key)
	delete(f.inFlight, k)
	f.outcomes[k] = &out
	return nil
}

func (f *fakeIdempotencyStore) Abandon(_ context.Context, payer, endpoint, key string) error {
	k := scope(payer, endpoint, key)
	delete(f.inFlight, k)
	f.abandoned = append(f.abandoned, k)
	return nil
}

func idempotentRouter(store *fakeIdempotencyStore, handler gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.POST("/submit", func(c *gin.Context) {
		c.Set(CtxOwner, "alice")
		c.Next()
	}, Idempotency(store), handler)
	return router
}

func postSubmit(router *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIdempotencyRecordsAndReplays(t *testing.T) {
	store := newFakeIdempotencyStore()
	calls := 0
	router := idempotentRouter(store, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusAccepted, gin.H{"request_id": 7})
	})

	first := postSubmit(router, "key-1")
	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Empty(t, first.Header().Get("Idempotency-Replayed"))

	second := postSubmit(router, "key-1")
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	// The handler ran once; the duplicate was served from the record.
	assert.Equal(t, 1, calls)
}

func TestIdempotencyInFlightConflicts(t *testing.T) {
	store := newFakeIdempotencyStore()
	store.inFlight[scope("alice", "/submit", "key-1")] = true

	router := idempotentRouter(store, func(c *gin.Context) {
		t.Fatal("handler must not run while the first request is in flight")
	})

	w := postSubmit(router, "key-1")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestIdempotencyServerErrorNotPinned(t *testing.T) {
	store := newFakeIdempotencyStore()
	router := idempotentRouter(store, func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backend down"})
	})

	w := postSubmit(router, "key-1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Len(t, store.abandoned, 1)
	assert.Empty(t, store.outcomes)

	// A retry after the transient failure runs the handler again.
	w = postSubmit(router, "key-1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	store := newFakeIdempotencyStore()
	router := idempotentRouter(store, okHandler)

	assert.Equal(t, http.StatusOK, postSubmit(router, "").Code)
	assert.Equal(t, http.StatusOK, postSubmit(router, "").Code)
	assert.Empty(t, store.outcomes)
	assert.Empty(t, store.inFlight)
}

func TestRateLimitMiddleware(t *testing.T) {
	router := gin.New()
	router.GET("/ping", func(c *gin.Context) {
		c.Set(CtxOwner, "alice")
		c.Next()
	}, RateLimit(ratelimit.New(2)), okHandler)

	assert.Equal(t, http.StatusOK, performRequest(router, nil).Code)
	assert.Equal(t, http.StatusOK, performRequest(router, nil).Code)

	w := performRequest(router, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
