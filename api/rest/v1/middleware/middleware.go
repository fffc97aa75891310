package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/near-outlayer/execution-plane/internal/attestation"
	"github.com/near-outlayer/execution-plane/internal/cache"
	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/metrics"
	"github.com/near-outlayer/execution-plane/internal/ratelimit"
	"github.com/near-outlayer/execution-plane/internal/repository"
)

// Context keys set by the middleware chain.
const (
	CtxOwner    = "token_owner"
	CtxWorkerID = "worker_id"
)

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// Auth validates the bearer token against stored digests for the given role.
// Plaintext tokens are never persisted; the last-used timestamp is updated
// off the request path.
func Auth(tokens repository.TokenRepository, role string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			if !required {
				c.Set(CtxOwner, "anonymous")
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		digest := hashToken(token)
		record, err := tokens.FindActive(c.Request.Context(), digest, role)
		if err != nil || record == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		go func() {
			if err := tokens.TouchLastUsed(context.Background(), digest); err != nil {
				logrus.WithError(err).Debug("touch token last-used failed")
			}
		}()

		c.Set(CtxOwner, record.Owner)
		c.Next()
	}
}

// AdminAuth compares against the static admin bearer from config.
func AdminAuth(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if adminToken == "" || !ok ||
			subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}

// WorkerCredential validates the attestation-issued claim credential and
// pins the worker identity for downstream handlers.
func WorkerCredential(issuer *attestation.CredentialIssuer, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := c.GetHeader("X-Worker-Credential")
		if credential == "" {
			if !required {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "worker credential required"})
			return
		}
		claims, err := issuer.Validate(credential)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid worker credential"})
			return
		}
		c.Set(CtxWorkerID, claims.WorkerID)
		c.Next()
	}
}

// RateLimit applies the per-key token bucket. The key is the authenticated
// owner when present, the client address otherwise.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(CtxOwner)
		if key == "" || key == "anonymous" {
			key = c.ClientIP()
		}
		ok, retry := limiter.Allow(key)
		if !ok {
			metrics.RateLimited.Inc()
			c.Header("Retry-After", fmt.Sprintf("%d", int(retry.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

type bodyCapture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyStore is the slice of the idempotency cache the middleware
// needs. *cache.IdempotencyService implements it; tests substitute a fake.
type IdempotencyStore interface {
	Begin(ctx context.Context, payer, endpoint, key string) (*cache.Outcome, error)
	Complete(ctx context.Context, payer, endpoint, key string, out cache.Outcome) error
	Abandon(ctx context.Context, payer, endpoint, key string) error
}

// Idempotency replays the recorded outcome for a repeated Idempotency-Key
// and rejects a key that is still in flight. Requests without the header
// pass through untouched.
func Idempotency(svc IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Idempotency-Key")
		if key == "" {
			c.Next()
			return
		}
		payer := c.GetString(CtxOwner)
		endpoint := c.FullPath()

		outcome, err := svc.Begin(c.Request.Context(), payer, endpoint, key)
		if err != nil {
			if errors.Is(err, errs.ErrIdempotencyConflict) {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
			return
		}
		if outcome != nil {
			c.Header("Idempotency-Replayed", "true")
			c.Data(outcome.Status, "application/json", outcome.Body)
			c.Abort()
			return
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		status := capture.Status()
		if status >= http.StatusInternalServerError {
			// Do not pin a transient failure to the key.
			if err := svc.Abandon(context.Background(), payer, endpoint, key); err != nil {
				logrus.WithError(err).Warn("abandon idempotency marker failed")
			}
			return
		}
		if err := svc.Complete(c.Request.Context(), payer, endpoint, key, cache.Outcome{
			Status: status,
			Body:   capture.buf.Bytes(),
		}); err != nil {
			logrus.WithError(err).Warn("record idempotency outcome failed")
		}
	}
}
