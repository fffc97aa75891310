package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/near-outlayer/execution-plane/internal/accounting"
	"github.com/near-outlayer/execution-plane/internal/artifact"
	"github.com/near-outlayer/execution-plane/internal/attestation"
	"github.com/near-outlayer/execution-plane/internal/cache"
	"github.com/near-outlayer/execution-plane/internal/config"
	"github.com/near-outlayer/execution-plane/internal/events"
	"github.com/near-outlayer/execution-plane/internal/ratelimit"
	"github.com/near-outlayer/execution-plane/internal/repository"
)

// Locker is the mutual exclusion the settle path and the worker lock
// endpoints run on. *cache.LockService implements it; handler tests use an
// in-memory fake.
type Locker interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) error
	Holder(ctx context.Context, key string) (string, error)
}

// Dependencies is everything the handler layer touches. cmd/coordinator
// wires it once at startup.
type Dependencies struct {
	Config *config.Config

	Jobs        repository.JobRepository
	Payments    repository.PaymentRepository
	Settlements repository.SettlementRepository
	Tokens      repository.TokenRepository
	SystemLogs  repository.SystemLogRepository
	Storage     repository.StorageRepository
	Workers     repository.WorkerRepository

	Artifacts   *artifact.Store
	Locks       Locker
	Idempotency *cache.IdempotencyService
	Pricing     *accounting.PricingCache
	Gate        *attestation.Gate
	Credentials *attestation.CredentialIssuer
	Events      *events.Emitter
	Limiter     *ratelimit.Limiter
}

type Server struct {
	Addr   string
	Engine *gin.Engine
	Dependencies
}

func NewServer(addr string, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		Addr:         addr,
		Engine:       gin.Default(),
		Dependencies: deps,
	}
}

func (s *Server) Run() error {
	return s.Engine.Run(s.Addr)
}
