package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/near-outlayer/execution-plane/api/rest/server"
	"github.com/near-outlayer/execution-plane/api/rest/v1/routes"
	"github.com/near-outlayer/execution-plane/internal/accounting"
	"github.com/near-outlayer/execution-plane/internal/artifact"
	"github.com/near-outlayer/execution-plane/internal/attestation"
	"github.com/near-outlayer/execution-plane/internal/cache"
	"github.com/near-outlayer/execution-plane/internal/config"
	"github.com/near-outlayer/execution-plane/internal/events"
	"github.com/near-outlayer/execution-plane/internal/ratelimit"
	"github.com/near-outlayer/execution-plane/internal/repository"
)

func main() {
	cfg := config.Load()
	log := logrus.WithField("service", "coordinator")

	db, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database open failed")
	}

	redisClient := cache.NewClient(cfg.RedisAddr)
	locks := cache.NewLockService(redisClient)
	idempotency := cache.NewIdempotencyService(redisClient, cfg.IdempotencyTTL)

	blobs, err := artifact.NewDiskStore(cfg.ArtifactCacheDir)
	if err != nil {
		log.WithError(err).Fatal("artifact cache dir unavailable")
	}
	if cfg.S3Bucket != "" {
		mirror, err := artifact.NewS3Store(artifact.S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			BucketName:      cfg.S3Bucket,
			Region:          cfg.S3Region,
		})
		if err != nil {
			log.WithError(err).Fatal("s3 mirror init failed")
		}
		blobs = artifact.NewTieredStore(blobs, mirror)
	}

	artifacts := artifact.NewStore(repository.NewArtifactRepository(db), blobs, cfg.ArtifactCacheMaxBytes)

	var verifier attestation.CollateralVerifier
	if cfg.CollateralVerifierURL != "" {
		verifier = attestation.NewHTTPVerifier(cfg.CollateralVerifierURL)
	} else {
		log.Warn("no collateral verifier configured, accepting quotes unverified")
		verifier = attestation.InsecureVerifier{}
	}
	gate := attestation.NewGate(verifier, splitMeasurements(cfg.ApprovedMeasurementSet), cfg.AttestationMaxAge)
	credentials := attestation.NewCredentialIssuer([]byte(cfg.CredentialKey), cfg.CredentialTTL)

	pricing := accounting.NewPricingCache(accounting.PricingSchedule{
		BaseFee:                cfg.PriceBaseFee,
		PerMillionInstructions: cfg.PricePerMInstructions,
		PerMBSecond:            cfg.PricePerMBSecond,
		PerCompileMs:           cfg.PricePerCompileMs,
	}, cfg.PricingRefreshInterval)

	jobs := repository.NewJobRepository(db)
	payments := repository.NewPaymentRepository(db)

	srv := server.NewServer(cfg.ListenAddr, server.Dependencies{
		Config:      cfg,
		Jobs:        jobs,
		Payments:    payments,
		Settlements: repository.NewSettlementRepository(db),
		Tokens:      repository.NewTokenRepository(db),
		SystemLogs:  repository.NewSystemLogRepository(db),
		Storage:     repository.NewStorageRepository(db),
		Workers:     repository.NewWorkerRepository(db),
		Artifacts:   artifacts,
		Locks:       locks,
		Idempotency: idempotency,
		Pricing:     pricing,
		Gate:        gate,
		Credentials: credentials,
		Events:      events.NewEmitter(os.Stdout),
		Limiter:     ratelimit.New(cfg.RateLimitPerMin),
	})
	routes.RegisterRoutes(srv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go artifacts.RunEvictionLoop(ctx, cfg.EvictionInterval)
	go runJanitors(ctx, cfg, jobs, payments, srv.Limiter, log)

	log.WithField("addr", cfg.ListenAddr).Info("coordinator listening")
	if err := srv.Run(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

// runJanitors owns the background sweeps: expired claims back to the queue,
// stale payment reservations back to available, terminal jobs past retention
// dropped, idle rate-limit buckets released.
func runJanitors(ctx context.Context, cfg *config.Config,
	jobs repository.JobRepository, payments repository.PaymentRepository,
	limiter *ratelimit.Limiter, log *logrus.Entry) {

	requeue := time.NewTicker(cfg.RequeueSweep)
	janitor := time.NewTicker(cfg.JanitorInterval)
	defer requeue.Stop()
	defer janitor.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-requeue.C:
			if n, err := jobs.RequeueExpired(ctx); err != nil {
				log.WithError(err).Warn("requeue sweep failed")
			} else if n > 0 {
				log.WithField("count", n).Info("requeued expired claims")
			}
		case <-janitor.C:
			if n, err := payments.ReclaimStale(ctx, cfg.StaleReserveAge); err != nil {
				log.WithError(err).Warn("stale reservation reclaim failed")
			} else if n > 0 {
				log.WithField("count", n).Warn("reclaimed stale payment reservations")
			}
			if _, err := jobs.DeleteTerminalBefore(ctx, time.Now().Add(-cfg.JobRetention)); err != nil {
				log.WithError(err).Warn("job retention sweep failed")
			}
			limiter.Sweep()
		}
	}
}

func splitMeasurements(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
