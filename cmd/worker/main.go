package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/near-outlayer/execution-plane/internal/compiler"
	"github.com/near-outlayer/execution-plane/internal/config"
	"github.com/near-outlayer/execution-plane/internal/sandbox"
	"github.com/near-outlayer/execution-plane/internal/sandbox/hostfns"
	"github.com/near-outlayer/execution-plane/internal/seal"
	"github.com/near-outlayer/execution-plane/internal/vrf"
	"github.com/near-outlayer/execution-plane/internal/worker"
)

func main() {
	cfg := config.Load()

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
	log := logrus.WithFields(logrus.Fields{"service": "worker", "worker_id": workerID})

	sealer, err := seal.New([]byte(cfg.StorageMasterKey))
	if err != nil {
		log.WithError(err).Fatal("storage master key invalid")
	}
	signer, err := vrf.NewSigner(cfg.VRFSigningKeyHex)
	if err != nil {
		log.WithError(err).Fatal("vrf signing key invalid")
	}

	client := worker.NewClient(cfg.CoordinatorURL, cfg.WorkerToken, workerID)

	comp := compiler.New(client, client,
		compiler.NewGitFetcher(),
		compiler.NewCargoToolchain(cfg.ToolchainVersion),
		client, workerID, cfg.CompileTimeBudget, cfg.LockDefaultTTL)

	runtime := sandbox.NewRuntime(cfg.EpochTick)
	defer runtime.Close()

	executor := sandbox.NewExecutor(runtime, sealer, signer, client,
		worker.NewRPCClient(cfg.RPCEndpoint),
		hostfns.RPCPolicy{
			CallBudget:        cfg.RPCCallBudget,
			AllowTransactions: cfg.RPCAllowTransacts,
		}, cfg.MaxInputBytes)

	w := worker.New(client, comp, executor,
		worker.NewAgentQuoteProvider(cfg.AttestationAgentURL),
		cfg.WorkerParallelism, cfg.PollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithField("coordinator", cfg.CoordinatorURL).Info("worker starting")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("worker stopped")
	}
}
