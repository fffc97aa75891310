package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/near-outlayer/execution-plane/internal/compiler"
	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/models"
	"github.com/near-outlayer/execution-plane/internal/sandbox"
)

// Worker drives the claim/compile/execute/report cycle.
type Worker struct {
	client   *Client
	compiler *compiler.Compiler
	executor *sandbox.Executor
	quotes   QuoteProvider

	parallelism  int
	pollInterval time.Duration
	log          *logrus.Entry
}

func New(client *Client, comp *compiler.Compiler, exec *sandbox.Executor, quotes QuoteProvider,
	parallelism int, pollInterval time.Duration) *Worker {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Worker{
		client:       client,
		compiler:     comp,
		executor:     exec,
		quotes:       quotes,
		parallelism:  parallelism,
		pollInterval: pollInterval,
		log:          logrus.WithField("component", "worker"),
	}
}

// Run attests, then claims and processes jobs until ctx is cancelled. Claim
// loops run in parallel; each loop processes one job at a time.
func (w *Worker) Run(ctx context.Context) error {
	expiresIn, err := w.attest(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.reattestLoop(ctx, expiresIn) })
	for i := 0; i < w.parallelism; i++ {
		g.Go(func() error { return w.claimLoop(ctx) })
	}
	return g.Wait()
}

func (w *Worker) attest(ctx context.Context) (time.Duration, error) {
	quote, collateral, err := w.quotes.Quote(ctx)
	if err != nil {
		return 0, err
	}
	expiresIn, err := w.client.Attest(ctx, quote, collateral)
	if err != nil {
		return 0, err
	}
	w.log.WithField("expires_in", expiresIn).Info("attested")
	return expiresIn, nil
}

// reattestLoop refreshes the claim credential before it expires.
func (w *Worker) reattestLoop(ctx context.Context, expiresIn time.Duration) error {
	for {
		refresh := expiresIn * 2 / 3
		if refresh < time.Minute {
			refresh = time.Minute
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(refresh):
		}
		next, err := w.attest(ctx)
		if err != nil {
			w.log.WithError(err).Warn("re-attestation failed, retrying")
			expiresIn = 3 * time.Minute
			continue
		}
		expiresIn = next
	}
}

func (w *Worker) claimLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		jobs, err := w.client.Claim(ctx, 1)
		if err != nil {
			w.log.WithError(err).Warn("claim failed")
			continue
		}
		for _, req := range jobs {
			w.process(ctx, req)
		}
	}
}

// process runs one job end to end and reports the outcome. Transient
// infrastructure errors are not reported; the claim deadline returns the job
// to the queue for another attempt.
func (w *Worker) process(ctx context.Context, req models.ExecutionRequest) {
	log := w.log.WithField("request_id", req.RequestID)

	compiled, err := w.compiler.Compile(ctx, req.RequestID, req.Source)
	if err != nil {
		if errs.Transient(err) {
			log.WithError(err).Warn("transient compile failure, leaving job for requeue")
			return
		}
		log.WithError(err).Info("compilation failed")
		if err := w.client.Fail(ctx, req.RequestID, err.Error(), errs.Kind(err)); err != nil {
			log.WithError(err).Warn("fail report did not reach coordinator")
		}
		return
	}

	exec, execErr := w.executor.Execute(ctx, compiled.Bytecode, req)

	result := models.ExecutionResult{
		RequestID:       req.RequestID,
		Success:         execErr == nil,
		CompilationNote: compiled.Note,
	}
	if exec != nil {
		result.Output = exec.Output
		result.Usage = exec.Usage
		result.RefundUSD = exec.RefundUSD
		if exec.GuestErr != "" {
			w.client.ExecLog(ctx, req.RequestID, exec.GuestErr)
		}
	}
	if !compiled.CacheHit {
		result.Usage.CompileTimeMs = compiled.CompileTimeMs
	}
	if execErr != nil {
		result.ErrorKind = errs.Kind(execErr)
		result.Error = execErr.Error()
		log.WithField("kind", result.ErrorKind).Info("execution failed")
	}

	if err := w.client.Complete(ctx, result); err != nil {
		log.WithError(err).Warn("completion report did not reach coordinator")
	}
}
