// Package compiler turns pinned code sources into sandbox bytecode and
// writes the result through the shared artifact cache. At most one
// compilation runs per fingerprint across the fleet, enforced by a
// fingerprint-scoped lock.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/models"
)

// Cache is the artifact cache surface the compiler needs (the worker backs
// it with the coordinator's cache API).
type Cache interface {
	// Lookup returns (bytes, note, nil) on hit and (nil, "", nil) on miss.
	Lookup(ctx context.Context, fingerprint string) ([]byte, string, error)
	Put(ctx context.Context, fingerprint string, data []byte, note string) error
}

// Locker provides the fingerprint-scoped build lock.
type Locker interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) error
}

// SourceFetcher materializes a repository at a pinned commit into dest.
type SourceFetcher interface {
	Fetch(ctx context.Context, repo, commit, dest string) error
}

// Toolchain builds a workspace into sandbox bytecode for a target. The build
// log may contain host-file contents and must only reach the protected log
// sink.
type Toolchain interface {
	Build(ctx context.Context, workspace, target string) (bytecode []byte, buildLog string, err error)
	Version() string
}

// LogSink receives raw build output on the admin-only channel.
type LogSink interface {
	CompileLog(ctx context.Context, requestID uint64, content string)
}

// Result describes a finished compile call.
type Result struct {
	Fingerprint   string
	Bytecode      []byte
	Note          string
	CompileTimeMs uint64
	CacheHit      bool
}

type Compiler struct {
	cache     Cache
	locks     Locker
	fetcher   SourceFetcher
	toolchain Toolchain
	logs      LogSink
	holderID  string
	budget    time.Duration
	lockTTL   time.Duration
	log       *logrus.Entry
}

func New(cache Cache, locks Locker, fetcher SourceFetcher, toolchain Toolchain, logs LogSink, holderID string, budget, lockTTL time.Duration) *Compiler {
	return &Compiler{
		cache:     cache,
		locks:     locks,
		fetcher:   fetcher,
		toolchain: toolchain,
		logs:      logs,
		holderID:  holderID,
		budget:    budget,
		lockTTL:   lockTTL,
		log:       logrus.WithField("component", "compiler"),
	}
}

// Compile resolves the fingerprint for source, returning cached bytecode
// when available and otherwise building under the fingerprint lock. The
// compile-time budget is independent of the execution limits.
func (c *Compiler) Compile(ctx context.Context, requestID uint64, source models.CodeSource) (*Result, error) {
	fingerprint, err := Fingerprint(source, c.toolchain.Version())
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}
	log := c.log.WithFields(logrus.Fields{"fingerprint": fingerprint, "request_id": requestID})

	if data, note, err := c.cache.Lookup(ctx, fingerprint); err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	} else if data != nil {
		log.Debug("cache hit")
		return &Result{Fingerprint: fingerprint, Bytecode: data, Note: note, CacheHit: true}, nil
	}

	lockKey := "compile:" + fingerprint
	acquired, err := c.locks.Acquire(ctx, lockKey, c.holderID, c.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire build lock: %w", err)
	}
	if !acquired {
		// Another worker is compiling this fingerprint; wait for its artifact.
		return c.awaitArtifact(ctx, fingerprint)
	}
	defer func() {
		if err := c.locks.Release(context.WithoutCancel(ctx), lockKey, c.holderID); err != nil {
			log.WithError(err).Warn("build lock release failed")
		}
	}()

	// Double-check after winning the lock: the previous holder may have
	// finished between our miss and our acquire.
	if data, note, err := c.cache.Lookup(ctx, fingerprint); err != nil {
		return nil, fmt.Errorf("cache re-check: %w", err)
	} else if data != nil {
		log.Debug("cache hit after lock")
		return &Result{Fingerprint: fingerprint, Bytecode: data, Note: note, CacheHit: true}, nil
	}

	started := time.Now()
	data, err := c.build(ctx, requestID, source)
	if err != nil {
		return nil, err
	}
	compileMs := uint64(time.Since(started).Milliseconds())

	note := fmt.Sprintf("compiled %s in %dms with %s",
		started.UTC().Format(time.RFC3339), compileMs, c.toolchain.Version())
	if err := c.cache.Put(ctx, fingerprint, data, note); err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}

	log.WithField("compile_ms", compileMs).Info("compiled and cached")
	return &Result{
		Fingerprint:   fingerprint,
		Bytecode:      data,
		Note:          note,
		CompileTimeMs: compileMs,
	}, nil
}

func (c *Compiler) build(ctx context.Context, requestID uint64, source models.CodeSource) ([]byte, error) {
	workspace, err := os.MkdirTemp("", "outlayer-build-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	buildCtx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	if err := c.fetcher.Fetch(buildCtx, source.Repo, source.Commit, workspace); err != nil {
		if errors.Is(err, errs.ErrSourceNotFound) || errors.Is(err, errs.ErrSourceFetchFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrSourceFetchFailed, err)
	}

	data, buildLog, err := c.toolchain.Build(buildCtx, workspace, source.BuildTarget)
	if buildLog != "" {
		// Build output may echo host paths or source internals; admin channel only.
		c.logs.CompileLog(context.WithoutCancel(ctx), requestID, buildLog)
	}
	if err != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("budget %s: %w", c.budget, errs.ErrCompilationTimedOut)
		}
		return nil, fmt.Errorf("%w: build failed", errs.ErrCompilationFailed)
	}
	return data, nil
}

// awaitArtifact polls the cache while another holder compiles the same
// fingerprint.
func (c *Compiler) awaitArtifact(ctx context.Context, fingerprint string) (*Result, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	deadline := time.Now().Add(c.budget)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			data, note, err := c.cache.Lookup(ctx, fingerprint)
			if err != nil {
				return nil, fmt.Errorf("cache poll: %w", err)
			}
			if data != nil {
				return &Result{Fingerprint: fingerprint, Bytecode: data, Note: note, CacheHit: true}, nil
			}
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("peer compilation did not finish: %w", errs.ErrCompilationTimedOut)
			}
		}
	}
}
