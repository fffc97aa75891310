package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v41"
	"github.com/sirupsen/logrus"

	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/models"
	"github.com/near-outlayer/execution-plane/internal/sandbox/hostfns"
	"github.com/near-outlayer/execution-plane/internal/seal"
	"github.com/near-outlayer/execution-plane/internal/vrf"
)

// Executor runs compiled artifacts against the capability surface. It is
// safe for concurrent use; every Execute call gets its own store, linker and
// host state.
type Executor struct {
	runtime *Runtime
	sealer  *seal.Sealer
	signer  *vrf.Signer
	storage hostfns.StorageBackend
	rpc     hostfns.RPCForwarder
	policy  hostfns.RPCPolicy

	maxInputBytes int
	log           *logrus.Entry
}

func NewExecutor(runtime *Runtime, sealer *seal.Sealer, signer *vrf.Signer,
	storage hostfns.StorageBackend, rpc hostfns.RPCForwarder, policy hostfns.RPCPolicy,
	maxInputBytes int) *Executor {
	return &Executor{
		runtime:       runtime,
		sealer:        sealer,
		signer:        signer,
		storage:       storage,
		rpc:           rpc,
		policy:        policy,
		maxInputBytes: maxInputBytes,
		log:           logrus.WithField("component", "sandbox"),
	}
}

// Execution is the outcome of one sandbox run. Usage is populated even when
// the run failed, so failed executions can still be settled.
type Execution struct {
	Output    []byte
	Usage     models.ResourceUsage
	RefundUSD uint64
	GuestErr  string
}

// Execute instantiates bytecode and invokes its entrypoint under the
// request's resource limits. The returned error, when non-nil, wraps one of
// the errs sentinels; the Execution alongside it carries measured usage.
func (e *Executor) Execute(ctx context.Context, bytecode []byte, req models.ExecutionRequest) (*Execution, error) {
	if e.maxInputBytes > 0 && len(req.Input) > e.maxInputBytes {
		return nil, fmt.Errorf("input of %d bytes exceeds limit of %d: %w",
			len(req.Input), e.maxInputBytes, errs.ErrCapabilityViolation)
	}

	module, err := wasmtime.NewModule(e.runtime.engine, bytecode)
	if err != nil {
		// A cached artifact that no longer instantiates is corrupt.
		return nil, fmt.Errorf("artifact does not instantiate: %v: %w", err, errs.ErrIntegrity)
	}

	store := wasmtime.NewStore(e.runtime.engine)
	defer store.Close()

	if err := store.SetFuel(req.Limits.MaxInstructions); err != nil {
		return nil, fmt.Errorf("set fuel: %w", err)
	}
	store.SetEpochDeadline(e.runtime.epochDeadline(req.Limits.MaxExecutionSeconds))
	store.Limiter(int64(req.Limits.MaxMemoryMB)<<20, 10_000, 1, 1, 1)

	state := &hostfns.State{
		Ctx:         ctx,
		RequestID:   req.RequestID,
		Payer:       req.Payer,
		ProjectID:   req.ProjectID,
		Input:       req.Input,
		AttachedUSD: req.AttachedUSD,
		Storage:     e.storage,
		Sealer:      e.sealer,
		Signer:      e.signer,
		RPC:         e.rpc,
		Policy:      e.policy,
	}

	linker := wasmtime.NewLinker(e.runtime.engine)
	if err := hostfns.Link(store, linker, state); err != nil {
		return nil, fmt.Errorf("link host functions: %w", err)
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, fmt.Errorf("instantiation failed: %v: %w", err, errs.ErrTrapped)
	}

	entry := instance.GetFunc(store, "execute")
	if entry == nil {
		entry = instance.GetFunc(store, "_start")
	}
	if entry == nil {
		return nil, fmt.Errorf("module exports neither execute nor _start: %w", errs.ErrTrapped)
	}

	started := time.Now()
	_, callErr := entry.Call(store)
	elapsed := time.Since(started)

	exec := &Execution{
		Output:    state.Output.Bytes(),
		RefundUSD: state.RefundUSD,
		Usage: models.ResourceUsage{
			Instructions:    e.fuelConsumed(store, req.Limits.MaxInstructions),
			PeakMemoryBytes: peakMemory(instance, store),
			ExecutionTimeMs: uint64(elapsed.Milliseconds()),
		},
	}

	if callErr == nil {
		e.log.WithFields(logrus.Fields{
			"request_id":   req.RequestID,
			"instructions": exec.Usage.Instructions,
			"elapsed_ms":   exec.Usage.ExecutionTimeMs,
		}).Debug("execution completed")
		return exec, nil
	}

	kind := e.classify(callErr, state, &exec.Usage, req.Limits)
	exec.GuestErr = callErr.Error()
	return exec, kind
}

// fuelConsumed reports instructions used as budget minus remaining fuel.
func (e *Executor) fuelConsumed(store *wasmtime.Store, budget uint64) uint64 {
	remaining, err := store.GetFuel()
	if err != nil || remaining > budget {
		return budget
	}
	return budget - remaining
}

// peakMemory reads the final size of the guest's exported linear memory.
// Wasm memory never shrinks, so the final size is the peak.
func peakMemory(instance *wasmtime.Instance, store *wasmtime.Store) uint64 {
	ext := instance.GetExport(store, "memory")
	if ext == nil {
		return 0
	}
	mem := ext.Memory()
	if mem == nil {
		return 0
	}
	return mem.Size(store) * 65536
}

// classify maps a wasmtime call error onto the domain error taxonomy. Host
// aborts take priority: the trap that unwound the stack originated in a host
// function, and its recorded cause is the real failure.
func (e *Executor) classify(callErr error, state *hostfns.State, usage *models.ResourceUsage, limits models.ResourceLimits) error {
	if abort := state.AbortError(); abort != nil {
		return abort
	}

	var trap *wasmtime.Trap
	if t, ok := callErr.(*wasmtime.Trap); ok {
		trap = t
	}
	if trap == nil {
		return fmt.Errorf("%v: %w", callErr, errs.ErrTrapped)
	}

	if code := trap.Code(); code != nil {
		switch *code {
		case wasmtime.OutOfFuel:
			// The budget was fully consumed; the remaining-fuel read after
			// an out-of-fuel trap is not meaningful.
			usage.Instructions = limits.MaxInstructions
			return errs.ErrInstructionBudgetExhausted
		case wasmtime.Interrupt:
			return errs.ErrWallClockExceeded
		case wasmtime.MemoryOutOfBounds:
			return fmt.Errorf("%s: %w", trap.Message(), errs.ErrMemoryExhausted)
		}
	}
	return fmt.Errorf("%s: %w", trap.Message(), errs.ErrTrapped)
}
