// Package sandbox executes compiled WASM artifacts under deterministic
// metering: an instruction (fuel) budget, a wall-clock epoch deadline, and a
// hard linear-memory ceiling. The same artifact and input always consume the
// same fuel and produce the same output.
package sandbox

import (
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v41"
)

// Runtime owns the shared wasmtime engine. All stores created from the same
// Runtime share one epoch clock, advanced by a single background ticker.
type Runtime struct {
	engine    *wasmtime.Engine
	epochTick time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRuntime builds an engine with fuel metering, epoch interruption and NaN
// canonicalization enabled, and starts the epoch ticker.
func NewRuntime(epochTick time.Duration) *Runtime {
	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(true)
	cfg.SetEpochInterruption(true)
	cfg.SetCraneliftNanCanonicalization(true)

	r := &Runtime{
		engine:    wasmtime.NewEngineWithConfig(cfg),
		epochTick: epochTick,
		stop:      make(chan struct{}),
	}
	go r.tick()
	return r
}

func (r *Runtime) tick() {
	ticker := time.NewTicker(r.epochTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.engine.IncrementEpoch()
		case <-r.stop:
			return
		}
	}
}

func (r *Runtime) Engine() *wasmtime.Engine {
	return r.engine
}

// epochDeadline converts a wall-clock budget into epoch ticks. The division
// runs on the full duration so a tick coarser than one second still yields a
// proportional deadline. The +1 keeps an execution that finishes right at
// the boundary from being interrupted by ticker jitter.
func (r *Runtime) epochDeadline(maxSeconds uint64) uint64 {
	return uint64(time.Duration(maxSeconds)*time.Second/r.epochTick) + 1
}

// Close stops the epoch ticker. In-flight executions keep their current
// deadline but the clock no longer advances.
func (r *Runtime) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}
