package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v41"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/models"
	"github.com/near-outlayer/execution-plane/internal/sandbox/hostfns"
	"github.com/near-outlayer/execution-plane/internal/seal"
	"github.com/near-outlayer/execution-plane/internal/vrf"
)

const echoGuest = `
	(module
	  (import "env" "input_len" (func $input_len (result i32)))
	  (import "env" "input" (func $input (param i32 i32) (result i32)))
	  (import "env" "output" (func $output (param i32 i32) (result i32)))
	  (memory (export "memory") 1)
	  (func (export "execute")
	    (drop (call $input (i32.const 0) (call $input_len)))
	    (drop (call $output (i32.const 0) (call $input_len)))))
`

const spinGuest = `
	(module
	  (memory (export "memory") 1)
	  (func (export "execute")
	    (loop $l (br $l))))
`

type nullStorage struct{}

func (nullStorage) Get(context.Context, string, string) ([]byte, uint32, bool, error) {
	return nil, 0, false, nil
}
func (nullStorage) Set(context.Context, string, string, []byte, uint32) error { return nil }
func (nullStorage) Delete(context.Context, string, string) error              { return nil }

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	runtime := NewRuntime(10 * time.Millisecond)
	t.Cleanup(runtime.Close)

	sealer, err := seal.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	signer, err := vrf.NewSigner("9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60")
	require.NoError(t, err)

	return NewExecutor(runtime, sealer, signer, nullStorage{}, nil,
		hostfns.RPCPolicy{CallBudget: 5}, 1<<20)
}

func compileWat(t *testing.T, wat string) []byte {
	t.Helper()
	wasm, err := wasmtime.Wat2Wasm(wat)
	require.NoError(t, err)
	return wasm
}

func testRequest(input []byte) models.ExecutionRequest {
	return models.ExecutionRequest{
		RequestID: 7,
		Payer:     "alice.near",
		ProjectID: "weather-oracle",
		Input:     input,
		Limits: models.ResourceLimits{
			MaxInstructions:     1_000_000,
			MaxMemoryMB:         16,
			MaxExecutionSeconds: 5,
		},
	}
}

func TestExecuteEchoMetersUsage(t *testing.T) {
	e := newTestExecutor(t)
	wasm := compileWat(t, echoGuest)

	exec, err := e.Execute(context.Background(), wasm, testRequest([]byte("ping")))
	require.NoError(t, err)

	assert.Equal(t, []byte("ping"), exec.Output)
	assert.Greater(t, exec.Usage.Instructions, uint64(0))
	assert.Less(t, exec.Usage.Instructions, uint64(1_000_000))
	assert.Equal(t, uint64(65536), exec.Usage.PeakMemoryBytes)
}

func TestExecuteIsDeterministic(t *testing.T) {
	e := newTestExecutor(t)
	wasm := compileWat(t, echoGuest)
	req := testRequest([]byte("same input"))

	first, err := e.Execute(context.Background(), wasm, req)
	require.NoError(t, err)
	second, err := e.Execute(context.Background(), wasm, req)
	require.NoError(t, err)

	assert.Equal(t, first.Output, second.Output)
	assert.Equal(t, first.Usage.Instructions, second.Usage.Instructions)
}

func TestExecuteInstructionBudgetExhausted(t *testing.T) {
	e := newTestExecutor(t)
	wasm := compileWat(t, spinGuest)

	req := testRequest(nil)
	req.Limits.MaxInstructions = 10_000

	exec, err := e.Execute(context.Background(), wasm, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInstructionBudgetExhausted)
	// A budget overrun is billed for the full budget.
	assert.Equal(t, uint64(10_000), exec.Usage.Instructions)
}

func TestExecuteWallClockExceeded(t *testing.T) {
	e := newTestExecutor(t)
	wasm := compileWat(t, spinGuest)

	req := testRequest(nil)
	req.Limits.MaxInstructions = 1 << 40
	req.Limits.MaxExecutionSeconds = 0 // one epoch tick

	exec, err := e.Execute(context.Background(), wasm, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrWallClockExceeded)
	assert.Greater(t, exec.Usage.Instructions, uint64(0))
}

func TestExecuteTrapClassification(t *testing.T) {
	e := newTestExecutor(t)

	t.Run("unreachable", func(t *testing.T) {
		wasm := compileWat(t, `
			(module
			  (memory (export "memory") 1)
			  (func (export "execute") unreachable))
		`)
		_, err := e.Execute(context.Background(), wasm, testRequest(nil))
		assert.ErrorIs(t, err, errs.ErrTrapped)
	})

	t.Run("out of bounds read", func(t *testing.T) {
		wasm := compileWat(t, `
			(module
			  (memory (export "memory") 1)
			  (func (export "execute")
			    (drop (i32.load (i32.const 70000)))))
		`)
		_, err := e.Execute(context.Background(), wasm, testRequest(nil))
		assert.ErrorIs(t, err, errs.ErrMemoryExhausted)
	})
}

func TestExecuteRefundSurfaces(t *testing.T) {
	e := newTestExecutor(t)
	wasm := compileWat(t, `
		(module
		  (import "payment" "refund_usd" (func $refund (param i64) (result i32)))
		  (memory (export "memory") 1)
		  (func (export "execute")
		    (drop (call $refund (i64.const 12)))))
	`)

	req := testRequest(nil)
	req.AttachedUSD = 40

	exec, err := e.Execute(context.Background(), wasm, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), exec.RefundUSD)
}

func TestExecuteRejectsOversizedInput(t *testing.T) {
	e := newTestExecutor(t)
	e.maxInputBytes = 8
	wasm := compileWat(t, echoGuest)

	_, err := e.Execute(context.Background(), wasm, testRequest([]byte("way past the limit")))
	assert.ErrorIs(t, err, errs.ErrCapabilityViolation)
}

func TestExecuteMissingEntrypoint(t *testing.T) {
	e := newTestExecutor(t)
	wasm := compileWat(t, `(module (memory (export "memory") 1))`)

	_, err := e.Execute(context.Background(), wasm, testRequest(nil))
	assert.ErrorIs(t, err, errs.ErrTrapped)
}
