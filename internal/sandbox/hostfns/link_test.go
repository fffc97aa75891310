package hostfns

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v41"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/seal"
	"github.com/near-outlayer/execution-plane/internal/vrf"
)

const testSignerSeed = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

type memStorage struct {
	rows map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{rows: make(map[string][]byte)}
}

func (m *memStorage) Get(_ context.Context, namespace, keyHash string) ([]byte, uint32, bool, error) {
	v, ok := m.rows[namespace+"\x00"+keyHash]
	return v, 0, ok, nil
}

func (m *memStorage) Set(_ context.Context, namespace, keyHash string, sealed []byte, _ uint32) error {
	m.rows[namespace+"\x00"+keyHash] = sealed
	return nil
}

func (m *memStorage) Delete(_ context.Context, namespace, keyHash string) error {
	delete(m.rows, namespace+"\x00"+keyHash)
	return nil
}

type recordingRPC struct {
	methods []string
	reply   []byte
}

func (r *recordingRPC) Call(_ context.Context, method string, _ []byte) ([]byte, error) {
	r.methods = append(r.methods, method)
	return r.reply, nil
}

func newTestState(t *testing.T) *State {
	t.Helper()
	sealer, err := seal.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	signer, err := vrf.NewSigner(testSignerSeed)
	require.NoError(t, err)
	return &State{
		Ctx:         context.Background(),
		RequestID:   42,
		Payer:       "alice.near",
		ProjectID:   "weather-oracle",
		AttachedUSD: 50,
		Storage:     newMemStorage(),
		Sealer:      sealer,
		Signer:      signer,
		RPC:         &recordingRPC{reply: []byte(`{"ok":true}`)},
		Policy:      RPCPolicy{CallBudget: 2},
	}
}

// runGuest compiles the WAT source, links the capability surface against
// state, and invokes the exported execute function.
func runGuest(t *testing.T, wat string, state *State) error {
	t.Helper()
	engine := wasmtime.NewEngine()
	store := wasmtime.NewStore(engine)
	linker := wasmtime.NewLinker(engine)
	require.NoError(t, Link(store, linker, state))

	wasm, err := wasmtime.Wat2Wasm(wat)
	require.NoError(t, err)
	module, err := wasmtime.NewModule(engine, wasm)
	require.NoError(t, err)
	instance, err := linker.Instantiate(store, module)
	require.NoError(t, err)

	_, err = instance.GetFunc(store, "execute").Call(store)
	return err
}

func TestLinkEnvEchoesInput(t *testing.T) {
	state := newTestState(t)
	state.Input = []byte("hello sandbox")

	err := runGuest(t, `
		(module
		  (import "env" "input_len" (func $input_len (result i32)))
		  (import "env" "input" (func $input (param i32 i32) (result i32)))
		  (import "env" "output" (func $output (param i32 i32) (result i32)))
		  (memory (export "memory") 1)
		  (func (export "execute")
		    (drop (call $input (i32.const 0) (call $input_len)))
		    (drop (call $output (i32.const 0) (call $input_len)))))
	`, state)

	require.NoError(t, err)
	assert.Equal(t, "hello sandbox", state.Output.String())
}

func TestLinkStorageRoundTripIsSealed(t *testing.T) {
	state := newTestState(t)
	backend := state.Storage.(*memStorage)

	err := runGuest(t, `
		(module
		  (import "storage" "set" (func $set (param i32 i32 i32 i32 i32 i32) (result i32)))
		  (import "storage" "get" (func $get (param i32 i32 i32 i32 i32) (result i32)))
		  (import "env" "output" (func $output (param i32 i32) (result i32)))
		  (memory (export "memory") 1)
		  (data (i32.const 0) "color")
		  (data (i32.const 16) "deep-red")
		  (func (export "execute")
		    (drop (call $set (i32.const 0) (i32.const 0) (i32.const 5) (i32.const 16) (i32.const 8) (i32.const 0)))
		    (drop (call $output (i32.const 64)
		      (call $get (i32.const 0) (i32.const 0) (i32.const 5) (i32.const 64) (i32.const 32))))))
	`, state)

	require.NoError(t, err)
	assert.Equal(t, "deep-red", state.Output.String())

	// The backend must never see plaintext keys or values.
	require.Len(t, backend.rows, 1)
	for rowKey, sealed := range backend.rows {
		assert.NotContains(t, rowKey, "color")
		assert.Contains(t, rowKey, state.Namespace(VisibilityUser))
		assert.Contains(t, rowKey, seal.KeyHash("color"))
		assert.NotContains(t, string(sealed), "deep-red")
	}
}

func TestLinkStorageTamperedValueAborts(t *testing.T) {
	state := newTestState(t)
	backend := state.Storage.(*memStorage)

	sealed, err := state.Sealer.Seal(state.ProjectID, state.Payer, []byte("deep-red"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01
	require.NoError(t, backend.Set(context.Background(),
		state.Namespace(VisibilityUser), seal.KeyHash("color"), sealed, 0))

	err = runGuest(t, `
		(module
		  (import "storage" "get" (func $get (param i32 i32 i32 i32 i32) (result i32)))
		  (memory (export "memory") 1)
		  (data (i32.const 0) "color")
		  (func (export "execute")
		    (drop (call $get (i32.const 0) (i32.const 0) (i32.const 5) (i32.const 64) (i32.const 32)))))
	`, state)

	require.Error(t, err)
	assert.ErrorIs(t, state.AbortError(), errs.ErrIntegrity)
}

func TestLinkStorageVisibilityPartitions(t *testing.T) {
	state := newTestState(t)
	backend := state.Storage.(*memStorage)

	// Same key written under user and worker visibility lands in two rows.
	err := runGuest(t, `
		(module
		  (import "storage" "set" (func $set (param i32 i32 i32 i32 i32 i32) (result i32)))
		  (memory (export "memory") 1)
		  (data (i32.const 0) "counter")
		  (data (i32.const 16) "1")
		  (func (export "execute")
		    (drop (call $set (i32.const 0) (i32.const 0) (i32.const 7) (i32.const 16) (i32.const 1) (i32.const 0)))
		    (drop (call $set (i32.const 1) (i32.const 0) (i32.const 7) (i32.const 16) (i32.const 1) (i32.const 0)))))
	`, state)

	require.NoError(t, err)
	require.Len(t, backend.rows, 2)
	userNS := state.Namespace(VisibilityUser) + "\x00" + seal.KeyHash("counter")
	workerNS := state.Namespace(VisibilityWorker) + "\x00" + seal.KeyHash("counter")
	assert.Contains(t, backend.rows, userNS)
	assert.Contains(t, backend.rows, workerNS)
}

func TestLinkVRFMatchesSigner(t *testing.T) {
	state := newTestState(t)

	err := runGuest(t, `
		(module
		  (import "vrf" "generate" (func $gen (param i32 i32 i32 i32) (result i32)))
		  (import "env" "output" (func $output (param i32 i32) (result i32)))
		  (memory (export "memory") 1)
		  (data (i32.const 0) "seed-1")
		  (func (export "execute")
		    (drop (call $output (i32.const 64)
		      (call $gen (i32.const 0) (i32.const 6) (i32.const 64) (i32.const 1024))))))
	`, state)
	require.NoError(t, err)

	var got vrf.Result
	require.NoError(t, json.Unmarshal(state.Output.Bytes(), &got))
	assert.Equal(t, state.Signer.Generate(42, "seed-1"), got)
	assert.True(t, strings.HasPrefix(got.Alpha, "vrf:42:"))
}

func TestLinkRPCBudgetExhaustionTraps(t *testing.T) {
	state := newTestState(t)
	state.Policy = RPCPolicy{CallBudget: 1}

	err := runGuest(t, `
		(module
		  (import "rpc" "call" (func $call (param i32 i32 i32 i32 i32 i32) (result i32)))
		  (memory (export "memory") 1)
		  (data (i32.const 0) "status")
		  (func (export "execute")
		    (drop (call $call (i32.const 0) (i32.const 6) (i32.const 0) (i32.const 0) (i32.const 64) (i32.const 64)))
		    (drop (call $call (i32.const 0) (i32.const 6) (i32.const 0) (i32.const 0) (i32.const 64) (i32.const 64)))))
	`, state)

	require.Error(t, err)
	assert.ErrorIs(t, state.AbortError(), errs.ErrCapabilityViolation)
	assert.Equal(t, []string{"status"}, state.RPC.(*recordingRPC).methods)
}

func TestLinkRPCBlocksTransactionMethods(t *testing.T) {
	state := newTestState(t)

	err := runGuest(t, `
		(module
		  (import "rpc" "call" (func $call (param i32 i32 i32 i32 i32 i32) (result i32)))
		  (memory (export "memory") 1)
		  (data (i32.const 0) "send_tx")
		  (func (export "execute")
		    (drop (call $call (i32.const 0) (i32.const 7) (i32.const 0) (i32.const 0) (i32.const 64) (i32.const 64)))))
	`, state)

	require.Error(t, err)
	assert.ErrorIs(t, state.AbortError(), errs.ErrCapabilityViolation)
	assert.Empty(t, state.RPC.(*recordingRPC).methods)
}

func TestLinkPaymentRefundOnce(t *testing.T) {
	state := newTestState(t)

	err := runGuest(t, `
		(module
		  (import "payment" "refund_usd" (func $refund (param i64) (result i32)))
		  (memory (export "memory") 1)
		  (func (export "execute")
		    (drop (call $refund (i64.const 30)))
		    (drop (call $refund (i64.const 10)))))
	`, state)

	require.NoError(t, err)
	assert.Equal(t, uint64(30), state.RefundUSD)
	assert.Contains(t, state.lastErr, "once")
}

func TestRequestRefundRejectsExcess(t *testing.T) {
	state := newTestState(t)
	require.Error(t, state.RequestRefund(state.AttachedUSD+1))
	require.NoError(t, state.RequestRefund(state.AttachedUSD))
	assert.Equal(t, state.AttachedUSD, state.RefundUSD)
}
