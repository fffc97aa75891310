package hostfns

import (
	"fmt"
	"strings"

	"github.com/bytecodealliance/wasmtime-go/v41"

	"github.com/near-outlayer/execution-plane/internal/errs"
)

// transactionMethods are the JSON-RPC methods that mutate chain state. They
// are blocked unless the policy explicitly allows transactions.
var transactionMethods = map[string]struct{}{
	"broadcast_tx_async":  {},
	"broadcast_tx_commit": {},
	"send_tx":             {},
}

// linkRPC wires the bounded outbound RPC capability. Exceeding the call
// budget or invoking a transaction method without permission aborts the
// execution rather than returning an error the guest could swallow.
func linkRPC(store *wasmtime.Store, linker *wasmtime.Linker, state *State) error {
	return linker.DefineFunc(store, "rpc", "call",
		func(caller *wasmtime.Caller, methodPtr, methodLen, paramsPtr, paramsLen, outPtr, outCap int32) (int32, *wasmtime.Trap) {
			method := readGuest(caller, store, methodPtr, methodLen)
			params := readGuest(caller, store, paramsPtr, paramsLen)
			if method == nil || params == nil {
				state.setErr("rpc.call: range out of bounds")
				return -1, nil
			}

			if state.rpcCallsUsed >= state.Policy.CallBudget {
				return -1, wasmtime.NewTrap(state.abort(fmt.Errorf(
					"rpc call budget of %d exhausted: %w", state.Policy.CallBudget, errs.ErrCapabilityViolation)))
			}
			name := strings.TrimSpace(string(method))
			if _, tx := transactionMethods[name]; tx && !state.Policy.AllowTransactions {
				return -1, wasmtime.NewTrap(state.abort(fmt.Errorf(
					"transaction method %q not permitted: %w", name, errs.ErrCapabilityViolation)))
			}
			state.rpcCallsUsed++

			resp, err := state.RPC.Call(state.Ctx, name, params)
			if err != nil {
				state.setErr("rpc.call %s: %v", name, err)
				return -1, nil
			}
			n := writeGuest(caller, store, outPtr, outCap, resp)
			if n < 0 {
				state.setErr("rpc.call: response buffer too small: need %d", len(resp))
			}
			return n, nil
		})
}
