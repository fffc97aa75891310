package hostfns

import (
	"github.com/bytecodealliance/wasmtime-go/v41"
)

// linkPayment wires the refund capability. A guest may return part of the
// attached payment to the payer exactly once per execution.
func linkPayment(store *wasmtime.Store, linker *wasmtime.Linker, state *State) error {
	return linker.DefineFunc(store, "payment", "refund_usd",
		func(caller *wasmtime.Caller, amount int64) int32 {
			if amount < 0 {
				state.setErr("refund_usd: negative amount")
				return -1
			}
			if err := state.RequestRefund(uint64(amount)); err != nil {
				state.setErr("refund_usd: %v", err)
				return -1
			}
			return 0
		})
}
