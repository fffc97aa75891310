package hostfns

import (
	"encoding/json"

	"github.com/bytecodealliance/wasmtime-go/v41"
)

// linkVRF wires verifiable randomness. The output is a pure function of the
// request id and the caller-supplied seed, so replayed executions observe
// the same randomness.
func linkVRF(store *wasmtime.Store, linker *wasmtime.Linker, state *State) error {
	if err := linker.DefineFunc(store, "vrf", "generate",
		func(caller *wasmtime.Caller, seedPtr, seedLen, outPtr, outCap int32) int32 {
			seed := readGuest(caller, store, seedPtr, seedLen)
			if seed == nil {
				state.setErr("vrf.generate: seed range out of bounds")
				return -1
			}
			res := state.Signer.Generate(state.RequestID, string(seed))
			payload, err := json.Marshal(res)
			if err != nil {
				state.setErr("vrf.generate: %v", err)
				return -1
			}
			n := writeGuest(caller, store, outPtr, outCap, payload)
			if n < 0 {
				state.setErr("vrf.generate: output buffer too small: need %d", len(payload))
			}
			return n
		}); err != nil {
		return err
	}

	return linker.DefineFunc(store, "vrf", "pubkey",
		func(caller *wasmtime.Caller, outPtr, outCap int32) int32 {
			key := []byte(state.Signer.PublicKeyHex())
			n := writeGuest(caller, store, outPtr, outCap, key)
			if n < 0 {
				state.setErr("vrf.pubkey: output buffer too small: need %d", len(key))
			}
			return n
		})
}
