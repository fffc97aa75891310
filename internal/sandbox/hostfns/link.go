package hostfns

import (
	"github.com/bytecodealliance/wasmtime-go/v41"
)

// Link attaches the full capability surface to the linker for a single
// execution. The ABI is stable: env.input/output, storage.get/set/delete,
// vrf.generate/pubkey, rpc.call, payment.refund_usd.
func Link(store *wasmtime.Store, linker *wasmtime.Linker, state *State) error {
	if err := linkEnv(store, linker, state); err != nil {
		return err
	}
	if err := linkStorage(store, linker, state); err != nil {
		return err
	}
	if err := linkVRF(store, linker, state); err != nil {
		return err
	}
	if err := linkRPC(store, linker, state); err != nil {
		return err
	}
	return linkPayment(store, linker, state)
}

// guestMemory returns the guest's exported linear memory, or nil when the
// module exports none.
func guestMemory(caller *wasmtime.Caller) *wasmtime.Memory {
	ext := caller.GetExport("memory")
	if ext == nil {
		return nil
	}
	return ext.Memory()
}

// readGuest copies [ptr, ptr+length) out of guest memory. Returns nil when
// the range is out of bounds.
func readGuest(caller *wasmtime.Caller, store *wasmtime.Store, ptr, length int32) []byte {
	mem := guestMemory(caller)
	if mem == nil || ptr < 0 || length < 0 {
		return nil
	}
	data := mem.UnsafeData(store)
	if int64(ptr)+int64(length) > int64(len(data)) {
		return nil
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out
}

// writeGuest copies payload into guest memory at ptr when it fits in cap.
// Returns the number of bytes written, or -1 when the buffer is too small or
// the range is out of bounds.
func writeGuest(caller *wasmtime.Caller, store *wasmtime.Store, ptr, capacity int32, payload []byte) int32 {
	mem := guestMemory(caller)
	if mem == nil || ptr < 0 || capacity < 0 || len(payload) > int(capacity) {
		return -1
	}
	data := mem.UnsafeData(store)
	if int64(ptr)+int64(len(payload)) > int64(len(data)) {
		return -1
	}
	copy(data[ptr:ptr+int32(len(payload))], payload)
	return int32(len(payload))
}

// linkEnv wires the input/output channel and the last-error accessor.
func linkEnv(store *wasmtime.Store, linker *wasmtime.Linker, state *State) error {
	if err := linker.DefineFunc(store, "env", "input_len", func() int32 {
		return int32(len(state.Input))
	}); err != nil {
		return err
	}

	if err := linker.DefineFunc(store, "env", "input", func(caller *wasmtime.Caller, ptr, capacity int32) int32 {
		n := writeGuest(caller, store, ptr, capacity, state.Input)
		if n < 0 {
			state.setErr("input buffer too small: need %d", len(state.Input))
		}
		return n
	}); err != nil {
		return err
	}

	if err := linker.DefineFunc(store, "env", "output", func(caller *wasmtime.Caller, ptr, length int32) int32 {
		data := readGuest(caller, store, ptr, length)
		if data == nil {
			state.setErr("output range out of bounds")
			return -1
		}
		state.Output.Write(data)
		return 0
	}); err != nil {
		return err
	}

	return linker.DefineFunc(store, "env", "error", func(caller *wasmtime.Caller, ptr, capacity int32) int32 {
		return writeGuest(caller, store, ptr, capacity, []byte(state.lastErr))
	})
}
