package hostfns

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v41"

	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/seal"
)

// storageNamespace maps the guest's visibility flag onto a partition:
// 0 is user-visible state, anything else is worker-private.
func storageNamespace(state *State, visibility int32) string {
	if visibility == 0 {
		return state.Namespace(VisibilityUser)
	}
	return state.Namespace(VisibilityWorker)
}

// linkStorage wires the sealed key/value capability. Values are encrypted
// with a key derived from (master, project, account); the row key is a hash
// of the plaintext key. An integrity failure aborts the execution without
// mutating anything.
func linkStorage(store *wasmtime.Store, linker *wasmtime.Linker, state *State) error {
	if err := linker.DefineFunc(store, "storage", "get",
		func(caller *wasmtime.Caller, visibility, keyPtr, keyLen, valPtr, valCap int32) (int32, *wasmtime.Trap) {
			key := readGuest(caller, store, keyPtr, keyLen)
			if key == nil {
				state.setErr("storage.get: key range out of bounds")
				return -1, nil
			}
			ns := storageNamespace(state, visibility)
			sealed, _, found, err := state.Storage.Get(state.Ctx, ns, seal.KeyHash(string(key)))
			if err != nil {
				return -1, wasmtime.NewTrap(state.abort(fmt.Errorf("storage.get: %w", errs.ErrHostAbort)))
			}
			if !found {
				return -1, nil // absent
			}
			plain, err := state.Sealer.Open(state.ProjectID, state.Payer, sealed)
			if err != nil {
				return -1, wasmtime.NewTrap(state.abort(fmt.Errorf("storage.get %q: %w", string(key), errs.ErrIntegrity)))
			}
			n := writeGuest(caller, store, valPtr, valCap, plain)
			if n < 0 {
				state.setErr("storage.get: value buffer too small: need %d", len(plain))
			}
			return n, nil
		}); err != nil {
		return err
	}

	if err := linker.DefineFunc(store, "storage", "set",
		func(caller *wasmtime.Caller, visibility, keyPtr, keyLen, valPtr, valLen, version int32) (int32, *wasmtime.Trap) {
			key := readGuest(caller, store, keyPtr, keyLen)
			val := readGuest(caller, store, valPtr, valLen)
			if key == nil || val == nil {
				state.setErr("storage.set: range out of bounds")
				return -1, nil
			}
			sealed, err := state.Sealer.Seal(state.ProjectID, state.Payer, val)
			if err != nil {
				return -1, wasmtime.NewTrap(state.abort(fmt.Errorf("storage.set: %w", errs.ErrHostAbort)))
			}
			ns := storageNamespace(state, visibility)
			if err := state.Storage.Set(state.Ctx, ns, seal.KeyHash(string(key)), sealed, uint32(version)); err != nil {
				return -1, wasmtime.NewTrap(state.abort(fmt.Errorf("storage.set: %w", errs.ErrHostAbort)))
			}
			return 0, nil
		}); err != nil {
		return err
	}

	return linker.DefineFunc(store, "storage", "delete",
		func(caller *wasmtime.Caller, visibility, keyPtr, keyLen int32) (int32, *wasmtime.Trap) {
			key := readGuest(caller, store, keyPtr, keyLen)
			if key == nil {
				state.setErr("storage.delete: key range out of bounds")
				return -1, nil
			}
			if err := state.Storage.Delete(state.Ctx, storageNamespace(state, visibility), seal.KeyHash(string(key))); err != nil {
				return -1, wasmtime.NewTrap(state.abort(fmt.Errorf("storage.delete: %w", errs.ErrHostAbort)))
			}
			return 0, nil
		})
}
