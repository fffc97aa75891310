// Package outlayer is the guest-side binding for programs that run on the
// execution plane. Build with GOOS=wasip1 GOARCH=wasm; the host links the
// imported functions when it instantiates the module.
//
// The entrypoint is the program's main function. Read the request with
// Input, write the result with Output; everything else (sealed storage,
// verifiable randomness, bounded RPC, refunds) is optional capability
// surface.
package outlayer
