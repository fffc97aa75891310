//go:build wasip1

package outlayer

import (
	"encoding/json"
	"errors"
	"unsafe"
)

//go:wasmimport env input_len
func inputLen() int32

//go:wasmimport env input
func input(ptr, capacity int32) int32

//go:wasmimport env output
func output(ptr, length int32) int32

//go:wasmimport env error
func lastError(ptr, capacity int32) int32

//go:wasmimport storage get
func storageGet(visibility, keyPtr, keyLen, valPtr, valCap int32) int32

//go:wasmimport storage set
func storageSet(visibility, keyPtr, keyLen, valPtr, valLen, version int32) int32

//go:wasmimport storage delete
func storageDelete(visibility, keyPtr, keyLen int32) int32

//go:wasmimport vrf generate
func vrfGenerate(seedPtr, seedLen, outPtr, outCap int32) int32

//go:wasmimport vrf pubkey
func vrfPubkey(outPtr, outCap int32) int32

//go:wasmimport rpc call
func rpcCall(methodPtr, methodLen, paramsPtr, paramsLen, outPtr, outCap int32) int32

//go:wasmimport payment refund_usd
func refundUSD(amount int64) int32

func ptr(b []byte) (int32, int32) {
	if len(b) == 0 {
		return 0, 0
	}
	return int32(uintptr(unsafe.Pointer(&b[0]))), int32(len(b))
}

// Input returns the request payload attached to this execution.
func Input() []byte {
	n := inputLen()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	p, c := ptr(buf)
	if input(p, c) < 0 {
		return nil
	}
	return buf
}

// Output appends data to the execution result. May be called repeatedly.
func Output(data []byte) {
	p, n := ptr(data)
	output(p, n)
}

// LastError returns the host's description of the most recent failed call.
func LastError() string {
	buf := make([]byte, 1024)
	p, c := ptr(buf)
	n := lastError(p, c)
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

const maxValueSize = 1 << 20

// Visibility selects which sealed storage partition a call touches. User
// state is addressable across the project's executions; worker state is
// private to the worker side.
type Visibility int32

const (
	VisibilityUser   Visibility = 0
	VisibilityWorker Visibility = 1
)

// StorageGet reads a sealed value. The second return is false when the key
// is absent.
func StorageGet(vis Visibility, key string) ([]byte, bool) {
	kp, kl := ptr([]byte(key))
	buf := make([]byte, maxValueSize)
	vp, vc := ptr(buf)
	n := storageGet(int32(vis), kp, kl, vp, vc)
	if n < 0 {
		return nil, false
	}
	return buf[:n], true
}

// StorageSet writes a sealed value.
func StorageSet(vis Visibility, key string, value []byte) error {
	kp, kl := ptr([]byte(key))
	vp, vl := ptr(value)
	if storageSet(int32(vis), kp, kl, vp, vl, 0) < 0 {
		return errors.New(LastError())
	}
	return nil
}

// StorageDelete removes a key.
func StorageDelete(vis Visibility, key string) error {
	kp, kl := ptr([]byte(key))
	if storageDelete(int32(vis), kp, kl) < 0 {
		return errors.New(LastError())
	}
	return nil
}

// VRFResult is verifiable randomness: Output is the random value, Signature
// proves it against the worker's public key.
type VRFResult struct {
	Output    string `json:"output"`
	Signature string `json:"signature"`
	Alpha     string `json:"alpha"`
}

// VRF derives deterministic verifiable randomness for this request and seed.
func VRF(seed string) (VRFResult, error) {
	sp, sl := ptr([]byte(seed))
	buf := make([]byte, 4096)
	op, oc := ptr(buf)
	n := vrfGenerate(sp, sl, op, oc)
	if n < 0 {
		return VRFResult{}, errors.New(LastError())
	}
	var res VRFResult
	if err := json.Unmarshal(buf[:n], &res); err != nil {
		return VRFResult{}, err
	}
	return res, nil
}

// VRFPublicKey returns the hex public key VRF results verify against.
func VRFPublicKey() string {
	buf := make([]byte, 128)
	p, c := ptr(buf)
	n := vrfPubkey(p, c)
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

// RPC forwards a read call to the chain RPC endpoint. Calls count against
// the per-execution budget; exceeding it aborts the execution.
func RPC(method string, params []byte) ([]byte, error) {
	mp, ml := ptr([]byte(method))
	pp, pl := ptr(params)
	buf := make([]byte, maxValueSize)
	op, oc := ptr(buf)
	n := rpcCall(mp, ml, pp, pl, op, oc)
	if n < 0 {
		return nil, errors.New(LastError())
	}
	return buf[:n], nil
}

// RefundUSD returns part of the attached payment to the payer. At most one
// refund per execution, never more than was attached.
func RefundUSD(amount uint64) error {
	if refundUSD(int64(amount)) < 0 {
		return errors.New(LastError())
	}
	return nil
}
