// Package hostfns links the capability surface guest code may touch:
// storage, verifiable randomness, bounded outbound RPC, payment refund, and
// the input/output channel. Host calls are the guest's only suspension
// points; everything else inside the sandbox is deterministic.
package hostfns

import (
	"bytes"
	"context"
	"fmt"

	"github.com/near-outlayer/execution-plane/internal/seal"
	"github.com/near-outlayer/execution-plane/internal/vrf"
)

// StorageBackend persists sealed values under (namespace, keyHash). The
// worker backs it with the coordinator storage API; tests use memory.
type StorageBackend interface {
	Get(ctx context.Context, namespace, keyHash string) (sealed []byte, version uint32, found bool, err error)
	Set(ctx context.Context, namespace, keyHash string, sealed []byte, version uint32) error
	Delete(ctx context.Context, namespace, keyHash string) error
}

// RPCForwarder relays a guest RPC request to the preconfigured endpoint.
type RPCForwarder interface {
	Call(ctx context.Context, method string, params []byte) ([]byte, error)
}

// RPCPolicy bounds what guest-originated RPC may do.
type RPCPolicy struct {
	CallBudget        int
	AllowTransactions bool
}

// Visibility selects the storage namespace partition.
const (
	VisibilityUser   = "user"
	VisibilityWorker = "worker"
)

// State is the per-execution host state. One State per sandbox run; it is
// never shared across isolates.
type State struct {
	Ctx       context.Context
	RequestID uint64
	Payer     string
	ProjectID string

	Input  []byte
	Output bytes.Buffer

	AttachedUSD  uint64
	RefundUSD    uint64
	refundCalled bool

	Storage StorageBackend
	Sealer  *seal.Sealer
	Signer  *vrf.Signer
	RPC     RPCForwarder
	Policy  RPCPolicy

	rpcCallsUsed int
	lastErr      string

	// abortErr is set before a host function traps the instance; the
	// executor reads it to classify the failure.
	abortErr error
}

// Namespace returns the storage partition for this execution.
func (s *State) Namespace(visibility string) string {
	return fmt.Sprintf("%s/%s/%s", s.Payer, s.ProjectID, visibility)
}

// AbortError reports the error a host function aborted with, if any.
func (s *State) AbortError() error {
	return s.abortErr
}

func (s *State) setErr(format string, args ...any) {
	s.lastErr = fmt.Sprintf(format, args...)
}

// RequestRefund applies the at-most-once refund rule.
func (s *State) RequestRefund(amount uint64) error {
	if s.refundCalled {
		return fmt.Errorf("refund_usd can only be called once per execution")
	}
	if amount > s.AttachedUSD {
		return fmt.Errorf("refund %d exceeds attached %d", amount, s.AttachedUSD)
	}
	s.refundCalled = true
	s.RefundUSD = amount
	return nil
}

// abort records err and returns a message for the trap that will halt the
// instance at this host-call boundary.
func (s *State) abort(err error) string {
	if s.abortErr == nil {
		s.abortErr = err
	}
	return err.Error()
}
