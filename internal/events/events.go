// Package events emits NEP-297 structured log lines. Indexers match on the
// EVENT_JSON: prefix, so the prefix and envelope shape are load-bearing.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/near-outlayer/execution-plane/internal/models"
)

const (
	prefix   = "EVENT_JSON:"
	standard = "near-outlayer"
	version  = "1.0.0"
)

type envelope struct {
	Standard string `json:"standard"`
	Version  string `json:"version"`
	Event    string `json:"event"`
	Data     []any  `json:"data"`
}

// RequestedPayload announces an accepted execution request.
type RequestedPayload struct {
	RequestID   uint64            `json:"request_id"`
	SenderID    string            `json:"sender_id"`
	CodeSource  models.CodeSource `json:"code_source"`
	AttachedUSD uint64            `json:"attached_usd"`
	Timestamp   int64             `json:"timestamp"`
}

// CompletedPayload is the settled outcome of a request.
type CompletedPayload struct {
	RequestID       uint64               `json:"request_id"`
	SenderID        string               `json:"sender_id"`
	Success         bool                 `json:"success"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	ErrorKind       string               `json:"error_kind,omitempty"`
	ResourcesUsed   models.ResourceUsage `json:"resources_used"`
	PaymentCharged  uint64               `json:"payment_charged"`
	PaymentRefunded uint64               `json:"payment_refunded"`
	CompilationNote string               `json:"compilation_note,omitempty"`
	Timestamp       int64                `json:"timestamp"`
}

// Emitter writes one event per line. Writes are serialized so concurrent
// settlements never interleave within a line.
type Emitter struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewEmitter(out io.Writer) *Emitter {
	return &Emitter{out: out, now: time.Now}
}

func (e *Emitter) emit(event string, payload any) error {
	body, err := json.Marshal(envelope{
		Standard: standard,
		Version:  version,
		Event:    event,
		Data:     []any{payload},
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = fmt.Fprintf(e.out, "%s%s\n", prefix, body)
	return err
}

// ExecutionRequested emits the acceptance event for an enqueued request.
func (e *Emitter) ExecutionRequested(req models.ExecutionRequest) error {
	return e.emit("execution_requested", RequestedPayload{
		RequestID:   req.RequestID,
		SenderID:    req.Payer,
		CodeSource:  req.Source,
		AttachedUSD: req.AttachedUSD,
		Timestamp:   e.now().Unix(),
	})
}

// ExecutionCompleted emits the settlement event. Call it only after the
// settlement row has been inserted; the row is the exactly-once guard.
func (e *Emitter) ExecutionCompleted(s models.Settlement, source models.CodeSource, usage models.ResourceUsage) error {
	return e.emit("execution_completed", CompletedPayload{
		RequestID:       s.RequestID,
		SenderID:        s.Payer,
		Success:         s.Success,
		ErrorMessage:    s.ErrorMessage,
		ErrorKind:       s.ErrorKind,
		ResourcesUsed:   usage,
		PaymentCharged:  s.ChargedUSD,
		PaymentRefunded: s.RefundedUSD,
		CompilationNote: s.CompilationNote,
		Timestamp:       e.now().Unix(),
	})
}
