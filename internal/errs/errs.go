// Package errs defines the domain error kinds shared across the execution
// plane. Transient infrastructure errors are wrapped with ErrTransientInfra
// and retried locally; everything else surfaces into the settlement record.
package errs

import (
	"errors"
)

var (
	// Compiler
	ErrSourceFetchFailed   = errors.New("source fetch failed")
	ErrSourceNotFound      = errors.New("source commit not found")
	ErrCompilationFailed   = errors.New("compilation failed")
	ErrCompilationTimedOut = errors.New("compilation timed out")

	// Sandbox
	ErrInstructionBudgetExhausted = errors.New("instruction budget exhausted")
	ErrWallClockExceeded          = errors.New("wall clock limit exceeded")
	ErrMemoryExhausted            = errors.New("memory limit exceeded")
	ErrTrapped                    = errors.New("guest trapped")
	ErrHostAbort                  = errors.New("host aborted execution")

	// Host interface
	ErrCapabilityViolation = errors.New("capability violation")
	ErrIntegrity           = errors.New("storage integrity check failed")

	// Coordinator
	ErrIdempotencyConflict = errors.New("request with this idempotency key is in flight")
	ErrAttestationRejected = errors.New("attestation rejected")
	ErrPaymentShortfall    = errors.New("attached payment below required reserve")

	// Infrastructure
	ErrTransientInfra = errors.New("transient infrastructure error")
)

// Kind returns the stable classification string for err, used in settlement
// records and completed events. Unrecognized errors classify as "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceFetchFailed):
		return "SourceFetchFailed"
	case errors.Is(err, ErrSourceNotFound):
		return "SourceNotFound"
	case errors.Is(err, ErrCompilationFailed):
		return "CompilationFailed"
	case errors.Is(err, ErrCompilationTimedOut):
		return "CompilationTimedOut"
	case errors.Is(err, ErrInstructionBudgetExhausted):
		return "InstructionBudgetExhausted"
	case errors.Is(err, ErrWallClockExceeded):
		return "WallClockExceeded"
	case errors.Is(err, ErrMemoryExhausted):
		return "MemoryExhausted"
	case errors.Is(err, ErrTrapped):
		return "Trapped"
	case errors.Is(err, ErrHostAbort):
		return "HostAbort"
	case errors.Is(err, ErrCapabilityViolation):
		return "CapabilityViolation"
	case errors.Is(err, ErrIntegrity):
		return "IntegrityError"
	case errors.Is(err, ErrIdempotencyConflict):
		return "IdempotencyConflict"
	case errors.Is(err, ErrAttestationRejected):
		return "AttestationRejected"
	case errors.Is(err, ErrPaymentShortfall):
		return "PaymentShortfall"
	case errors.Is(err, ErrTransientInfra):
		return "TransientInfra"
	default:
		return "internal"
	}
}

// Transient reports whether err should be retried with backoff rather than
// surfaced to the settlement record.
func Transient(err error) bool {
	return errors.Is(err, ErrTransientInfra)
}
