package attestation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/near-outlayer/execution-plane/internal/errs"
)

// CollateralVerifier checks quote signatures against Intel collateral. The
// production implementation calls the external verification service and
// fetches collateral when the worker did not supply it; tests use a stub.
type CollateralVerifier interface {
	// Verify returns the time the quote was generated at. A non-nil error
	// means the quote did not validate.
	Verify(ctx context.Context, quote []byte, collateral []byte) (time.Time, error)
}

// Gate decides worker admission.
type Gate struct {
	verifier CollateralVerifier
	approved map[string]struct{} // keyed on RTMR3 hex
	maxAge   time.Duration
	now      func() time.Time
	log      *logrus.Entry
}

func NewGate(verifier CollateralVerifier, approvedRTMR3 []string, maxAge time.Duration) *Gate {
	approved := make(map[string]struct{}, len(approvedRTMR3))
	for _, m := range approvedRTMR3 {
		approved[m] = struct{}{}
	}
	return &Gate{
		verifier: verifier,
		approved: approved,
		maxAge:   maxAge,
		now:      time.Now,
		log:      logrus.WithField("component", "attestation-gate"),
	}
}

// Admit verifies a raw quote end to end. On success it returns the parsed
// measurements; every failure path wraps ErrAttestationRejected.
func (g *Gate) Admit(ctx context.Context, workerID string, quote, collateral []byte) (Measurements, error) {
	m, err := ParseQuote(quote)
	if err != nil {
		return Measurements{}, fmt.Errorf("%v: %w", err, errs.ErrAttestationRejected)
	}

	generatedAt, err := g.verifier.Verify(ctx, quote, collateral)
	if err != nil {
		g.log.WithFields(logrus.Fields{"worker_id": workerID, "rtmr3": m.RTMR3}).
			Warn("quote failed collateral verification")
		return Measurements{}, fmt.Errorf("collateral verification: %v: %w", err, errs.ErrAttestationRejected)
	}

	if age := g.now().Sub(generatedAt); age > g.maxAge {
		return Measurements{}, fmt.Errorf("quote is %s old, staleness threshold is %s: %w",
			age.Truncate(time.Second), g.maxAge, errs.ErrAttestationRejected)
	}

	if _, ok := g.approved[m.RTMR3]; !ok {
		g.log.WithFields(logrus.Fields{"worker_id": workerID, "rtmr3": m.RTMR3}).
			Warn("measurement not in approved set")
		return Measurements{}, fmt.Errorf("measurement %s not approved: %w", m.RTMR3, errs.ErrAttestationRejected)
	}

	return m, nil
}
