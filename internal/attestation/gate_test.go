package attestation

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-outlayer/execution-plane/internal/errs"
)

type stubVerifier struct {
	generatedAt time.Time
	err         error
}

func (s stubVerifier) Verify(context.Context, []byte, []byte) (time.Time, error) {
	return s.generatedAt, s.err
}

// testQuote builds a minimal quote whose RTMR3 register holds the given
// byte repeated.
func testQuote(rtmr3Fill byte) []byte {
	q := make([]byte, minQuoteLen)
	for i := 0; i < measurementSize; i++ {
		q[mrtdOffset+i] = 0xAA
		q[rtmr3Offset+i] = rtmr3Fill
	}
	return q
}

func fillHex(b byte) string {
	reg := make([]byte, measurementSize)
	for i := range reg {
		reg[i] = b
	}
	return hex.EncodeToString(reg)
}

func TestParseQuoteExtractsRegisters(t *testing.T) {
	m, err := ParseQuote(testQuote(0x42))
	require.NoError(t, err)
	assert.Equal(t, fillHex(0xAA), m.MRTD)
	assert.Equal(t, fillHex(0x42), m.RTMR3)
	assert.Len(t, m.RTMR3, 96)
}

func TestParseQuoteTooShort(t *testing.T) {
	_, err := ParseQuote(make([]byte, minQuoteLen-1))
	require.Error(t, err)
}

func TestGateAdmitsApprovedFreshQuote(t *testing.T) {
	gate := NewGate(stubVerifier{generatedAt: time.Now()}, []string{fillHex(0x42)}, time.Hour)

	m, err := gate.Admit(context.Background(), "worker-1", testQuote(0x42), nil)
	require.NoError(t, err)
	assert.Equal(t, fillHex(0x42), m.RTMR3)
}

func TestGateRejectsStaleQuote(t *testing.T) {
	gate := NewGate(stubVerifier{generatedAt: time.Now().Add(-2 * time.Hour)},
		[]string{fillHex(0x42)}, time.Hour)

	_, err := gate.Admit(context.Background(), "worker-1", testQuote(0x42), nil)
	assert.ErrorIs(t, err, errs.ErrAttestationRejected)
}

func TestGateRejectsUnapprovedMeasurement(t *testing.T) {
	gate := NewGate(stubVerifier{generatedAt: time.Now()}, []string{fillHex(0x42)}, time.Hour)

	_, err := gate.Admit(context.Background(), "worker-1", testQuote(0x43), nil)
	assert.ErrorIs(t, err, errs.ErrAttestationRejected)
}

func TestGateRejectsFailedCollateral(t *testing.T) {
	gate := NewGate(stubVerifier{err: errors.New("signature mismatch")},
		[]string{fillHex(0x42)}, time.Hour)

	_, err := gate.Admit(context.Background(), "worker-1", testQuote(0x42), nil)
	assert.ErrorIs(t, err, errs.ErrAttestationRejected)
}

func TestCredentialRoundTripAndExpiry(t *testing.T) {
	issuer := NewCredentialIssuer([]byte("credential-signing-secret"), time.Minute)

	cred, err := issuer.Issue("worker-7", Measurements{RTMR3: fillHex(0x42)})
	require.NoError(t, err)

	claims, err := issuer.Validate(cred)
	require.NoError(t, err)
	assert.Equal(t, "worker-7", claims.WorkerID)
	assert.Equal(t, fillHex(0x42), claims.RTMR3)

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = issuer.Validate(cred)
	require.Error(t, err, "expired credential must not validate")
}

func TestCredentialTamperDetected(t *testing.T) {
	issuer := NewCredentialIssuer([]byte("credential-signing-secret"), time.Minute)
	other := NewCredentialIssuer([]byte("a-different-secret"), time.Minute)

	cred, err := other.Issue("worker-7", Measurements{RTMR3: fillHex(0x42)})
	require.NoError(t, err)

	_, err = issuer.Validate(cred)
	require.Error(t, err)
}
