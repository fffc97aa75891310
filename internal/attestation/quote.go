// Package attestation admits TEE workers. A worker presents a raw TDX quote;
// the gate verifies it against collateral, checks the measurement against
// the governance-approved set, and issues a short-lived claim credential.
package attestation

import (
	"encoding/hex"
	"fmt"
)

// TDX quote v4 layout: 48-byte header followed by the TD report. Each
// measurement register is 48 bytes. Offsets are absolute within the quote.
const (
	measurementSize = 48

	mrtdOffset  = 184
	rtmr0Offset = 232
	rtmr1Offset = 280
	rtmr2Offset = 328
	rtmr3Offset = 376

	minQuoteLen = rtmr3Offset + measurementSize
)

// Measurements are the hex-encoded measurement registers of a TD report.
// RTMR3 carries the application layer and is the register the approved set
// is keyed on.
type Measurements struct {
	MRTD  string `json:"mrtd"`
	RTMR0 string `json:"rtmr0"`
	RTMR1 string `json:"rtmr1"`
	RTMR2 string `json:"rtmr2"`
	RTMR3 string `json:"rtmr3"`
}

// ParseQuote extracts the measurement registers from a raw TDX quote. It
// validates length only; cryptographic verification is the collateral
// verifier's job.
func ParseQuote(quote []byte) (Measurements, error) {
	if len(quote) < minQuoteLen {
		return Measurements{}, fmt.Errorf("quote too short: %d bytes, need at least %d", len(quote), minQuoteLen)
	}
	reg := func(offset int) string {
		return hex.EncodeToString(quote[offset : offset+measurementSize])
	}
	return Measurements{
		MRTD:  reg(mrtdOffset),
		RTMR0: reg(rtmr0Offset),
		RTMR1: reg(rtmr1Offset),
		RTMR2: reg(rtmr2Offset),
		RTMR3: reg(rtmr3Offset),
	}, nil
}
