package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampSettlement(t *testing.T) {
	cases := []struct {
		name        string
		balReserved uint64
		reserved    uint64
		refund      uint64
		release     uint64
		credit      uint64
	}{
		{"full reservation intact", 100, 100, 60, 100, 60},
		{"refund equals reservation", 100, 100, 100, 100, 100},
		{"janitor reclaimed everything", 0, 100, 60, 0, 0},
		{"janitor reclaimed part", 40, 100, 60, 40, 40},
		{"nothing reserved, nothing refunded", 0, 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			release, credit := clampSettlement(tc.balReserved, tc.reserved, tc.refund)
			assert.Equal(t, tc.release, release)
			assert.Equal(t, tc.credit, credit)
		})
	}
}

// A settlement that arrives after the janitor returned the reservation must
// not credit the refund on top: available already holds the reclaimed funds,
// so the payer ends exactly where a plain reclaim leaves them.
func TestClampSettlementNeverExceedsReservation(t *testing.T) {
	available := uint64(0) // after Reserve(100)
	reclaimed := available + 100

	release, credit := clampSettlement(0, 100, 60)
	assert.Zero(t, release)
	assert.Zero(t, credit)
	assert.Equal(t, uint64(100), reclaimed+credit)
}
