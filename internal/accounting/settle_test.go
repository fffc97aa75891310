package accounting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-outlayer/execution-plane/internal/models"
)

var testPricing = PricingSchedule{
	BaseFee:                100,
	PerMillionInstructions: 50,
	PerMBSecond:            2,
	PerCompileMs:           1,
}

func testReq(attached uint64) models.ExecutionRequest {
	return models.ExecutionRequest{RequestID: 9, Payer: "alice.near", AttachedUSD: attached}
}

func TestSettleChargesUsagePlusBase(t *testing.T) {
	result := models.ExecutionResult{
		Success: true,
		Usage: models.ResourceUsage{
			Instructions:    4_000_000,
			PeakMemoryBytes: 32 << 20,
			ExecutionTimeMs: 500,
			CompileTimeMs:   40,
		},
	}

	s := Settle(testReq(1_000), result, testPricing, Policy{})

	// 100 base + 200 instructions + 2*32*500/1000 memory + 40 compile.
	assert.Equal(t, uint64(372), s.ChargedUSD)
	assert.Equal(t, uint64(628), s.RefundedUSD)
	assert.Equal(t, s.ChargedUSD+s.RefundedUSD, uint64(1_000))
}

func TestSettleClampsToAttached(t *testing.T) {
	result := models.ExecutionResult{
		Success: true,
		Usage:   models.ResourceUsage{Instructions: 1_000_000_000},
	}

	s := Settle(testReq(300), result, testPricing, Policy{})

	assert.Equal(t, uint64(300), s.ChargedUSD)
	assert.Equal(t, uint64(0), s.RefundedUSD)
}

func TestSettleGuestRefundReducesCharge(t *testing.T) {
	result := models.ExecutionResult{
		Success:   true,
		RefundUSD: 150,
		Usage:     models.ResourceUsage{Instructions: 4_000_000},
	}

	s := Settle(testReq(1_000), result, testPricing, Policy{})

	// 300 computed minus the guest's 150.
	assert.Equal(t, uint64(150), s.ChargedUSD)
	assert.Equal(t, uint64(850), s.RefundedUSD)
}

func TestSettleGuestRefundCannotGoNegative(t *testing.T) {
	result := models.ExecutionResult{
		Success:   true,
		RefundUSD: 10_000,
		Usage:     models.ResourceUsage{Instructions: 1_000_000},
	}

	s := Settle(testReq(500), result, testPricing, Policy{})

	assert.Equal(t, uint64(0), s.ChargedUSD)
	assert.Equal(t, uint64(500), s.RefundedUSD)
}

func TestSettleFailureBaseFeePolicy(t *testing.T) {
	result := models.ExecutionResult{
		Success:   false,
		Error:     "guest trapped",
		ErrorKind: "Trapped",
		Usage:     models.ResourceUsage{Instructions: 2_000_000},
	}

	lenient := Settle(testReq(1_000), result, testPricing, Policy{BaseFeeOnFailure: false})
	strict := Settle(testReq(1_000), result, testPricing, Policy{BaseFeeOnFailure: true})

	assert.Equal(t, uint64(100), lenient.ChargedUSD)
	assert.Equal(t, uint64(200), strict.ChargedUSD)
	assert.Equal(t, "Trapped", strict.ErrorKind)
}

func TestPricingCacheRefreshRateLimit(t *testing.T) {
	cache := NewPricingCache(testPricing, time.Hour)

	next := testPricing
	next.BaseFee = 999
	require.False(t, cache.Refresh(next), "refresh inside the interval must be dropped")
	assert.Equal(t, uint64(100), cache.Current().BaseFee)

	cache.refreshedAt = time.Now().Add(-2 * time.Hour)
	require.True(t, cache.Refresh(next))
	assert.Equal(t, uint64(999), cache.Current().BaseFee)
}
