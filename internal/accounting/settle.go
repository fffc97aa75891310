package accounting

import (
	"github.com/near-outlayer/execution-plane/internal/models"
)

// Policy is the deployment-level settlement policy.
type Policy struct {
	// BaseFeeOnFailure charges the base fee even when the execution failed.
	// When false, failed executions are billed for consumed resources only.
	BaseFeeOnFailure bool
}

// Settle computes the chain-visible settlement for one finished request.
//
// The charge is clamped to the attached payment, and a guest-directed refund
// comes out of the charge, so charged + refunded always equals the attached
// amount exactly. Failed executions still settle: the compute was consumed.
func Settle(req models.ExecutionRequest, result models.ExecutionResult, pricing PricingSchedule, policy Policy) models.Settlement {
	charge := usageCharge(result.Usage, pricing)
	if result.Success || policy.BaseFeeOnFailure {
		charge += pricing.BaseFee
	}
	if charge > req.AttachedUSD {
		charge = req.AttachedUSD
	}

	// refund_usd gives part of the charge back to the payer.
	if result.RefundUSD > 0 {
		if result.RefundUSD >= charge {
			charge = 0
		} else {
			charge -= result.RefundUSD
		}
	}

	return models.Settlement{
		RequestID:       req.RequestID,
		Payer:           req.Payer,
		Success:         result.Success,
		ErrorKind:       result.ErrorKind,
		ErrorMessage:    result.Error,
		ChargedUSD:      charge,
		RefundedUSD:     req.AttachedUSD - charge,
		Instructions:    result.Usage.Instructions,
		ExecutionTimeMs: result.Usage.ExecutionTimeMs,
		CompilationNote: result.CompilationNote,
	}
}

func usageCharge(usage models.ResourceUsage, pricing PricingSchedule) uint64 {
	charge := pricing.PerMillionInstructions * usage.Instructions / 1_000_000
	mbMs := (usage.PeakMemoryBytes >> 20) * usage.ExecutionTimeMs
	charge += pricing.PerMBSecond * mbMs / 1_000
	charge += pricing.PerCompileMs * usage.CompileTimeMs
	return charge
}
