package schemas

import (
	"time"

	"github.com/near-outlayer/execution-plane/internal/accounting"
	"github.com/near-outlayer/execution-plane/internal/models"
)

// ExecuteRequest represents the request body for submitting an execution
// @Description Execution submission request
type ExecuteRequest struct {
	Repo                string `json:"repo" binding:"required"`
	Commit              string `json:"commit" binding:"required"`
	BuildTarget         string `json:"build_target" binding:"required"`
	MaxInstructions     uint64 `json:"max_instructions" binding:"required"`
	MaxMemoryMB         uint64 `json:"max_memory_mb" binding:"required"`
	MaxExecutionSeconds uint64 `json:"max_execution_seconds" binding:"required"`
	Input               []byte `json:"input"` // base64 in JSON
	EncryptedSecrets    []byte `json:"encrypted_secrets,omitempty"`
	AttachedUSD         uint64 `json:"attached_usd" binding:"required"`
	ProjectID           string `json:"project_id"`
}

// ExecuteResponse acknowledges an enqueued execution
// @Description Execution submission response
type ExecuteResponse struct {
	RequestID uint64 `json:"request_id"`
	Status    string `json:"status"`
}

// RequestStatusResponse reports the current state of a request and, once
// settled, its outcome.
type RequestStatusResponse struct {
	RequestID  uint64             `json:"request_id"`
	Status     string             `json:"status"`
	Attempts   int                `json:"attempts"`
	Source     models.CodeSource  `json:"code_source"`
	Settlement *models.Settlement `json:"settlement,omitempty"`
}

// PricingResponse is the rate card currently in effect
// @Description Pricing response
type PricingResponse struct {
	Schedule    accounting.PricingSchedule `json:"schedule"`
	RefreshedAt time.Time                  `json:"refreshed_at"`
}
