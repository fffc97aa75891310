package schemas

import (
	"github.com/near-outlayer/execution-plane/internal/models"
)

// ClaimRequest asks for up to Max pending jobs
// @Description Job claim request
type ClaimRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
	Max      int    `json:"max" binding:"required,min=1,max=32"`
}

// ClaimResponse carries the claimed work
// @Description Job claim response
type ClaimResponse struct {
	Jobs []models.ExecutionRequest `json:"jobs"`
}

// CompleteRequest reports a finished execution, successful or not. The
// result fields sit flat beside worker_id on the wire.
// @Description Job completion report
type CompleteRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
	models.ExecutionResult
}

// FailRequest reports a job the worker could not execute at all
// (infrastructure failure before or during the sandbox run)
type FailRequest struct {
	WorkerID  string `json:"worker_id" binding:"required"`
	RequestID uint64 `json:"request_id" binding:"required"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
}

// SystemLogRequest appends one admin-only diagnostic entry
type SystemLogRequest struct {
	RequestID uint64 `json:"request_id" binding:"required"`
	WorkerID  string `json:"worker_id" binding:"required"`
	Channel   string `json:"channel" binding:"required,oneof=compile execute"`
	Content   string `json:"content" binding:"required"`
}
