package models

// CodeSource pins the source of an execution to an immutable revision.
type CodeSource struct {
	Repo        string `json:"repo"`
	Commit      string `json:"commit"`
	BuildTarget string `json:"build_target"`
}

// ResourceLimits caps a single execution.
type ResourceLimits struct {
	MaxInstructions     uint64 `json:"max_instructions"`
	MaxMemoryMB         uint64 `json:"max_memory_mb"`
	MaxExecutionSeconds uint64 `json:"max_execution_seconds"`
}

// ResourceUsage is what an execution actually consumed.
type ResourceUsage struct {
	Instructions    uint64 `json:"instructions"`
	PeakMemoryBytes uint64 `json:"peak_memory_bytes"`
	ExecutionTimeMs uint64 `json:"execution_time_ms"`
	CompileTimeMs   uint64 `json:"compile_time_ms"`
}

// ExecutionRequest is the chain-originated unit of work consumed by the core.
type ExecutionRequest struct {
	RequestID        uint64         `json:"request_id"`
	Source           CodeSource     `json:"code_source"`
	Limits           ResourceLimits `json:"resource_limits"`
	Input            []byte         `json:"input"`
	EncryptedSecrets []byte         `json:"encrypted_secrets,omitempty"`
	Payer            string         `json:"payer"`
	AttachedUSD      uint64         `json:"attached_usd"`
	IdempotencyKey   string         `json:"idempotency_key"`
	ProjectID        string         `json:"project_id"`
}

// ExecutionResult is what a worker reports for a claimed job.
type ExecutionResult struct {
	RequestID       uint64        `json:"request_id"`
	Success         bool          `json:"success"`
	Output          []byte        `json:"output,omitempty"`
	Error           string        `json:"error,omitempty"`
	ErrorKind       string        `json:"error_kind,omitempty"`
	Usage           ResourceUsage `json:"resources_used"`
	RefundUSD       uint64        `json:"refund_usd"`
	CompilationNote string        `json:"compilation_note,omitempty"`
}
