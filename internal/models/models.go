package models

import (
	"time"
)

// Job statuses. Transitions are guarded by conditional updates in the
// repository layer.
const (
	JobPending   = "pending"
	JobClaimed   = "claimed"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is the queue representation of an ExecutionRequest.
type Job struct {
	RequestID        uint64     `json:"request_id" gorm:"primaryKey;autoIncrement:false"`
	Status           string     `json:"status" gorm:"not null;index;default:pending"`
	WorkerID         string     `json:"worker_id"`
	ClaimDeadline    *time.Time `json:"claim_deadline"`
	Attempts         int        `json:"attempts" gorm:"not null;default:0"`
	Repo             string     `json:"repo" gorm:"not null"`
	Commit           string     `json:"commit" gorm:"not null"`
	BuildTarget      string     `json:"build_target" gorm:"not null"`
	MaxInstructions  uint64     `json:"max_instructions" gorm:"not null"`
	MaxMemoryMB      uint64     `json:"max_memory_mb" gorm:"not null"`
	MaxSeconds       uint64     `json:"max_seconds" gorm:"not null"`
	Input            []byte     `json:"input"`
	EncryptedSecrets []byte     `json:"encrypted_secrets"`
	Payer            string     `json:"payer" gorm:"not null;index"`
	AttachedUSD      uint64     `json:"attached_usd" gorm:"not null"`
	IdempotencyKey   string     `json:"idempotency_key"`
	ProjectID        string     `json:"project_id"`
	EnqueuedAt       time.Time  `json:"enqueued_at" gorm:"not null;index"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Request reconstructs the ExecutionRequest carried by the job.
func (j *Job) Request() ExecutionRequest {
	return ExecutionRequest{
		RequestID: j.RequestID,
		Source: CodeSource{
			Repo:        j.Repo,
			Commit:      j.Commit,
			BuildTarget: j.BuildTarget,
		},
		Limits: ResourceLimits{
			MaxInstructions:     j.MaxInstructions,
			MaxMemoryMB:         j.MaxMemoryMB,
			MaxExecutionSeconds: j.MaxSeconds,
		},
		Input:            j.Input,
		EncryptedSecrets: j.EncryptedSecrets,
		Payer:            j.Payer,
		AttachedUSD:      j.AttachedUSD,
		IdempotencyKey:   j.IdempotencyKey,
		ProjectID:        j.ProjectID,
	}
}

// Artifact is the metadata record for a compiled bytecode file. The table is
// the source of truth for existence and size; the blob carries the bytes.
type Artifact struct {
	Fingerprint     string    `json:"fingerprint" gorm:"primaryKey"`
	SizeBytes       int64     `json:"size_bytes" gorm:"not null"`
	Checksum        string    `json:"checksum" gorm:"not null"`
	CompilationNote string    `json:"compilation_note"`
	BuiltAt         time.Time `json:"built_at" gorm:"not null"`
	LastAccessedAt  time.Time `json:"last_accessed_at" gorm:"not null;index"`
}

// PaymentKeyBalance tracks available and reserved funds for a payment key.
// Reserved amounts older than the stale threshold are reclaimed by a janitor.
type PaymentKeyBalance struct {
	PaymentKey     string     `json:"payment_key" gorm:"primaryKey"`
	Available      uint64     `json:"available" gorm:"not null;default:0"`
	Reserved       uint64     `json:"reserved" gorm:"not null;default:0"`
	LastReservedAt *time.Time `json:"last_reserved_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Settlement is the chain-visible outcome of one request. The primary key on
// request_id is the exactly-once guard.
type Settlement struct {
	RequestID       uint64    `json:"request_id" gorm:"primaryKey;autoIncrement:false"`
	Payer           string    `json:"payer" gorm:"not null;index"`
	Success         bool      `json:"success" gorm:"not null"`
	ErrorKind       string    `json:"error_kind"`
	ErrorMessage    string    `json:"error_message"`
	ChargedUSD      uint64    `json:"payment_charged" gorm:"not null"`
	RefundedUSD     uint64    `json:"payment_refunded" gorm:"not null"`
	Instructions    uint64    `json:"instructions" gorm:"not null"`
	ExecutionTimeMs uint64    `json:"execution_time_ms" gorm:"not null"`
	CompilationNote string    `json:"compilation_note"`
	CreatedAt       time.Time `json:"created_at"`
}

// AccessToken authenticates clients, workers and admins. Only the SHA-256
// digest of the bearer token is stored.
type AccessToken struct {
	TokenHash  string     `json:"token_hash" gorm:"primaryKey"`
	Role       string     `json:"role" gorm:"not null;index"` // "client" | "worker"
	Owner      string     `json:"owner" gorm:"not null"`
	IsActive   bool       `json:"is_active" gorm:"not null;default:true"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SystemLog captures raw compile/exec diagnostics. Admin-only: the content
// may echo host paths or source internals and never crosses the public
// boundary.
type SystemLog struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	RequestID uint64    `json:"request_id" gorm:"index"`
	WorkerID  string    `json:"worker_id"`
	Channel   string    `json:"channel" gorm:"not null"` // "compile" | "execute"
	Content   string    `json:"content" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// StorageEntry is one sealed key/value row of guest-visible storage.
// The row key is a hash of the plaintext key; the value is ciphertext.
type StorageEntry struct {
	Namespace string    `json:"namespace" gorm:"primaryKey"`
	KeyHash   string    `json:"key_hash" gorm:"primaryKey"`
	Value     []byte    `json:"value" gorm:"not null"`
	Version   uint32    `json:"version" gorm:"not null;default:1"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkerRegistration records an admitted worker and its attested measurement.
type WorkerRegistration struct {
	WorkerID    string    `json:"worker_id" gorm:"primaryKey"`
	Measurement string    `json:"measurement" gorm:"not null"`
	AdmittedAt  time.Time `json:"admitted_at" gorm:"not null"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
