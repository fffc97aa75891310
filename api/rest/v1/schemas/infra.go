package schemas

// AcquireLockRequest asks for an advisory lock
// @Description Lock acquire request
type AcquireLockRequest struct {
	LockKey    string `json:"lock_key" binding:"required"`
	WorkerID   string `json:"worker_id" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// AcquireLockResponse reports whether the lock was granted; on refusal
// worker_id names the current holder.
type AcquireLockResponse struct {
	Acquired bool   `json:"acquired"`
	WorkerID string `json:"worker_id,omitempty"`
}

// StorageSetRequest upserts one sealed storage row
// @Description Sealed storage write
type StorageSetRequest struct {
	Namespace string `json:"namespace" binding:"required"`
	KeyHash   string `json:"key_hash" binding:"required"`
	Value     []byte `json:"value" binding:"required"` // ciphertext, base64 in JSON
	Version   uint32 `json:"version"`
}

// StorageGetResponse returns one sealed storage row
type StorageGetResponse struct {
	Found   bool   `json:"found"`
	Value   []byte `json:"value,omitempty"`
	Version uint32 `json:"version,omitempty"`
}

// AttestRequest submits a raw TEE quote for admission
// @Description Worker attestation request
type AttestRequest struct {
	WorkerID   string `json:"worker_id" binding:"required"`
	Quote      []byte `json:"quote" binding:"required"` // raw quote, base64 in JSON
	Collateral []byte `json:"collateral,omitempty"`
}

// AttestResponse carries the short-lived claim credential
type AttestResponse struct {
	Credential       string `json:"credential"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
	RTMR3            string `json:"rtmr3"`
}
