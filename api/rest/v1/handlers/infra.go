package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/near-outlayer/execution-plane/api/rest/server"
	v1 "github.com/near-outlayer/execution-plane/api/rest/v1"
	"github.com/near-outlayer/execution-plane/api/rest/v1/schemas"
	"github.com/near-outlayer/execution-plane/internal/models"
)

// InfraHandlers serve the worker-facing lock and sealed-storage endpoints.
type InfraHandlers struct {
	server *server.Server
}

func NewInfraHandlers(server *server.Server) *InfraHandlers {
	return &InfraHandlers{server: server}
}

func (h *InfraHandlers) AcquireLock(c *gin.Context) error {
	var req schemas.AcquireLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = h.server.Config.LockDefaultTTL
	}

	acquired, err := h.server.Locks.Acquire(c.Request.Context(), req.LockKey, req.WorkerID, ttl)
	if err != nil {
		return err
	}
	resp := schemas.AcquireLockResponse{Acquired: acquired}
	if !acquired {
		holder, err := h.server.Locks.Holder(c.Request.Context(), req.LockKey)
		if err == nil {
			resp.WorkerID = holder
		}
	}
	c.JSON(http.StatusOK, resp)
	return nil
}

func (h *InfraHandlers) ReleaseLock(c *gin.Context) error {
	key := c.Param("key")
	holder := c.Query("worker_id")
	if key == "" || holder == "" {
		return v1.APIError{Code: http.StatusBadRequest, Err: "lock key and worker_id required"}
	}
	if err := h.server.Locks.Release(c.Request.Context(), key, holder); err != nil {
		return err
	}
	c.JSON(http.StatusOK, v1.APIResponse{Code: http.StatusOK, Msg: "released"})
	return nil
}

func (h *InfraHandlers) StorageGet(c *gin.Context) error {
	namespace, keyHash := c.Query("namespace"), c.Query("key_hash")
	if namespace == "" || keyHash == "" {
		return v1.APIError{Code: http.StatusBadRequest, Err: "namespace and key_hash required"}
	}
	entry, err := h.server.Storage.Get(c.Request.Context(), namespace, keyHash)
	if err != nil {
		return err
	}
	if entry == nil {
		c.JSON(http.StatusOK, schemas.StorageGetResponse{Found: false})
		return nil
	}
	c.JSON(http.StatusOK, schemas.StorageGetResponse{
		Found:   true,
		Value:   entry.Value,
		Version: entry.Version,
	})
	return nil
}

func (h *InfraHandlers) StorageSet(c *gin.Context) error {
	var req schemas.StorageSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}
	err := h.server.Storage.Set(c.Request.Context(), &models.StorageEntry{
		Namespace: req.Namespace,
		KeyHash:   req.KeyHash,
		Value:     req.Value,
		Version:   req.Version,
	})
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, v1.APIResponse{Code: http.StatusOK, Msg: "stored"})
	return nil
}

func (h *InfraHandlers) StorageDelete(c *gin.Context) error {
	namespace, keyHash := c.Query("namespace"), c.Query("key_hash")
	if namespace == "" || keyHash == "" {
		return v1.APIError{Code: http.StatusBadRequest, Err: "namespace and key_hash required"}
	}
	if err := h.server.Storage.Delete(c.Request.Context(), namespace, keyHash); err != nil {
		return err
	}
	c.JSON(http.StatusOK, v1.APIResponse{Code: http.StatusOK, Msg: "deleted"})
	return nil
}
