package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/near-outlayer/execution-plane/api/rest/server"
	v1 "github.com/near-outlayer/execution-plane/api/rest/v1"
	"github.com/near-outlayer/execution-plane/internal/metrics"
)

type CacheHandlers struct {
	server *server.Server
}

func NewCacheHandlers(server *server.Server) *CacheHandlers {
	return &CacheHandlers{server: server}
}

// Exists is the cheap existence probe workers use before downloading.
func (h *CacheHandlers) Exists(c *gin.Context) error {
	fingerprint := c.Query("fingerprint")
	if fingerprint == "" {
		return v1.APIError{Code: http.StatusBadRequest, Err: "fingerprint required"}
	}
	exists, err := h.server.Artifacts.Exists(c.Request.Context(), fingerprint)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
	return nil
}

// Get streams a cached artifact. The compilation note rides in a header so
// the body stays raw bytecode.
func (h *CacheHandlers) Get(c *gin.Context) error {
	fingerprint := c.Query("fingerprint")
	if fingerprint == "" {
		return v1.APIError{Code: http.StatusBadRequest, Err: "fingerprint required"}
	}
	record, data, err := h.server.Artifacts.Lookup(c.Request.Context(), fingerprint)
	if err != nil {
		return err
	}
	if record == nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return v1.APIError{Code: http.StatusNotFound, Err: "artifact not cached"}
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()

	c.Header("X-Compilation-Note", record.CompilationNote)
	c.Data(http.StatusOK, "application/wasm", data)
	return nil
}

// Put stores a freshly compiled artifact. Concurrent uploads of the same
// fingerprint are safe; the first write wins.
func (h *CacheHandlers) Put(c *gin.Context) error {
	fingerprint := c.PostForm("fingerprint")
	if fingerprint == "" {
		return v1.APIError{Code: http.StatusBadRequest, Err: "fingerprint required"}
	}
	note := c.PostForm("note")

	file, err := c.FormFile("artifact")
	if err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: "artifact file required"}
	}
	f, err := file.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	record, err := h.server.Artifacts.Put(c.Request.Context(), fingerprint, data, note)
	if err != nil {
		return err
	}
	c.JSON(http.StatusCreated, record)
	return nil
}
