package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/near-outlayer/execution-plane/api/rest/server"
	v1 "github.com/near-outlayer/execution-plane/api/rest/v1"
	"github.com/near-outlayer/execution-plane/api/rest/v1/schemas"
	"github.com/near-outlayer/execution-plane/internal/accounting"
	"github.com/near-outlayer/execution-plane/internal/models"
)

type AdminHandlers struct {
	server *server.Server
}

func NewAdminHandlers(server *server.Server) *AdminHandlers {
	return &AdminHandlers{server: server}
}

// AppendSystemLog receives raw compile/exec diagnostics from workers. The
// content may expose host paths or proprietary source and stays admin-only.
func (h *AdminHandlers) AppendSystemLog(c *gin.Context) error {
	var req schemas.SystemLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}
	err := h.server.SystemLogs.Append(c.Request.Context(), &models.SystemLog{
		RequestID: req.RequestID,
		WorkerID:  req.WorkerID,
		Channel:   req.Channel,
		Content:   req.Content,
	})
	if err != nil {
		return err
	}
	c.JSON(http.StatusCreated, v1.APIResponse{Code: http.StatusCreated, Msg: "logged"})
	return nil
}

// ListSystemLogs is the admin read side of the diagnostic channel.
func (h *AdminHandlers) ListSystemLogs(c *gin.Context) error {
	requestID, err := strconv.ParseUint(c.Query("request_id"), 10, 64)
	if err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: "request_id required"}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := h.server.SystemLogs.ListByRequest(c.Request.Context(), requestID, limit)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
	return nil
}

// Deposit credits a payment key. In production deposits mirror chain events;
// this endpoint is the operator escape hatch.
func (h *AdminHandlers) Deposit(c *gin.Context) error {
	var req struct {
		PaymentKey string `json:"payment_key" binding:"required"`
		Amount     uint64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}
	if err := h.server.Payments.Deposit(c.Request.Context(), req.PaymentKey, req.Amount); err != nil {
		return err
	}
	c.JSON(http.StatusOK, v1.APIResponse{Code: http.StatusOK, Msg: "deposited"})
	return nil
}

// RefreshPricing installs a new rate card. Refreshes inside the minimum
// interval are rejected.
func (h *AdminHandlers) RefreshPricing(c *gin.Context) error {
	var next accounting.PricingSchedule
	if err := c.ShouldBindJSON(&next); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}
	if !h.server.Pricing.Refresh(next) {
		return v1.APIError{Code: http.StatusTooManyRequests, Err: "pricing was refreshed recently"}
	}
	c.JSON(http.StatusOK, v1.APIResponse{Code: http.StatusOK, Msg: "pricing updated"})
	return nil
}

// Health is the liveness probe.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
