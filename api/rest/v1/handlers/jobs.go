package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/near-outlayer/execution-plane/api/rest/server"
	v1 "github.com/near-outlayer/execution-plane/api/rest/v1"
	"github.com/near-outlayer/execution-plane/api/rest/v1/schemas"
	"github.com/near-outlayer/execution-plane/internal/accounting"
	"github.com/near-outlayer/execution-plane/internal/metrics"
	"github.com/near-outlayer/execution-plane/internal/models"
)

type JobHandlers struct {
	server *server.Server
}

func NewJobHandlers(server *server.Server) *JobHandlers {
	return &JobHandlers{server: server}
}

// Claim hands out up to Max pending jobs under a claim deadline. Expired
// claims go back to the queue tail.
func (h *JobHandlers) Claim(c *gin.Context) error {
	var req schemas.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}
	max := req.Max
	if max > h.server.Config.ClaimBatchMax {
		max = h.server.Config.ClaimBatchMax
	}

	jobs, err := h.server.Jobs.Claim(c.Request.Context(), req.WorkerID, max, h.server.Config.ClaimTTL)
	if err != nil {
		return err
	}

	go func() {
		if err := h.server.Workers.Heartbeat(context.Background(), req.WorkerID); err != nil {
			logrus.WithError(err).Debug("worker heartbeat update failed")
		}
	}()

	resp := schemas.ClaimResponse{Jobs: make([]models.ExecutionRequest, 0, len(jobs))}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, jobs[i].Request())
	}
	c.JSON(http.StatusOK, resp)
	return nil
}

// Complete settles a finished execution, successful or failed.
func (h *JobHandlers) Complete(c *gin.Context) error {
	var req schemas.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}
	return h.settle(c, req.WorkerID, req.ExecutionResult)
}

// Fail settles a job the worker could not run at all.
func (h *JobHandlers) Fail(c *gin.Context) error {
	var req schemas.FailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}
	return h.settle(c, req.WorkerID, models.ExecutionResult{
		RequestID: req.RequestID,
		Success:   false,
		Error:     req.Error,
		ErrorKind: req.ErrorKind,
	})
}

// settle is the single exit for every finished request. The request-scoped
// lock serializes concurrent reports; the settlement row's primary key makes
// the emission exactly-once even across lock expiry.
func (h *JobHandlers) settle(c *gin.Context, workerID string, result models.ExecutionResult) error {
	ctx := c.Request.Context()
	lockKey := fmt.Sprintf("settle:%d", result.RequestID)

	acquired, err := h.server.Locks.Acquire(ctx, lockKey, workerID, h.server.Config.LockDefaultTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return v1.APIError{Code: http.StatusConflict, Err: "settlement already in progress"}
	}
	defer func() {
		if err := h.server.Locks.Release(context.Background(), lockKey, workerID); err != nil {
			logrus.WithError(err).WithField("request_id", result.RequestID).
				Debug("settlement lock release failed")
		}
	}()

	job, err := h.server.Jobs.FindByID(ctx, result.RequestID)
	if err != nil {
		return err
	}
	if job == nil {
		return v1.APIError{Code: http.StatusNotFound, Err: "unknown request"}
	}
	if job.Status == models.JobClaimed && job.WorkerID != workerID {
		return v1.APIError{Code: http.StatusForbidden, Err: "job claimed by another worker"}
	}

	req := job.Request()
	settlement := accounting.Settle(req, result, h.server.Pricing.Current(),
		accounting.Policy{BaseFeeOnFailure: h.server.Config.BaseFeeOnFailure})

	inserted, err := h.server.Settlements.InsertOnce(ctx, &settlement)
	if err != nil {
		return err
	}
	if !inserted {
		c.JSON(http.StatusOK, v1.APIResponse{Code: http.StatusOK, Msg: "already settled"})
		return nil
	}

	if err := h.server.Payments.SettleReservation(ctx, req.Payer, req.AttachedUSD,
		settlement.ChargedUSD, settlement.RefundedUSD); err != nil {
		// The settlement row exists; a stuck reservation is reclaimed by the
		// janitor rather than retried here.
		logrus.WithError(err).WithField("request_id", result.RequestID).
			Error("payment settlement failed after record insert")
	}

	transition := h.server.Jobs.Fail
	outcome := "failed"
	if result.Success {
		transition = h.server.Jobs.Complete
		outcome = "completed"
	}
	if _, err := transition(ctx, result.RequestID); err != nil {
		logrus.WithError(err).WithField("request_id", result.RequestID).
			Warn("job status transition failed")
	}

	if err := h.server.Events.ExecutionCompleted(settlement, req.Source, result.Usage); err != nil {
		logrus.WithError(err).Warn("emit execution_completed failed")
	}
	metrics.JobsSettled.WithLabelValues(outcome, result.ErrorKind).Inc()
	metrics.SettlementLatency.Observe(time.Since(job.EnqueuedAt).Seconds())

	c.JSON(http.StatusOK, v1.APIResponse{Code: http.StatusOK, Msg: "settled", Data: settlement})
	return nil
}
