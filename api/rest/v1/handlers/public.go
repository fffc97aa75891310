package handlers

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/near-outlayer/execution-plane/api/rest/server"
	v1 "github.com/near-outlayer/execution-plane/api/rest/v1"
	"github.com/near-outlayer/execution-plane/api/rest/v1/middleware"
	"github.com/near-outlayer/execution-plane/api/rest/v1/schemas"
	"github.com/near-outlayer/execution-plane/internal/compiler"
	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/metrics"
	"github.com/near-outlayer/execution-plane/internal/models"
)

type PublicHandlers struct {
	server *server.Server
}

func NewPublicHandlers(server *server.Server) *PublicHandlers {
	return &PublicHandlers{server: server}
}

func newRequestID() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:]) >> 1
}

// Execute reserves payment and enqueues the request. Work happens
// asynchronously; the response only acknowledges acceptance.
func (h *PublicHandlers) Execute(c *gin.Context) error {
	var req schemas.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}

	repoURL, err := compiler.NormalizeRepoURL(req.Repo)
	if err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}
	if err := compiler.ValidateBuildPath(req.BuildTarget); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}

	ctx := c.Request.Context()
	payer := c.GetString(middleware.CtxOwner)
	requestID := newRequestID()

	if err := h.server.Payments.Reserve(ctx, payer, req.AttachedUSD); err != nil {
		if errors.Is(err, errs.ErrPaymentShortfall) {
			return v1.DomainError(err)
		}
		return err
	}

	job := &models.Job{
		RequestID:        requestID,
		Status:           models.JobPending,
		Repo:             repoURL,
		Commit:           req.Commit,
		BuildTarget:      req.BuildTarget,
		MaxInstructions:  req.MaxInstructions,
		MaxMemoryMB:      req.MaxMemoryMB,
		MaxSeconds:       req.MaxExecutionSeconds,
		Input:            req.Input,
		EncryptedSecrets: req.EncryptedSecrets,
		Payer:            payer,
		AttachedUSD:      req.AttachedUSD,
		IdempotencyKey:   c.GetHeader("Idempotency-Key"),
		ProjectID:        req.ProjectID,
		EnqueuedAt:       time.Now(),
	}
	if err := h.server.Jobs.Enqueue(ctx, job); err != nil {
		// Give the reservation back; nothing will ever settle this request.
		if rbErr := h.server.Payments.SettleReservation(ctx, payer, req.AttachedUSD, 0, req.AttachedUSD); rbErr != nil {
			logrus.WithError(rbErr).WithField("request_id", requestID).
				Error("reservation rollback failed, janitor will reclaim")
		}
		return err
	}

	if err := h.server.Events.ExecutionRequested(job.Request()); err != nil {
		logrus.WithError(err).Warn("emit execution_requested failed")
	}
	metrics.JobsEnqueued.Inc()

	c.JSON(http.StatusAccepted, schemas.ExecuteResponse{
		RequestID: requestID,
		Status:    models.JobPending,
	})
	return nil
}

// GetRequest reports queue state and, once settled, the outcome.
func (h *PublicHandlers) GetRequest(c *gin.Context) error {
	requestID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: "invalid request id"}
	}

	ctx := c.Request.Context()
	job, err := h.server.Jobs.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	if job == nil {
		return v1.APIError{Code: http.StatusNotFound, Err: "request not found"}
	}

	resp := schemas.RequestStatusResponse{
		RequestID: job.RequestID,
		Status:    job.Status,
		Attempts:  job.Attempts,
		Source: models.CodeSource{
			Repo:        job.Repo,
			Commit:      job.Commit,
			BuildTarget: job.BuildTarget,
		},
	}
	settlement, err := h.server.Settlements.FindByRequestID(ctx, requestID)
	if err != nil {
		return err
	}
	resp.Settlement = settlement

	c.JSON(http.StatusOK, resp)
	return nil
}

// GetPricing returns the rate card in effect.
func (h *PublicHandlers) GetPricing(c *gin.Context) error {
	c.JSON(http.StatusOK, schemas.PricingResponse{
		Schedule:    h.server.Pricing.Current(),
		RefreshedAt: h.server.Pricing.RefreshedAt(),
	})
	return nil
}
