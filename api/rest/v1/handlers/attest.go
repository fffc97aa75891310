package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/near-outlayer/execution-plane/api/rest/server"
	v1 "github.com/near-outlayer/execution-plane/api/rest/v1"
	"github.com/near-outlayer/execution-plane/api/rest/v1/schemas"
	"github.com/near-outlayer/execution-plane/internal/metrics"
)

type AttestHandlers struct {
	server *server.Server
}

func NewAttestHandlers(server *server.Server) *AttestHandlers {
	return &AttestHandlers{server: server}
}

// Attest runs a worker's quote through the admission gate and, on success,
// issues the short-lived claim credential.
func (h *AttestHandlers) Attest(c *gin.Context) error {
	var req schemas.AttestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: err.Error()}
	}

	ctx := c.Request.Context()
	measurements, err := h.server.Gate.Admit(ctx, req.WorkerID, req.Quote, req.Collateral)
	if err != nil {
		metrics.AttestationRejections.Inc()
		return v1.DomainError(err)
	}

	if err := h.server.Workers.Admit(ctx, req.WorkerID, measurements.RTMR3); err != nil {
		return err
	}

	credential, err := h.server.Credentials.Issue(req.WorkerID, measurements)
	if err != nil {
		return err
	}
	metrics.WorkersAdmitted.Inc()
	logrus.WithFields(logrus.Fields{
		"worker_id": req.WorkerID,
		"rtmr3":     measurements.RTMR3,
	}).Info("worker admitted")

	c.JSON(http.StatusOK, schemas.AttestResponse{
		Credential:       credential,
		ExpiresInSeconds: int(h.server.Config.CredentialTTL.Seconds()),
		RTMR3:            measurements.RTMR3,
	})
	return nil
}
