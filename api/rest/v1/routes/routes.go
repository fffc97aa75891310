package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/near-outlayer/execution-plane/api/rest/server"
	v1 "github.com/near-outlayer/execution-plane/api/rest/v1"
	"github.com/near-outlayer/execution-plane/api/rest/v1/handlers"
	"github.com/near-outlayer/execution-plane/api/rest/v1/middleware"
)

func publicRoutes(s *server.Server, router gin.IRoutes) {
	publicHandlers := handlers.NewPublicHandlers(s)
	router.POST("/execute", v1.ErrorHandler(publicHandlers.Execute))
	router.GET("/requests/:id", v1.ErrorHandler(publicHandlers.GetRequest))
	router.GET("/pricing", v1.ErrorHandler(publicHandlers.GetPricing))
}

func workerRoutes(s *server.Server, router gin.IRoutes, credentialed gin.IRoutes) {
	jobHandlers := handlers.NewJobHandlers(s)
	cacheHandlers := handlers.NewCacheHandlers(s)
	infraHandlers := handlers.NewInfraHandlers(s)
	adminHandlers := handlers.NewAdminHandlers(s)

	// Claiming work requires a live attestation credential on top of the
	// worker bearer token.
	credentialed.POST("/jobs/claim", v1.ErrorHandler(jobHandlers.Claim))

	router.POST("/jobs/complete", v1.ErrorHandler(jobHandlers.Complete))
	router.POST("/jobs/fail", v1.ErrorHandler(jobHandlers.Fail))

	router.GET("/cache/exists", v1.ErrorHandler(cacheHandlers.Exists))
	router.GET("/cache/artifact", v1.ErrorHandler(cacheHandlers.Get))
	router.POST("/cache/put", v1.ErrorHandler(cacheHandlers.Put))

	router.POST("/locks/acquire", v1.ErrorHandler(infraHandlers.AcquireLock))
	router.DELETE("/locks/:key", v1.ErrorHandler(infraHandlers.ReleaseLock))

	router.GET("/storage", v1.ErrorHandler(infraHandlers.StorageGet))
	router.PUT("/storage", v1.ErrorHandler(infraHandlers.StorageSet))
	router.DELETE("/storage", v1.ErrorHandler(infraHandlers.StorageDelete))

	router.POST("/internal/system-logs", v1.ErrorHandler(adminHandlers.AppendSystemLog))
}

func attestRoutes(s *server.Server, router gin.IRoutes) {
	attestHandlers := handlers.NewAttestHandlers(s)
	router.POST("/workers/attest", v1.ErrorHandler(attestHandlers.Attest))
}

func adminRoutes(s *server.Server, router gin.IRoutes) {
	adminHandlers := handlers.NewAdminHandlers(s)
	router.GET("/system-logs", v1.ErrorHandler(adminHandlers.ListSystemLogs))
	router.POST("/deposits", v1.ErrorHandler(adminHandlers.Deposit))
	router.POST("/pricing", v1.ErrorHandler(adminHandlers.RefreshPricing))
}

func RegisterRoutes(s *server.Server) {
	s.Engine.GET("/health", handlers.Health)
	s.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	cfg := s.Config

	public := s.Engine.Group("/api/v1/public",
		middleware.Auth(s.Tokens, "client", cfg.RequireAuth),
		middleware.RateLimit(s.Limiter),
		middleware.Idempotency(s.Idempotency),
	)
	publicRoutes(s, public)

	worker := s.Engine.Group("/api/v1",
		middleware.Auth(s.Tokens, "worker", cfg.RequireAuth),
	)
	credentialed := worker.Group("",
		middleware.WorkerCredential(s.Credentials, cfg.RequireAuth),
	)
	workerRoutes(s, worker, credentialed)
	attestRoutes(s, worker)

	admin := s.Engine.Group("/api/v1/admin",
		middleware.AdminAuth(cfg.AdminToken),
	)
	adminRoutes(s, admin)
}
