package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"firealert/backend/alert"
	"firealert/backend/config"
	"firealert/backend/metrics"
	"firealert/backend/registry"
	"firealert/backend/server/api"
	"firealert/backend/server/middleware"
	"firealert/backend/verify"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	EndPointMetrics = "/metrics"
	EndPointPrefix  = "/api/v1"

	EndPointHealth             = "/health"
	EndPointDetections         = "/alerts/detections"
	EndPointCancel             = "/alerts/cancel"
	EndPointCleanup            = "/alerts/cleanup"
	EndPointAlerts             = "/alerts"
	EndPointAlert              = "/alerts/:id"
	EndPointConfirm            = "/alerts/:id/confirm"
	EndPointAlertImage         = "/alerts/:id/image"
	EndPointVerify             = "/verify"
	EndPointUsers              = "/users"
	EndPointResponders         = "/responders"
	EndPointResponderDashboard = "/responders/:id/dashboard"
	EndPointSites              = "/sites"
	EndPointSite               = "/sites/:id"
	EndPointSitePassword       = "/sites/:id/verify-password"
	EndPointSources            = "/sources"
	EndPointSource             = "/sources/:id"
)

// Server exposes the alert pipeline and the registry over HTTP.
type Server struct {
	cfg      *config.Config
	alerts   *alert.Coordinator
	registry *registry.Registry
	verifier verify.Verifier
}

func New(cfg *config.Config, alerts *alert.Coordinator, reg *registry.Registry, verifier verify.Verifier) *Server {
	return &Server{cfg: cfg, alerts: alerts, registry: reg, verifier: verifier}
}

func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", middleware.ServiceKeyHeader, middleware.ProviderSecretHeader},
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	if s.cfg.MetricsEnabled {
		metrics.Register()
		router.GET(EndPointMetrics, gin.WrapH(promhttp.Handler()))
	}

	serviceKey := middleware.ServiceKeyAuth(s.cfg.ServiceKey)

	v1 := router.Group(EndPointPrefix)
	v1.GET(EndPointHealth, s.Health)

	v1.POST(EndPointDetections,
		middleware.RateLimit(s.cfg.DetectionRateLimit, s.cfg.DetectionRateBurst),
		serviceKey,
		s.SubmitDetection)
	v1.POST(EndPointCancel, s.CancelAlert)
	v1.POST(EndPointCleanup, serviceKey, s.CleanupAlerts)
	v1.GET(EndPointAlerts, s.ListAlerts)
	v1.GET(EndPointAlert, s.GetAlert)
	v1.POST(EndPointConfirm, s.ConfirmAlert)
	v1.POST(EndPointAlertImage, serviceKey, s.UpdateAlertImage)
	v1.POST(EndPointVerify, serviceKey, s.VerifyImage)

	v1.POST(EndPointUsers, s.RegisterUser)
	v1.POST(EndPointResponders, middleware.ProviderSecretAuth(s.cfg.ProviderSecret), s.RegisterResponder)
	v1.GET(EndPointResponderDashboard, s.ResponderDashboard)
	v1.POST(EndPointSites, s.RegisterSite)
	v1.GET(EndPointSites, s.ListSites)
	v1.DELETE(EndPointSite, s.DeleteSite)
	v1.POST(EndPointSitePassword, s.VerifySitePassword)
	v1.POST(EndPointSources, s.RegisterSource)
	v1.GET(EndPointSources, s.ListSources)
	v1.DELETE(EndPointSource, s.DeleteSource)

	return router
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{Status: "ok", Time: time.Now().UnixMilli()})
}

// RunCleanup sweeps expired cooldowns every interval until ctx is done.
func (s *Server) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Info("Periodic cleanup disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.alerts.CleanupExpired(ctx)
			if err != nil {
				log.Errorf("Cleanup sweep failed: %v", err)
			}
			if deleted > 0 {
				log.Infof("Cleanup sweep deleted %d expired alerts", deleted)
			}
		}
	}
}

// respondError maps domain errors to status codes.
func respondError(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, alert.ErrValidation), errors.Is(err, registry.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, alert.ErrNotFound), errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, alert.ErrNotActive):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Errorf("Failed to %s: %v", op, err)
		c.JSON(status, api.ErrorResponse{Error: "internal error"})
		return
	}
	log.Warnf("Failed to %s: %v", op, err)
	c.JSON(status, api.ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, op string, err error) {
	log.Warnf("Bad arguments in %s: %v", op, err)
	c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
}
