package server

import (
	"net/http"
	"strconv"

	"firealert/backend/alert"
	"firealert/backend/server/api"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

func (s *Server) SubmitDetection(c *gin.Context) {
	var args api.DetectionArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "detection", err)
		return
	}
	res, err := s.alerts.Submit(c.Request.Context(), args.Detection())
	if err != nil {
		respondError(c, "submit detection", err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (s *Server) CancelAlert(c *gin.Context) {
	var args api.CancelArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "cancel", err)
		return
	}
	res, err := s.alerts.Cancel(c.Request.Context(), args.AlertID, args.ActorEmail)
	if err != nil {
		respondError(c, "cancel alert", err)
		return
	}
	c.JSON(http.StatusOK, api.CancelResponse{Accepted: res.Accepted, Reason: res.Reason})
}

// ConfirmAlert runs the notification gate. Race outcomes are answered with
// 200; only a failed send is reported as an upstream error.
func (s *Server) ConfirmAlert(c *gin.Context) {
	res, err := s.alerts.ConfirmAndSend(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "confirm alert", err)
		return
	}
	status := http.StatusOK
	if res.Outcome == alert.OutcomeFailed {
		status = http.StatusBadGateway
	}
	c.JSON(status, api.ConfirmResponse{Outcome: res.Outcome, Status: res.Status, Error: res.Error})
}

// ListAlerts returns the owner's dashboard list, or only active alerts
// when active=true.
func (s *Server) ListAlerts(c *gin.Context) {
	owner := c.Query("owner_email")
	if owner == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "owner_email is required"})
		return
	}
	activeOnly, _ := strconv.ParseBool(c.Query("active"))

	var (
		alerts []alert.Alert
		err    error
	)
	if activeOnly {
		alerts, err = s.alerts.ActiveAlerts(c.Request.Context(), owner)
	} else {
		alerts, err = s.alerts.DashboardAlerts(c.Request.Context(), owner)
	}
	if err != nil {
		respondError(c, "list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	c.JSON(http.StatusOK, api.AlertsResponse{Alerts: alerts})
}

func (s *Server) GetAlert(c *gin.Context) {
	a, err := s.alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get alert", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) UpdateAlertImage(c *gin.Context) {
	var args api.ImageArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "alert image", err)
		return
	}
	ref, err := s.alerts.UpdateImage(c.Request.Context(), c.Param("id"), args.ImageReference)
	if err != nil {
		respondError(c, "update alert image", err)
		return
	}
	c.JSON(http.StatusOK, api.ImageResponse{AlertID: c.Param("id"), ImageReference: ref})
}

func (s *Server) CleanupAlerts(c *gin.Context) {
	deleted, err := s.alerts.CleanupExpired(c.Request.Context())
	if err != nil {
		// Partial sweeps still report what they removed.
		log.Errorf("Cleanup finished with errors after %d deletions: %v", deleted, err)
		c.JSON(http.StatusInternalServerError, gin.H{"deleted_count": deleted, "error": "cleanup incomplete"})
		return
	}
	c.JSON(http.StatusOK, api.CleanupResponse{DeletedCount: deleted})
}

// VerifyImage runs the vision check directly, without touching any alert.
func (s *Server) VerifyImage(c *gin.Context) {
	var args api.VerifyArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "verify", err)
		return
	}
	res, err := s.verifier.Verify(c.Request.Context(), s.alerts.ResolveImageReference(args.ImageReference))
	if err != nil {
		respondError(c, "verify image", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
