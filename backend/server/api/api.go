package api

import (
	"time"

	"firealert/backend/alert"
	"firealert/backend/registry"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Time   int64  `json:"time"`
}

// DetectionArgs is posted by the video analysis service.
type DetectionArgs struct {
	SourceID       string     `json:"source_id" binding:"required"`
	DetectionClass string     `json:"detection_class" binding:"required"`
	Confidence     *float64   `json:"confidence"`
	BoundingBox    []float64  `json:"bounding_box"`
	ImageReference string     `json:"image_reference" binding:"required"`
	Timestamp      *time.Time `json:"timestamp"`
}

func (a *DetectionArgs) Detection() alert.Detection {
	return alert.Detection{
		SourceID:       a.SourceID,
		DetectionClass: a.DetectionClass,
		Confidence:     a.Confidence,
		BoundingBox:    a.BoundingBox,
		ImageReference: a.ImageReference,
		Timestamp:      a.Timestamp,
	}
}

type CancelArgs struct {
	AlertID    string `json:"alert_id" binding:"required"`
	ActorEmail string `json:"actor_email"`
}

type CancelResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type ConfirmResponse struct {
	Outcome alert.Outcome `json:"outcome"`
	Status  alert.Status  `json:"status,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type ImageArgs struct {
	ImageReference string `json:"image_reference" binding:"required"`
}

type ImageResponse struct {
	AlertID        string `json:"alert_id"`
	ImageReference string `json:"image_reference"`
}

type AlertsResponse struct {
	Alerts []alert.Alert `json:"alerts"`
}

type CleanupResponse struct {
	DeletedCount int `json:"deleted_count"`
}

type VerifyArgs struct {
	ImageReference string `json:"image_reference" binding:"required"`
}

type UserArgs struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required"`
	Role  string `json:"role"`
}

type ResponderArgs struct {
	Name    string           `json:"name" binding:"required"`
	Email   string           `json:"email" binding:"required"`
	Phone   string           `json:"phone"`
	Address string           `json:"address"`
	Coords  *registry.Coords `json:"coords"`
}

type SiteArgs struct {
	OwnerEmail      string           `json:"owner_email" binding:"required"`
	Address         string           `json:"address" binding:"required"`
	Coords          *registry.Coords `json:"coords"`
	MonitorPassword string           `json:"monitor_password"`
}

// Site is the public view of a registry site. The password hash never
// leaves the service.
type Site struct {
	ID                string           `json:"id"`
	OwnerEmail        string           `json:"owner_email"`
	Address           string           `json:"address"`
	Coords            *registry.Coords `json:"coords,omitempty"`
	ResponderID       string           `json:"responder_id,omitempty"`
	MonitoringEnabled bool             `json:"monitoring_enabled"`
	CreatedAt         int64            `json:"created_at,omitempty"`
}

func ToSite(s *registry.Site) Site {
	return Site{
		ID:                s.ID,
		OwnerEmail:        s.OwnerEmail,
		Address:           s.Address,
		Coords:            s.Coords,
		ResponderID:       s.ResponderID,
		MonitoringEnabled: s.MonitoringEnabled,
		CreatedAt:         s.CreatedAt,
	}
}

type SitesResponse struct {
	Sites []Site `json:"sites"`
}

type SitePasswordArgs struct {
	Password string `json:"password" binding:"required"`
}

type SitePasswordResponse struct {
	Valid bool `json:"valid"`
}

type SourceArgs struct {
	SiteID     string `json:"site_id" binding:"required"`
	Label      string `json:"label" binding:"required"`
	Stream     string `json:"stream"`
	StreamType string `json:"stream_type"`
}

type SourcesResponse struct {
	Sources []registry.Source `json:"sources"`
}

type SiteAlerts struct {
	Site   Site          `json:"site"`
	Alerts []alert.Alert `json:"alerts"`
}

type DashboardResponse struct {
	ResponderID string       `json:"responder_id"`
	Sites       []SiteAlerts `json:"sites"`
}
