package alert

import (
	"errors"
	"time"

	"firealert/backend/verify"
)

const (
	AlertsCollection = "alerts"
	GuardsCollection = "source_guards"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrNotActive  = errors.New("alert is not active")
)

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusConfirmed        Status = "CONFIRMED"
	StatusRejected         Status = "REJECTED"
	StatusCancelled        Status = "CANCELLED"
	StatusSending          Status = "SENDING"
	StatusNotifiedCooldown Status = "NOTIFIED_COOLDOWN"
)

// ActiveStatuses may exist at most once per source.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusSending, StatusNotifiedCooldown}

func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func statusValues(statuses ...Status) []interface{} {
	out := make([]interface{}, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Alert is one candidate fire detection. Timestamps are Unix milliseconds.
type Alert struct {
	ID             string    `json:"id"`
	SourceID       string    `json:"source_id"`
	SiteID         string    `json:"site_id"`
	Status         Status    `json:"status"`
	DetectionClass string    `json:"detection_class"`
	Confidence     float64   `json:"confidence"`
	BoundingBox    []float64 `json:"bounding_box,omitempty"`
	ImageReference string    `json:"image_reference"`
	// LatestImageReference is a newer snapshot pushed during cooldown.
	LatestImageReference string         `json:"latest_image_reference,omitempty"`
	ImageUpdatedAt       int64          `json:"image_updated_at,omitempty"`
	Verification         *verify.Result `json:"verification,omitempty"`
	DetectedAt           int64          `json:"detected_at"`
	CreatedAt            int64          `json:"created_at"`
	ResolvedAt           int64          `json:"resolved_at,omitempty"`
	CooldownExpiresAt    int64          `json:"cooldown_expires_at,omitempty"`
	SendingAt            int64          `json:"sending_at,omitempty"`
	CancelledBy          string         `json:"cancelled_by,omitempty"`
	CancelledAt          int64          `json:"cancelled_at,omitempty"`
	Notifications        *Notifications `json:"notifications,omitempty"`
	Error                string         `json:"error,omitempty"`
}

// Notifications records what the gate sent.
type Notifications struct {
	OwnerSent     bool   `json:"owner_sent"`
	ResponderSent bool   `json:"responder_sent"`
	ResponderID   string `json:"responder_id,omitempty"`
	SentAt        int64  `json:"sent_at"`
}

// Detection is a validated detection event from the video analysis service.
// Confidence, BoundingBox and Timestamp are optional.
type Detection struct {
	SourceID       string
	DetectionClass string
	Confidence     *float64
	BoundingBox    []float64
	ImageReference string
	Timestamp      *time.Time
}

type SubmitResult struct {
	AlertID string `json:"alert_id"`
	// Duplicate is true when an active alert for the source already existed.
	Duplicate bool `json:"duplicate"`
}

type CancelResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Status   Status `json:"status"`
}

type Outcome string

const (
	OutcomeConfirmedSent    Outcome = "confirmed-sent"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeRejected         Outcome = "rejected"
	OutcomeAlreadyProcessed Outcome = "already-processed"
	OutcomePendingRetry     Outcome = "pending-retry"
	OutcomeFailed           Outcome = "failed"
	OutcomeNotFound         Outcome = "not-found"
)

// GateResult is what confirmAndSend reports.
type GateResult struct {
	Outcome Outcome `json:"outcome"`
	AlertID string  `json:"alert_id"`
	Status  Status  `json:"status,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Event is published on every lifecycle transition.
type Event struct {
	Type     string `json:"type"`
	AlertID  string `json:"alert_id"`
	SourceID string `json:"source_id,omitempty"`
	SiteID   string `json:"site_id,omitempty"`
	Status   Status `json:"status,omitempty"`
	At       int64  `json:"at"`
}

const (
	EventCreated    = "alert.created"
	EventConfirmed  = "alert.confirmed"
	EventRejected   = "alert.rejected"
	EventCancelled  = "alert.cancelled"
	EventNotified   = "alert.notified"
	EventSendFailed = "alert.send_failed"
	EventDeleted    = "alert.deleted"
)
