package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"firealert/backend/db"
	"firealert/backend/email"
	"firealert/backend/metrics"
	"firealert/backend/registry"
	"firealert/backend/verify"

	"github.com/apex/log"
)

const (
	maxGuardAttempts = 3
	// maxTransitionAttempts bounds re-reads after a status write loses a race.
	maxTransitionAttempts = 3
)

// Registry is the read side of the site, source and responder registries.
type Registry interface {
	GetSource(ctx context.Context, id string) (*registry.Source, error)
	GetSite(ctx context.Context, id string) (*registry.Site, error)
	GetUser(ctx context.Context, email string) (*registry.User, error)
	GetResponder(ctx context.Context, id string) (*registry.Responder, error)
	NearestResponder(ctx context.Context, point registry.Coords) (*registry.Responder, error)
	SitesByOwner(ctx context.Context, ownerEmail string) ([]registry.Site, error)
	SitesByResponder(ctx context.Context, responderID string) ([]registry.Site, error)
}

// Publisher receives lifecycle events. Implemented by rabbitmq.Publisher.
type Publisher interface {
	PublishWithRoutingKey(routingKey string, message interface{}) error
}

type Config struct {
	// Cooldown is how long a notified alert blocks new alerts for its source.
	Cooldown time.Duration
	// RecentWindow is how long rejected and cancelled alerts stay on dashboards.
	RecentWindow              time.Duration
	AllowCancelAfterConfirmed bool
	VerifyTimeout             time.Duration
	// SnapshotBaseURL prefixes image references that are not URLs.
	SnapshotBaseURL string
	// GuardGrace is how long a spam guard naming a not yet written alert
	// still counts as held.
	GuardGrace time.Duration
	// StoreTimeout bounds the writes done by background verification and
	// the writes that move an alert out of SENDING.
	StoreTimeout time.Duration
	// SendingTimeout is how long an alert may stay SENDING before cleanup
	// hands it back to CONFIRMED.
	SendingTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cooldown:                  10 * time.Minute,
		RecentWindow:              2 * time.Minute,
		AllowCancelAfterConfirmed: true,
		VerifyTimeout:             45 * time.Second,
		SnapshotBaseURL:           "http://127.0.0.1:8000",
		GuardGrace:                30 * time.Second,
		StoreTimeout:              10 * time.Second,
		SendingTimeout:            5 * time.Minute,
	}
}

// Coordinator owns the alert state machine. Every transition reads the
// alert, decides, and writes with the status it read as a condition, so a
// transition that lost a race is retried or dropped instead of applied.
type Coordinator struct {
	cfg       Config
	store     db.Store
	registry  Registry
	verifier  verify.Verifier
	sender    email.Sender
	publisher Publisher
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewCoordinator(cfg Config, store db.Store, reg Registry, verifier verify.Verifier, sender email.Sender) *Coordinator {
	def := DefaultConfig()
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = def.VerifyTimeout
	}
	if cfg.GuardGrace <= 0 {
		cfg.GuardGrace = def.GuardGrace
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.SendingTimeout <= 0 {
		cfg.SendingTimeout = def.SendingTimeout
	}
	cfg.SnapshotBaseURL = strings.TrimSuffix(cfg.SnapshotBaseURL, "/")
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		registry: reg,
		verifier: verifier,
		sender:   sender,
		now:      time.Now,
	}
}

// WithPublisher enables lifecycle events.
func (c *Coordinator) WithPublisher(p Publisher) *Coordinator {
	c.publisher = p
	return c
}

// Wait blocks until every background verification has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) nowMillis() int64 {
	return c.now().UnixMilli()
}

// ResolveImageReference turns a snapshot id into a URL on the snapshot service.
func (c *Coordinator) ResolveImageReference(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return c.cfg.SnapshotBaseURL + "/snapshots/" + strings.TrimPrefix(ref, "/")
}

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Submit creates a PENDING alert for the detection and starts its
// verification, or returns the active alert already held by the source.
func (c *Coordinator) Submit(ctx context.Context, d Detection) (*SubmitResult, error) {
	d.SourceID = strings.TrimSpace(d.SourceID)
	d.DetectionClass = strings.TrimSpace(d.DetectionClass)
	d.ImageReference = strings.TrimSpace(d.ImageReference)
	switch {
	case d.SourceID == "":
		metrics.AlertsSubmitted.WithLabelValues("invalid").Inc()
		return nil, validationErr("source id is required")
	case d.DetectionClass == "":
		metrics.AlertsSubmitted.WithLabelValues("invalid").Inc()
		return nil, validationErr("detection class is required")
	case d.ImageReference == "":
		metrics.AlertsSubmitted.WithLabelValues("invalid").Inc()
		return nil, validationErr("image reference is required")
	}

	src, err := c.registry.GetSource(ctx, d.SourceID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("source %q: %w", d.SourceID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	now := c.now()
	a := &Alert{
		ID:             c.store.NewID(),
		SourceID:       d.SourceID,
		SiteID:         src.SiteID,
		Status:         StatusPending,
		DetectionClass: d.DetectionClass,
		BoundingBox:    d.BoundingBox,
		ImageReference: c.ResolveImageReference(d.ImageReference),
		DetectedAt:     now.UnixMilli(),
		CreatedAt:      now.UnixMilli(),
	}
	if d.Confidence != nil {
		a.Confidence = *d.Confidence
	}
	if d.Timestamp != nil && !d.Timestamp.IsZero() {
		a.DetectedAt = d.Timestamp.UnixMilli()
	}

	for attempt := 0; attempt < maxGuardAttempts; attempt++ {
		err := c.store.Create(ctx, GuardsCollection, a.SourceID, db.Doc{
			"alert_id":   a.ID,
			"created_at": now.UnixMilli(),
		})
		if err == nil {
			return c.createAlert(ctx, a)
		}
		if !errors.Is(err, db.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to acquire spam guard for %s: %w", a.SourceID, err)
		}

		holder, held, err := c.inspectGuard(ctx, a.SourceID)
		if err != nil {
			return nil, err
		}
		if held {
			log.Infof("Source %s already has active alert %s", a.SourceID, holder)
			metrics.AlertsSubmitted.WithLabelValues("duplicate").Inc()
			return &SubmitResult{AlertID: holder, Duplicate: true}, nil
		}
		if holder != "" {
			log.Warnf("Replacing stale spam guard of source %s held by %s", a.SourceID, holder)
			c.releaseGuard(ctx, a.SourceID, holder)
		}
	}
	return nil, fmt.Errorf("failed to acquire spam guard for %s: too many concurrent detections", a.SourceID)
}

func (c *Coordinator) createAlert(ctx context.Context, a *Alert) (*SubmitResult, error) {
	doc, err := db.Encode(a)
	if err != nil {
		c.releaseGuard(ctx, a.SourceID, a.ID)
		return nil, err
	}
	if err := c.store.Create(ctx, AlertsCollection, a.ID, doc); err != nil {
		c.releaseGuard(ctx, a.SourceID, a.ID)
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}
	log.Infof("PENDING alert %s created for source %s", a.ID, a.SourceID)
	metrics.AlertsSubmitted.WithLabelValues("created").Inc()
	c.publish(EventCreated, a, StatusPending)

	c.wg.Add(1)
	go func(alertID, imageRef string) {
		defer c.wg.Done()
		c.runVerification(alertID, imageRef)
	}(a.ID, a.ImageReference)

	return &SubmitResult{AlertID: a.ID}, nil
}

// inspectGuard reports which alert holds the source guard and whether the
// hold is still valid. A guard disappearing meanwhile reports ("", false).
func (c *Coordinator) inspectGuard(ctx context.Context, sourceID string) (string, bool, error) {
	g, err := c.store.Get(ctx, GuardsCollection, sourceID)
	if errors.Is(err, db.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read spam guard for %s: %w", sourceID, err)
	}
	holder, _ := g["alert_id"].(string)
	if holder == "" {
		if _, err := c.store.Delete(ctx, GuardsCollection, sourceID); err != nil {
			return "", false, fmt.Errorf("failed to drop corrupt spam guard for %s: %w", sourceID, err)
		}
		return "", false, nil
	}
	a, err := c.load(ctx, holder)
	if errors.Is(err, ErrNotFound) {
		// The holder may still be writing its alert.
		age := c.now().Sub(time.UnixMilli(int64Field(g, "created_at")))
		return holder, age < c.cfg.GuardGrace, nil
	}
	if err != nil {
		return "", false, err
	}
	return holder, a.Status.Active(), nil
}

// releaseGuard removes the source guard if alertID still holds it.
func (c *Coordinator) releaseGuard(ctx context.Context, sourceID, alertID string) {
	g, err := c.store.Get(ctx, GuardsCollection, sourceID)
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		log.Errorf("Failed to read spam guard for %s: %v", sourceID, err)
		return
	}
	if holder, _ := g["alert_id"].(string); holder != alertID {
		return
	}
	if _, err := c.store.Delete(ctx, GuardsCollection, sourceID); err != nil {
		log.Errorf("Failed to release spam guard for %s: %v", sourceID, err)
	}
}

func int64Field(d db.Doc, field string) int64 {
	switch v := d[field].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func (c *Coordinator) runVerification(alertID, imageRef string) {
	vctx, cancel := context.WithTimeout(context.Background(), c.cfg.VerifyTimeout)
	start := time.Now()
	res, verr := c.safeVerify(vctx, imageRef)
	cancel()
	metrics.VerificationDurationSeconds.Observe(time.Since(start).Seconds())

	if verr != nil {
		log.Errorf("Verification of alert %s failed: %v", alertID, verr)
		res = verify.FailureResult(fmt.Errorf("verification failed: %w", verr), false)
	}
	if res == nil {
		res = verify.FailureResult(errors.New("verification returned no result"), false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()

	a, err := c.load(ctx, alertID)
	if errors.Is(err, ErrNotFound) {
		log.Infof("Alert %s is gone, discarding verification", alertID)
		metrics.Verifications.WithLabelValues("discarded").Inc()
		return
	}
	if err != nil {
		log.Errorf("Failed to re-read alert %s after verification: %v", alertID, err)
		return
	}
	if a.Status != StatusPending {
		log.Infof("Alert %s is %s, discarding verification", alertID, a.Status)
		metrics.Verifications.WithLabelValues("discarded").Inc()
		return
	}

	status, event, verdict := StatusRejected, EventRejected, "no_fire"
	if res.IsFire {
		status, event, verdict = StatusConfirmed, EventConfirmed, "fire"
	}
	if res.Failed {
		verdict = "failed"
	}
	resDoc, err := db.Encode(res)
	if err != nil {
		log.Errorf("Failed to encode verification of %s: %v", alertID, err)
		return
	}
	patch := db.Doc{"status": string(status), "verification": resDoc}
	if status == StatusRejected {
		patch["resolved_at"] = c.nowMillis()
	}
	err = c.update(ctx, alertID, patch, db.Eq("status", string(StatusPending)))
	if errors.Is(err, ErrNotFound) || errors.Is(err, db.ErrConflict) {
		log.Infof("Alert %s changed during verification, discarding: %v", alertID, err)
		metrics.Verifications.WithLabelValues("discarded").Inc()
		return
	}
	if err != nil {
		log.Errorf("Failed to store verification of %s: %v", alertID, err)
		return
	}
	metrics.Verifications.WithLabelValues(verdict).Inc()
	log.Infof("Alert %s verified: %s (score %.2f)", alertID, status, res.Score)

	if status == StatusRejected {
		c.releaseGuard(ctx, a.SourceID, a.ID)
	}
	c.publish(event, a, status)
}

func (c *Coordinator) safeVerify(ctx context.Context, imageRef string) (res *verify.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("verifier panic: %v", r)
		}
	}()
	return c.verifier.Verify(ctx, imageRef)
}

// Cancel marks the alert CANCELLED on behalf of actor. Alerts already in
// the notification path are left alone and reported as not accepted.
func (c *Coordinator) Cancel(ctx context.Context, alertID, actor string) (*CancelResult, error) {
	if strings.TrimSpace(actor) == "" {
		actor = "unknown_user"
	}
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		a, err := c.load(ctx, alertID)
		if err != nil {
			return nil, err
		}

		switch a.Status {
		case StatusPending, StatusRejected:
		case StatusConfirmed:
			if !c.cfg.AllowCancelAfterConfirmed {
				return &CancelResult{Reason: "Alert is already confirmed.", Status: a.Status}, nil
			}
		case StatusCancelled:
			return &CancelResult{Reason: "Alert is already cancelled.", Status: a.Status}, nil
		default:
			log.Warnf("Cannot cancel alert %s, status is already %s", alertID, a.Status)
			return &CancelResult{Reason: "Alert is already finalized.", Status: a.Status}, nil
		}

		now := c.nowMillis()
		err = c.update(ctx, alertID, db.Doc{
			"status":       string(StatusCancelled),
			"cancelled_by": actor,
			"cancelled_at": now,
			"resolved_at":  now,
		}, db.Eq("status", string(a.Status)))
		if errors.Is(err, db.ErrConflict) {
			log.Debugf("Alert %s left %s while cancelling, re-reading", alertID, a.Status)
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Infof("Alert %s cancelled by %s (was %s)", alertID, actor, a.Status)
		c.releaseGuard(ctx, a.SourceID, a.ID)
		c.publish(EventCancelled, a, StatusCancelled)
		return &CancelResult{Accepted: true, Status: StatusCancelled}, nil
	}
	return nil, fmt.Errorf("failed to cancel alert %s: status kept changing", alertID)
}

// ConfirmAndSend is the gate run after the client countdown. Only a
// CONFIRMED alert sends notifications; resolved alerts are deleted.
func (c *Coordinator) ConfirmAndSend(ctx context.Context, alertID string) (*GateResult, error) {
	res, err := c.confirmAndSend(ctx, alertID)
	if res != nil {
		metrics.GateOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	}
	return res, err
}

func (c *Coordinator) confirmAndSend(ctx context.Context, alertID string) (*GateResult, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		a, err := c.load(ctx, alertID)
		if errors.Is(err, ErrNotFound) {
			return &GateResult{Outcome: OutcomeNotFound, AlertID: alertID}, nil
		}
		if err != nil {
			return nil, err
		}

		switch a.Status {
		case StatusCancelled, StatusRejected:
			if _, err := c.deleteAlert(ctx, a); err != nil {
				return nil, err
			}
			outcome := OutcomeCancelled
			if a.Status == StatusRejected {
				outcome = OutcomeRejected
			}
			log.Infof("Alert %s was %s, deleted", alertID, a.Status)
			return &GateResult{Outcome: outcome, AlertID: alertID, Status: a.Status}, nil
		case StatusSending, StatusNotifiedCooldown:
			return &GateResult{Outcome: OutcomeAlreadyProcessed, AlertID: alertID, Status: a.Status}, nil
		case StatusConfirmed:
		default:
			log.Infof("Alert %s is not yet confirmed (%s), caller should retry", alertID, a.Status)
			return &GateResult{Outcome: OutcomePendingRetry, AlertID: alertID, Status: a.Status}, nil
		}

		err = c.update(ctx, alertID, db.Doc{
			"status":     string(StatusSending),
			"error":      nil,
			"sending_at": c.nowMillis(),
		}, db.Eq("status", string(StatusConfirmed)))
		if errors.Is(err, db.ErrConflict) {
			log.Debugf("Alert %s left CONFIRMED before sending, re-reading", alertID)
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return &GateResult{Outcome: OutcomeNotFound, AlertID: alertID}, nil
		}
		if err != nil {
			return nil, err
		}
		return c.deliver(ctx, a)
	}
	return nil, fmt.Errorf("failed to confirm alert %s: status kept changing", alertID)
}

// deliver sends the notifications of an alert this call moved to SENDING
// and moves it on to NOTIFIED_COOLDOWN, or back to CONFIRMED on failure.
func (c *Coordinator) deliver(ctx context.Context, a *Alert) (*GateResult, error) {
	sent, sendErr := c.sendNotifications(ctx, a)

	// Leaving SENDING must not depend on the caller still waiting.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)
	defer cancel()
	fromSending := db.Eq("status", string(StatusSending))

	if sendErr == nil {
		now := c.now()
		sent.SentAt = now.UnixMilli()
		notifications, err := db.Encode(sent)
		if err == nil {
			err = c.update(wctx, a.ID, db.Doc{
				"status":              string(StatusNotifiedCooldown),
				"cooldown_expires_at": now.Add(c.cfg.Cooldown).UnixMilli(),
				"resolved_at":         now.UnixMilli(),
				"sending_at":          nil,
				"notifications":       notifications,
			}, fromSending)
		}
		if err == nil {
			log.Infof("Notifications sent for alert %s, cooldown until %s", a.ID, now.Add(c.cfg.Cooldown).Format(time.RFC3339))
			c.publish(EventNotified, a, StatusNotifiedCooldown)
			return &GateResult{Outcome: OutcomeConfirmedSent, AlertID: a.ID, Status: StatusNotifiedCooldown}, nil
		}
		sendErr = fmt.Errorf("notifications sent but cooldown not recorded: %w", err)
	}

	log.Errorf("Notification for alert %s failed, rolling back: %v", a.ID, sendErr)
	if err := c.update(wctx, a.ID, db.Doc{
		"status":     string(StatusConfirmed),
		"error":      "Failed to send notifications: " + sendErr.Error(),
		"sending_at": nil,
	}, fromSending); err != nil {
		return nil, fmt.Errorf("failed to roll back alert %s after %v: %w", a.ID, sendErr, err)
	}
	c.publish(EventSendFailed, a, StatusConfirmed)
	return &GateResult{
		Outcome: OutcomeFailed,
		AlertID: a.ID,
		Status:  StatusConfirmed,
		Error:   sendErr.Error(),
	}, nil
}

func (c *Coordinator) sendNotifications(ctx context.Context, a *Alert) (sent *Notifications, err error) {
	defer func() {
		if r := recover(); r != nil {
			sent, err = nil, fmt.Errorf("panic while sending notifications: %v", r)
		}
	}()

	site, err := c.registry.GetSite(ctx, a.SiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load site %s: %w", a.SiteID, err)
	}
	if site.OwnerEmail == "" {
		return nil, fmt.Errorf("site %s has no owner email", site.ID)
	}
	ownerName := ""
	if u, err := c.registry.GetUser(ctx, site.OwnerEmail); err == nil {
		ownerName = u.Name
	} else if !errors.Is(err, registry.ErrNotFound) {
		log.Warnf("Failed to load owner %s: %v", site.OwnerEmail, err)
	}

	details := email.AlertDetails{
		Address:        site.Address,
		DetectionClass: a.DetectionClass,
		OwnerName:      ownerName,
		OwnerEmail:     site.OwnerEmail,
	}
	if site.Coords != nil {
		details.MapsURL = email.MapsLink(site.Coords.Lat, site.Coords.Lng)
	}
	if a.Verification == nil || !a.Verification.Sensitive {
		details.ImageURL = a.ImageReference
		if a.LatestImageReference != "" {
			details.ImageURL = a.LatestImageReference
		}
	}

	if err := c.sender.Send(ctx, email.OwnerAlert(site.OwnerEmail, details)); err != nil {
		return nil, fmt.Errorf("owner notification: %w", err)
	}
	sent = &Notifications{OwnerSent: true}

	if responder := c.resolveResponder(ctx, site); responder != nil {
		if err := c.sender.Send(ctx, email.ResponderAlert(responder.Email, details)); err != nil {
			return nil, fmt.Errorf("responder notification: %w", err)
		}
		sent.ResponderSent = true
		sent.ResponderID = responder.ID
	}
	return sent, nil
}

// resolveResponder prefers the site's assigned responder and falls back
// to the nearest one. Responders without an email are skipped.
func (c *Coordinator) resolveResponder(ctx context.Context, site *registry.Site) *registry.Responder {
	if site.ResponderID != "" {
		r, err := c.registry.GetResponder(ctx, site.ResponderID)
		if err == nil && r.Email != "" {
			return r
		}
		log.Warnf("Assigned responder %s of site %s is unusable: %v", site.ResponderID, site.ID, err)
	}
	if site.Coords == nil {
		return nil
	}
	r, err := c.registry.NearestResponder(ctx, *site.Coords)
	if err != nil {
		log.Warnf("Failed to find nearest responder for site %s: %v", site.ID, err)
		return nil
	}
	if r == nil || r.Email == "" {
		return nil
	}
	return r
}

// CleanupExpired deletes every alert whose cooldown has expired and hands
// alerts stuck in SENDING back to CONFIRMED. It keeps going past
// individual failures and reports them together. Only alerts this call
// removed are counted.
func (c *Coordinator) CleanupExpired(ctx context.Context) (int, error) {
	var errs []error
	if err := c.recoverStuckSending(ctx); err != nil {
		errs = append(errs, err)
	}

	docs, err := c.store.Query(ctx, AlertsCollection, db.Lte("cooldown_expires_at", c.nowMillis()))
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to query expired alerts: %w", err))
		return 0, errors.Join(errs...)
	}
	deleted := 0
	for _, a := range decodeAlerts(docs) {
		removed, err := c.deleteAlert(ctx, &a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			deleted++
		}
	}
	if deleted > 0 {
		log.Infof("Cleaned up %d expired alert(s)", deleted)
	}
	metrics.CleanupDeleted.Add(float64(deleted))
	return deleted, errors.Join(errs...)
}

func (c *Coordinator) recoverStuckSending(ctx context.Context) error {
	cutoff := c.now().Add(-c.cfg.SendingTimeout).UnixMilli()
	docs, err := c.store.Query(ctx, AlertsCollection,
		db.Eq("status", string(StatusSending)), db.Lte("sending_at", cutoff))
	if err != nil {
		return fmt.Errorf("failed to query alerts stuck in SENDING: %w", err)
	}
	var errs []error
	for _, a := range decodeAlerts(docs) {
		err := c.update(ctx, a.ID, db.Doc{
			"status":     string(StatusConfirmed),
			"error":      "Notification did not finish, confirm again to retry.",
			"sending_at": nil,
		}, db.Eq("status", string(StatusSending)), db.Eq("sending_at", a.SendingAt))
		if errors.Is(err, ErrNotFound) || errors.Is(err, db.ErrConflict) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		log.Warnf("Alert %s was SENDING since %s, back to CONFIRMED",
			a.ID, time.UnixMilli(a.SendingAt).UTC().Format(time.RFC3339))
		c.publish(EventSendFailed, &a, StatusConfirmed)
	}
	return errors.Join(errs...)
}

// deleteAlert reports whether this call removed the alert. The guard is
// released and the event published only by the call that removed it.
func (c *Coordinator) deleteAlert(ctx context.Context, a *Alert) (bool, error) {
	removed, err := c.store.Delete(ctx, AlertsCollection, a.ID)
	if err != nil {
		return false, fmt.Errorf("failed to delete alert %s: %w", a.ID, err)
	}
	if !removed {
		return false, nil
	}
	c.releaseGuard(ctx, a.SourceID, a.ID)
	c.publish(EventDeleted, a, a.Status)
	return true, nil
}

func (c *Coordinator) load(ctx context.Context, alertID string) (*Alert, error) {
	if strings.TrimSpace(alertID) == "" {
		return nil, fmt.Errorf("alert %q: %w", alertID, ErrNotFound)
	}
	d, err := c.store.Get(ctx, AlertsCollection, alertID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("alert %q: %w", alertID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var a Alert
	if err := db.Decode(d, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// update merge-patches an existing alert. A deleted alert is never
// recreated. Unmet conditions surface as db.ErrConflict.
func (c *Coordinator) update(ctx context.Context, alertID string, patch db.Doc, conds ...db.Filter) error {
	err := c.store.Update(ctx, AlertsCollection, alertID, patch, conds...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("alert %q: %w", alertID, ErrNotFound)
	case errors.Is(err, db.ErrConflict):
		return fmt.Errorf("alert %q changed concurrently: %w", alertID, err)
	}
	return fmt.Errorf("failed to update alert %s: %w", alertID, err)
}

func (c *Coordinator) publish(eventType string, a *Alert, status Status) {
	if c.publisher == nil {
		return
	}
	ev := Event{
		Type:     eventType,
		AlertID:  a.ID,
		SourceID: a.SourceID,
		SiteID:   a.SiteID,
		Status:   status,
		At:       c.nowMillis(),
	}
	if err := c.publisher.PublishWithRoutingKey(eventType, ev); err != nil {
		log.Warnf("Failed to publish %s for alert %s: %v", eventType, a.ID, err)
	}
}
