package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"firealert/backend/db"
	"firealert/backend/registry"

	"github.com/apex/log"
)

// SiteAlerts groups a responder's site with its alerts.
type SiteAlerts struct {
	Site   registry.Site `json:"site"`
	Alerts []Alert       `json:"alerts"`
}

func decodeAlerts(docs []db.Doc) []Alert {
	out := make([]Alert, 0, len(docs))
	for _, d := range docs {
		var a Alert
		if err := db.Decode(d, &a); err != nil {
			log.Warnf("Skipping alert %s: %v", d.ID(), err)
			continue
		}
		out = append(out, a)
	}
	return out
}

// newestFirst orders alerts by creation time, newest first.
func newestFirst(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt > alerts[j].CreatedAt
	})
}

func siteIDs(sites []registry.Site) []string {
	ids := make([]string, 0, len(sites))
	for _, s := range sites {
		ids = append(ids, s.ID)
	}
	return ids
}

func (c *Coordinator) Get(ctx context.Context, alertID string) (*Alert, error) {
	return c.load(ctx, alertID)
}

func (c *Coordinator) ownerSiteIDs(ctx context.Context, ownerEmail string) ([]string, error) {
	sites, err := c.registry.SitesByOwner(ctx, ownerEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to load sites of %s: %w", ownerEmail, err)
	}
	return siteIDs(sites), nil
}

// ActiveAlerts returns the active alerts of every site the owner has.
func (c *Coordinator) ActiveAlerts(ctx context.Context, ownerEmail string) ([]Alert, error) {
	ids, err := c.ownerSiteIDs(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}
	docs, err := db.QueryIn(ctx, c.store, AlertsCollection, "site_id", ids,
		db.In("status", statusValues(ActiveStatuses...)...))
	if err != nil {
		return nil, err
	}
	alerts := decodeAlerts(docs)
	newestFirst(alerts)
	return alerts, nil
}

// DashboardAlerts returns the owner's active alerts plus the rejected and
// cancelled ones created within the recent window.
func (c *Coordinator) DashboardAlerts(ctx context.Context, ownerEmail string) ([]Alert, error) {
	ids, err := c.ownerSiteIDs(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}
	active, err := db.QueryIn(ctx, c.store, AlertsCollection, "site_id", ids,
		db.In("status", statusValues(ActiveStatuses...)...))
	if err != nil {
		return nil, err
	}
	cutoff := c.now().Add(-c.cfg.RecentWindow).UnixMilli()
	recent, err := db.QueryIn(ctx, c.store, AlertsCollection, "site_id", ids,
		db.In("status", statusValues(StatusRejected, StatusCancelled)...),
		db.Gte("created_at", cutoff))
	if err != nil {
		return nil, err
	}
	alerts := decodeAlerts(append(active, recent...))
	newestFirst(alerts)
	return alerts, nil
}

// ResponderDashboard lists the responder's assigned sites with their
// confirmed or notified alerts.
func (c *Coordinator) ResponderDashboard(ctx context.Context, responderID string) ([]SiteAlerts, error) {
	if _, err := c.registry.GetResponder(ctx, responderID); err != nil {
		return nil, err
	}
	sites, err := c.registry.SitesByResponder(ctx, responderID)
	if err != nil {
		return nil, err
	}
	docs, err := db.QueryIn(ctx, c.store, AlertsCollection, "site_id", siteIDs(sites),
		db.In("status", statusValues(StatusConfirmed, StatusSending, StatusNotifiedCooldown)...))
	if err != nil {
		return nil, err
	}
	bySite := make(map[string][]Alert)
	for _, a := range decodeAlerts(docs) {
		bySite[a.SiteID] = append(bySite[a.SiteID], a)
	}
	out := make([]SiteAlerts, 0, len(sites))
	for _, s := range sites {
		alerts := bySite[s.ID]
		if alerts == nil {
			alerts = []Alert{}
		}
		newestFirst(alerts)
		out = append(out, SiteAlerts{Site: s, Alerts: alerts})
	}
	return out, nil
}

// UpdateImage records a newer snapshot for an active alert. The original
// image reference is kept.
func (c *Coordinator) UpdateImage(ctx context.Context, alertID, imageRef string) (string, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return "", validationErr("image reference is required")
	}
	a, err := c.load(ctx, alertID)
	if err != nil {
		return "", err
	}
	if !a.Status.Active() {
		return "", fmt.Errorf("alert %s is %s: %w", alertID, a.Status, ErrNotActive)
	}
	url := c.ResolveImageReference(imageRef)
	err = c.update(ctx, alertID, db.Doc{
		"latest_image_reference": url,
		"image_updated_at":       c.nowMillis(),
	}, db.In("status", statusValues(ActiveStatuses...)...))
	if errors.Is(err, db.ErrConflict) {
		return "", fmt.Errorf("alert %s is no longer active: %w", alertID, ErrNotActive)
	}
	if err != nil {
		return "", err
	}
	log.Debugf("Alert %s image updated to %s", alertID, url)
	return url, nil
}
