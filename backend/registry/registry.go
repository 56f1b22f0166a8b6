package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"firealert/backend/db"
	"firealert/backend/util"

	"github.com/apex/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	UsersCollection      = "users"
	RespondersCollection = "responders"
	SitesCollection      = "sites"
	SourcesCollection    = "sources"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

type Coords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// User is keyed by normalized email.
type User struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// Responder is an emergency service that receives alerts for nearby sites.
type Responder struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Phone     string  `json:"phone,omitempty"`
	Address   string  `json:"address,omitempty"`
	Coords    *Coords `json:"coords,omitempty"`
	CreatedAt int64   `json:"created_at,omitempty"`
}

// Site is a monitored property. OwnerEmail is the owner's normalized email.
type Site struct {
	ID                  string  `json:"id"`
	OwnerEmail          string  `json:"owner_email"`
	Address             string  `json:"address"`
	Coords              *Coords `json:"coords,omitempty"`
	ResponderID         string  `json:"responder_id,omitempty"`
	MonitoringEnabled   bool    `json:"monitoring_enabled"`
	MonitorPasswordHash string  `json:"monitor_password_hash,omitempty"`
	CreatedAt           int64   `json:"created_at,omitempty"`
}

// Source is a camera or sensor attached to a site.
type Source struct {
	ID         string `json:"id"`
	SiteID     string `json:"site_id"`
	Label      string `json:"label"`
	Stream     string `json:"stream,omitempty"`
	StreamType string `json:"stream_type"`
	CreatedAt  int64  `json:"created_at,omitempty"`
}

type Registry struct {
	store db.Store
	now   func() time.Time
}

func New(store db.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func (r *Registry) get(ctx context.Context, collection, id string, out interface{}) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s %q: %w", collection, id, ErrNotFound)
	}
	d, err := r.store.Get(ctx, collection, id)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%s %q: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return db.Decode(d, out)
}

func (r *Registry) put(ctx context.Context, collection, id string, v interface{}) error {
	d, err := db.Encode(v)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, collection, id, d, false)
}

// RegisterUser creates or updates a user, keeping the original creation time.
func (r *Registry) RegisterUser(ctx context.Context, name, email, role string) (*User, error) {
	safeEmail, err := util.NormalizeEmail(email)
	if err != nil {
		return nil, validationErr("%v", err)
	}
	if role == "" {
		role = "owner"
	}
	patch := db.Doc{"email": safeEmail, "name": name, "role": role}
	existing, err := r.GetUser(ctx, safeEmail)
	switch {
	case errors.Is(err, ErrNotFound):
		patch["created_at"] = r.now().UnixMilli()
	case err != nil:
		return nil, err
	}
	if err := r.store.Set(ctx, UsersCollection, safeEmail, patch, true); err != nil {
		return nil, fmt.Errorf("failed to register user %s: %w", safeEmail, err)
	}
	u := &User{Email: safeEmail, Name: name, Role: role}
	if existing != nil {
		u.CreatedAt = existing.CreatedAt
	} else {
		u.CreatedAt = patch["created_at"].(int64)
	}
	return u, nil
}

func (r *Registry) GetUser(ctx context.Context, email string) (*User, error) {
	safeEmail, err := util.NormalizeEmail(email)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", email, ErrNotFound)
	}
	var u User
	if err := r.get(ctx, UsersCollection, safeEmail, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

type ResponderInput struct {
	Name    string
	Email   string
	Phone   string
	Address string
	Coords  *Coords
}

// RegisterResponder stores a responder and its contact user with the provider role.
func (r *Registry) RegisterResponder(ctx context.Context, in ResponderInput) (*Responder, error) {
	safeEmail, err := util.NormalizeEmail(in.Email)
	if err != nil {
		return nil, validationErr("%v", err)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, validationErr("responder name is required")
	}
	if _, err := r.RegisterUser(ctx, in.Name, safeEmail, "provider"); err != nil {
		return nil, err
	}
	resp := &Responder{
		ID:        r.store.NewID(),
		Name:      in.Name,
		Email:     safeEmail,
		Phone:     in.Phone,
		Address:   in.Address,
		Coords:    in.Coords,
		CreatedAt: r.now().UnixMilli(),
	}
	if err := r.put(ctx, RespondersCollection, resp.ID, resp); err != nil {
		return nil, fmt.Errorf("failed to register responder: %w", err)
	}
	log.Infof("Registered responder %s (%s)", resp.ID, resp.Email)
	return resp, nil
}

func (r *Registry) GetResponder(ctx context.Context, id string) (*Responder, error) {
	var resp Responder
	if err := r.get(ctx, RespondersCollection, id, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *Registry) ListResponders(ctx context.Context) ([]Responder, error) {
	docs, err := r.store.Query(ctx, RespondersCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to list responders: %w", err)
	}
	out := make([]Responder, 0, len(docs))
	for _, d := range docs {
		var resp Responder
		if err := db.Decode(d, &resp); err != nil {
			log.Warnf("Skipping responder %s: %v", d.ID(), err)
			continue
		}
		out = append(out, resp)
	}
	return out, nil
}

// NearestResponder scans every registered responder.
func (r *Registry) NearestResponder(ctx context.Context, point Coords) (*Responder, error) {
	responders, err := r.ListResponders(ctx)
	if err != nil {
		return nil, err
	}
	return FindNearest(responders, point), nil
}

type SiteInput struct {
	OwnerEmail      string
	Address         string
	Coords          *Coords
	MonitorPassword string
}

// RegisterSite stores a site and assigns the nearest responder once.
func (r *Registry) RegisterSite(ctx context.Context, in SiteInput) (*Site, error) {
	safeEmail, err := util.NormalizeEmail(in.OwnerEmail)
	if err != nil {
		return nil, validationErr("%v", err)
	}
	site := &Site{
		ID:                r.store.NewID(),
		OwnerEmail:        safeEmail,
		Address:           in.Address,
		Coords:            in.Coords,
		MonitoringEnabled: true,
		CreatedAt:         r.now().UnixMilli(),
	}
	if in.MonitorPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.MonitorPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash monitor password: %w", err)
		}
		site.MonitorPasswordHash = string(hash)
	}
	if in.Coords != nil {
		nearest, err := r.NearestResponder(ctx, *in.Coords)
		if err != nil {
			return nil, err
		}
		if nearest != nil {
			site.ResponderID = nearest.ID
		}
	}
	if err := r.put(ctx, SitesCollection, site.ID, site); err != nil {
		return nil, fmt.Errorf("failed to register site: %w", err)
	}
	log.Infof("Registered site %s for %s, responder %q", site.ID, safeEmail, site.ResponderID)
	return site, nil
}

func (r *Registry) GetSite(ctx context.Context, id string) (*Site, error) {
	var s Site
	if err := r.get(ctx, SitesCollection, id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// VerifySitePassword reports whether password matches the site's monitor
// password. A site without a password never matches.
func (r *Registry) VerifySitePassword(ctx context.Context, siteID, password string) (bool, error) {
	site, err := r.GetSite(ctx, siteID)
	if err != nil {
		return false, err
	}
	if site.MonitorPasswordHash == "" {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(site.MonitorPasswordHash), []byte(password)) == nil, nil
}

func (r *Registry) querySites(ctx context.Context, filters ...db.Filter) ([]Site, error) {
	docs, err := r.store.Query(ctx, SitesCollection, filters...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	return decodeSites(docs), nil
}

func decodeSites(docs []db.Doc) []Site {
	out := make([]Site, 0, len(docs))
	for _, d := range docs {
		var s Site
		if err := db.Decode(d, &s); err != nil {
			log.Warnf("Skipping site %s: %v", d.ID(), err)
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *Registry) SitesByOwner(ctx context.Context, ownerEmail string) ([]Site, error) {
	safeEmail, err := util.NormalizeEmail(ownerEmail)
	if err != nil {
		return nil, validationErr("%v", err)
	}
	return r.querySites(ctx, db.Eq("owner_email", safeEmail))
}

func (r *Registry) SitesByResponder(ctx context.Context, responderID string) ([]Site, error) {
	return r.querySites(ctx, db.Eq("responder_id", responderID))
}

// SitesByResponders returns the sites assigned to any of the responders.
func (r *Registry) SitesByResponders(ctx context.Context, responderIDs []string) ([]Site, error) {
	docs, err := db.QueryIn(ctx, r.store, SitesCollection, "responder_id", responderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	return decodeSites(docs), nil
}

// DeleteSite removes the site's sources one by one and then the site. The cascade
// is not transactional: a failure leaves the remaining sources behind.
func (r *Registry) DeleteSite(ctx context.Context, siteID string) error {
	if _, err := r.GetSite(ctx, siteID); err != nil {
		return err
	}
	sources, err := r.SourcesBySite(ctx, siteID)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if _, err := r.store.Delete(ctx, SourcesCollection, src.ID); err != nil {
			return fmt.Errorf("failed to delete source %s of site %s: %w", src.ID, siteID, err)
		}
	}
	if _, err := r.store.Delete(ctx, SitesCollection, siteID); err != nil {
		return fmt.Errorf("failed to delete site %s: %w", siteID, err)
	}
	log.Infof("Deleted site %s and %d source(s)", siteID, len(sources))
	return nil
}

type SourceInput struct {
	SiteID     string
	Label      string
	Stream     string
	StreamType string
}

func (r *Registry) RegisterSource(ctx context.Context, in SourceInput) (*Source, error) {
	if strings.TrimSpace(in.SiteID) == "" {
		return nil, validationErr("site id is required")
	}
	if _, err := r.GetSite(ctx, in.SiteID); err != nil {
		return nil, err
	}
	if in.StreamType == "" {
		in.StreamType = "rtsp"
	}
	src := &Source{
		ID:         r.store.NewID(),
		SiteID:     in.SiteID,
		Label:      in.Label,
		Stream:     in.Stream,
		StreamType: in.StreamType,
		CreatedAt:  r.now().UnixMilli(),
	}
	if err := r.put(ctx, SourcesCollection, src.ID, src); err != nil {
		return nil, fmt.Errorf("failed to register source: %w", err)
	}
	return src, nil
}

func (r *Registry) GetSource(ctx context.Context, id string) (*Source, error) {
	var s Source
	if err := r.get(ctx, SourcesCollection, id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Registry) SourcesBySite(ctx context.Context, siteID string) ([]Source, error) {
	docs, err := r.store.Query(ctx, SourcesCollection, db.Eq("site_id", siteID))
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	return decodeSources(docs), nil
}

// SourcesByOwner lists the sources of every site the owner has. Owners
// with many sites are queried in chunks.
func (r *Registry) SourcesByOwner(ctx context.Context, ownerEmail string) ([]Source, error) {
	sites, err := r.SitesByOwner(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}
	siteIDs := make([]string, 0, len(sites))
	for _, s := range sites {
		siteIDs = append(siteIDs, s.ID)
	}
	docs, err := db.QueryIn(ctx, r.store, SourcesCollection, "site_id", siteIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	return decodeSources(docs), nil
}

func (r *Registry) DeleteSource(ctx context.Context, id string) error {
	removed, err := r.store.Delete(ctx, SourcesCollection, id)
	if err != nil {
		return fmt.Errorf("failed to delete source %s: %w", id, err)
	}
	if !removed {
		return fmt.Errorf("%s %q: %w", SourcesCollection, id, ErrNotFound)
	}
	log.Infof("Deleted source %s", id)
	return nil
}

func decodeSources(docs []db.Doc) []Source {
	out := make([]Source, 0, len(docs))
	for _, d := range docs {
		var s Source
		if err := db.Decode(d, &s); err != nil {
			log.Warnf("Skipping source %s: %v", d.ID(), err)
			continue
		}
		out = append(out, s)
	}
	return out
}
