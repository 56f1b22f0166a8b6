package registry

import (
	"context"
	"testing"

	"firealert/backend/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, *db.MemStore) {
	store := db.NewMemStore()
	return New(store), store
}

func TestRegisterUserKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()

	first, err := r.RegisterUser(ctx, "Ann", " Ann@Example.com ", "")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", first.Email)
	assert.Equal(t, "owner", first.Role)

	second, err := r.RegisterUser(ctx, "Ann B", "ann@example.com", "owner")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	u, err := r.GetUser(ctx, "ANN@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ann B", u.Name)
	assert.Equal(t, first.CreatedAt, u.CreatedAt)

	_, err = r.RegisterUser(ctx, "x", "not-an-email", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegisterSiteAssignsNearestResponder(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()

	// no responders yet: site gets none
	lonely, err := r.RegisterSite(ctx, SiteInput{OwnerEmail: "owner@example.com", Address: "1 Main St", Coords: &Coords{Lat: 0, Lng: 1}})
	require.NoError(t, err)
	assert.Empty(t, lonely.ResponderID)

	near, err := r.RegisterResponder(ctx, ResponderInput{Name: "Station 1", Email: "s1@example.com", Coords: &Coords{Lat: 0, Lng: 0}})
	require.NoError(t, err)
	_, err = r.RegisterResponder(ctx, ResponderInput{Name: "Station 2", Email: "s2@example.com", Coords: &Coords{Lat: 10, Lng: 10}})
	require.NoError(t, err)

	site, err := r.RegisterSite(ctx, SiteInput{
		OwnerEmail:      "Owner@Example.com",
		Address:         "2 Main St",
		Coords:          &Coords{Lat: 0, Lng: 1},
		MonitorPassword: "hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, near.ID, site.ResponderID)
	assert.Equal(t, "owner@example.com", site.OwnerEmail)
	assert.True(t, site.MonitoringEnabled)
	assert.NotEqual(t, "hunter2", site.MonitorPasswordHash)

	// the assignment is not recomputed later
	stored, err := r.GetSite(ctx, lonely.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ResponderID)

	byOwner, err := r.SitesByOwner(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.Len(t, byOwner, 2)

	byResponder, err := r.SitesByResponder(ctx, near.ID)
	require.NoError(t, err)
	require.Len(t, byResponder, 1)
	assert.Equal(t, site.ID, byResponder[0].ID)

	bulk, err := r.SitesByResponders(ctx, []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", near.ID})
	require.NoError(t, err)
	assert.Len(t, bulk, 1)
}

func TestVerifySitePassword(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()

	withPw, err := r.RegisterSite(ctx, SiteInput{OwnerEmail: "o@example.com", MonitorPassword: "secret"})
	require.NoError(t, err)
	withoutPw, err := r.RegisterSite(ctx, SiteInput{OwnerEmail: "o@example.com"})
	require.NoError(t, err)

	ok, err := r.VerifySitePassword(ctx, withPw.ID, "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.VerifySitePassword(ctx, withPw.ID, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.VerifySitePassword(ctx, withoutPw.ID, "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.VerifySitePassword(ctx, "missing", "secret")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSourcesAndDeleteSite(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry()

	site, err := r.RegisterSite(ctx, SiteInput{OwnerEmail: "o@example.com", Address: "1 Main St"})
	require.NoError(t, err)
	other, err := r.RegisterSite(ctx, SiteInput{OwnerEmail: "o@example.com", Address: "2 Main St"})
	require.NoError(t, err)

	cam1, err := r.RegisterSource(ctx, SourceInput{SiteID: site.ID, Label: "kitchen"})
	require.NoError(t, err)
	assert.Equal(t, "rtsp", cam1.StreamType)
	_, err = r.RegisterSource(ctx, SourceInput{SiteID: site.ID, Label: "garage", StreamType: "usb"})
	require.NoError(t, err)
	keep, err := r.RegisterSource(ctx, SourceInput{SiteID: other.ID, Label: "porch"})
	require.NoError(t, err)

	_, err = r.RegisterSource(ctx, SourceInput{SiteID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.RegisterSource(ctx, SourceInput{})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := r.GetSource(ctx, cam1.ID)
	require.NoError(t, err)
	assert.Equal(t, site.ID, got.SiteID)

	require.NoError(t, r.DeleteSite(ctx, site.ID))

	_, err = r.GetSite(ctx, site.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	left, err := store.Query(ctx, SourcesCollection)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, keep.ID, left[0].ID())

	assert.ErrorIs(t, r.DeleteSite(ctx, site.ID), ErrNotFound)
}

func TestSourcesByOwnerAndDeleteSource(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()

	var mine []string
	// more sites than one membership query accepts
	for i := 0; i < db.MaxInValues+2; i++ {
		site, err := r.RegisterSite(ctx, SiteInput{OwnerEmail: "O@Example.com", Address: "Main St"})
		require.NoError(t, err)
		src, err := r.RegisterSource(ctx, SourceInput{SiteID: site.ID, Label: "cam"})
		require.NoError(t, err)
		mine = append(mine, src.ID)
	}
	stranger, err := r.RegisterSite(ctx, SiteInput{OwnerEmail: "x@example.com", Address: "Elm St"})
	require.NoError(t, err)
	_, err = r.RegisterSource(ctx, SourceInput{SiteID: stranger.ID, Label: "porch"})
	require.NoError(t, err)

	got, err := r.SourcesByOwner(ctx, "o@example.com")
	require.NoError(t, err)
	var ids []string
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, mine, ids)

	none, err := r.SourcesByOwner(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, r.DeleteSource(ctx, mine[0]))
	_, err = r.GetSource(ctx, mine[0])
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.DeleteSource(ctx, mine[0]), ErrNotFound)
}
