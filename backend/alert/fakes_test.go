package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firealert/backend/db"
	"firealert/backend/email"
	"firealert/backend/registry"
	"firealert/backend/verify"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeVerifier struct {
	mu       sync.Mutex
	result   *verify.Result
	err      error
	panicMsg string
	// release, when set, blocks every call until it is closed.
	release chan struct{}
	started chan string
	refs    []string
}

func (f *fakeVerifier) Verify(_ context.Context, imageRef string) (*verify.Result, error) {
	f.mu.Lock()
	f.refs = append(f.refs, imageRef)
	release, started := f.release, f.started
	res, err, panicMsg := f.result, f.err, f.panicMsg
	f.mu.Unlock()

	if started != nil {
		started <- imageRef
	}
	if release != nil {
		<-release
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	return res, err
}

func (f *fakeVerifier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refs)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []email.Message
	// fail returns the error for a message, nil to deliver it.
	fail func(email.Message) error
}

func (f *fakeSender) Send(_ context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(msg); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []email.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]email.Message(nil), f.sent...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (f *fakePublisher) PublishWithRoutingKey(routingKey string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := message.(Event)
	if ev.Type != routingKey {
		return errors.New("routing key does not match event type")
	}
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

// hookStore behaves like the networked stores: calls fail once their
// context is done. beforeUpdate runs ahead of every Update.
type hookStore struct {
	*db.MemStore
	mu           sync.Mutex
	beforeUpdate func(patch db.Doc) error
}

func (s *hookStore) setBeforeUpdate(fn func(patch db.Doc) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeUpdate = fn
}

func (s *hookStore) Get(ctx context.Context, collection, id string) (db.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemStore.Get(ctx, collection, id)
}

func (s *hookStore) Set(ctx context.Context, collection, id string, doc db.Doc, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemStore.Set(ctx, collection, id, doc, merge)
}

func (s *hookStore) Update(ctx context.Context, collection, id string, patch db.Doc, conds ...db.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	hook := s.beforeUpdate
	s.mu.Unlock()
	if hook != nil {
		if err := hook(patch); err != nil {
			return err
		}
	}
	return s.MemStore.Update(ctx, collection, id, patch, conds...)
}

func (s *hookStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.MemStore.Delete(ctx, collection, id)
}

type fixture struct {
	store     *db.MemStore
	reg       *registry.Registry
	verifier  *fakeVerifier
	sender    *fakeSender
	events    *fakePublisher
	c         *Coordinator
	site      *registry.Site
	source    *registry.Source
	responder *registry.Responder
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:    db.NewMemStore(),
		verifier: &fakeVerifier{result: &verify.Result{IsFire: true, Score: 0.9, Rationale: "flames"}},
		sender:   &fakeSender{},
		events:   &fakePublisher{},
	}
	f.reg = registry.New(f.store)

	_, err := f.reg.RegisterUser(ctx, "Ann", "owner@example.com", "owner")
	require.NoError(t, err)
	f.responder, err = f.reg.RegisterResponder(ctx, registry.ResponderInput{
		Name:   "Station 1",
		Email:  "station@example.com",
		Coords: &registry.Coords{Lat: 0, Lng: 0},
	})
	require.NoError(t, err)
	f.site, err = f.reg.RegisterSite(ctx, registry.SiteInput{
		OwnerEmail: "owner@example.com",
		Address:    "1 Main St",
		Coords:     &registry.Coords{Lat: 0, Lng: 1},
	})
	require.NoError(t, err)
	f.source, err = f.reg.RegisterSource(ctx, registry.SourceInput{SiteID: f.site.ID, Label: "kitchen"})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.SnapshotBaseURL = "http://snapshots.local/"
	for _, o := range opts {
		o(&cfg)
	}
	f.c = NewCoordinator(cfg, f.store, f.reg, f.verifier, f.sender).WithPublisher(f.events)
	f.c.now = func() time.Time { return fixedNow }
	return f
}

// useHookStore puts a hookStore between the coordinator and the fixture's data.
func (f *fixture) useHookStore() *hookStore {
	hs := &hookStore{MemStore: f.store}
	f.c.store = hs
	return hs
}

// putAlert writes an alert directly, holding the source guard when active.
func (f *fixture) putAlert(t *testing.T, a Alert) *Alert {
	t.Helper()
	ctx := context.Background()
	if a.ID == "" {
		a.ID = f.store.NewID()
	}
	if a.SourceID == "" {
		a.SourceID = f.source.ID
	}
	if a.SiteID == "" {
		a.SiteID = f.site.ID
	}
	if a.DetectionClass == "" {
		a.DetectionClass = "fire"
	}
	if a.ImageReference == "" {
		a.ImageReference = "http://snapshots.local/snapshots/" + a.ID + ".jpg"
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = fixedNow.UnixMilli()
	}
	doc, err := db.Encode(a)
	require.NoError(t, err)
	require.NoError(t, f.store.Set(ctx, AlertsCollection, a.ID, doc, false))
	if a.Status.Active() {
		require.NoError(t, f.store.Set(ctx, GuardsCollection, a.SourceID, db.Doc{
			"alert_id":   a.ID,
			"created_at": a.CreatedAt,
		}, false))
	}
	return &a
}

func (f *fixture) get(t *testing.T, id string) *Alert {
	t.Helper()
	a, err := f.c.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (f *fixture) detection() Detection {
	conf := 0.91
	return Detection{
		SourceID:       f.source.ID,
		DetectionClass: "fire",
		Confidence:     &conf,
		BoundingBox:    []float64{1, 2, 3, 4},
		ImageReference: "snap-1.jpg",
	}
}
