package db

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memCollection struct {
	docs  map[string]Doc
	order []string
}

// MemStore is an in-process Store. Documents are deep-copied on the way in
// and out, and queries return them in insertion order.
type MemStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

func NewMemStore() *MemStore {
	return &MemStore{collections: make(map[string]*memCollection)}
}

func (s *MemStore) NewID() string {
	return uuid.NewString()
}

func (s *MemStore) collection(name string) *memCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{docs: make(map[string]Doc)}
		s.collections[name] = c
	}
	return c
}

func (s *MemStore) Get(_ context.Context, collection, id string) (Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	d, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(d), nil
}

func (s *MemStore) Create(_ context.Context, collection, id string, doc Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	if _, ok := c.docs[id]; ok {
		return ErrAlreadyExists
	}
	s.put(c, id, copyDoc(doc))
	return nil
}

func (s *MemStore) Set(_ context.Context, collection, id string, doc Doc, merge bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	patch := copyDoc(doc)
	if existing, ok := c.docs[id]; ok && merge {
		s.put(c, id, MergePatch(existing, patch))
		return nil
	}
	if merge {
		patch = MergePatch(nil, patch)
	}
	s.put(c, id, patch)
	return nil
}

func (s *MemStore) Update(_ context.Context, collection, id string, patch Doc, conds ...Filter) error {
	if err := validateFilters(conds); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	existing, ok := c.docs[id]
	if !ok {
		return ErrNotFound
	}
	if !Matches(existing, conds) {
		return ErrConflict
	}
	s.put(c, id, MergePatch(existing, copyDoc(patch)))
	return nil
}

func (s *MemStore) put(c *memCollection, id string, d Doc) {
	d[IDField] = id
	if _, ok := c.docs[id]; !ok {
		c.order = append(c.order, id)
	}
	c.docs[id] = d
}

func (s *MemStore) Query(_ context.Context, collection string, filters ...Filter) ([]Doc, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	var out []Doc
	for _, id := range c.order {
		d := c.docs[id]
		if Matches(d, filters) {
			out = append(out, copyDoc(d))
		}
	}
	return out, nil
}

func (s *MemStore) Delete(_ context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return false, nil
	}
	if _, ok := c.docs[id]; !ok {
		return false, nil
	}
	delete(c.docs, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true, nil
}
