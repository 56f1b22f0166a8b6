package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// IDField is the key under which every returned document carries its id.
const IDField = "id"

// MaxInValues is the largest membership list a single In filter accepts.
// Callers with longer lists go through QueryIn, which chunks.
const MaxInValues = 10

var (
	ErrNotFound        = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrTooManyInValues = fmt.Errorf("in filter accepts at most %d values", MaxInValues)
	ErrInvalidFilter   = errors.New("invalid filter")
	ErrConflict        = errors.New("document does not match the expected state")
)

// Doc is a schemaless document. Values follow encoding/json decoding rules:
// numbers are float64, nested objects are map[string]interface{}.
type Doc map[string]interface{}

// ID returns the document id or an empty string.
func (d Doc) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Store is a document store with per-document atomic writes and no
// cross-document transactions.
type Store interface {
	// NewID returns a fresh unique document id.
	NewID() string
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Doc, error)
	// Create writes the document only if no document with the id exists,
	// otherwise it returns ErrAlreadyExists.
	Create(ctx context.Context, collection, id string, doc Doc) error
	// Set replaces the document, or merge-patches it when merge is true.
	// A missing document is created in both cases.
	Set(ctx context.Context, collection, id string, doc Doc, merge bool) error
	// Update merge-patches an existing document. It returns ErrNotFound for
	// a missing document and ErrConflict when the stored document does not
	// match every condition. Check and write are atomic.
	Update(ctx context.Context, collection, id string, patch Doc, conds ...Filter) error
	// Query returns all documents of the collection matching every filter.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error)
	// Delete removes the document and reports whether it existed. Deleting a
	// missing document is not an error.
	Delete(ctx context.Context, collection, id string) (bool, error)
}

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpIn  Op = "in"
	OpLte Op = "<="
	OpGte Op = ">="
)

// Filter is a single field predicate. For OpIn, Value is a []interface{}.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

func In(field string, values ...interface{}) Filter {
	return Filter{Field: field, Op: OpIn, Value: values}
}

// InStrings is In for a string slice.
func InStrings(field string, values []string) Filter {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return In(field, vs...)
}

func Lte(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpLte, Value: value}
}

func Gte(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpGte, Value: value}
}

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateFilters(filters []Filter) error {
	for _, f := range filters {
		if !fieldNameRe.MatchString(f.Field) {
			return fmt.Errorf("%w: field name %q", ErrInvalidFilter, f.Field)
		}
		switch f.Op {
		case OpEq, OpLte, OpGte:
		case OpIn:
			vs, ok := f.Value.([]interface{})
			if !ok {
				return fmt.Errorf("%w: in filter on %q needs a value list", ErrInvalidFilter, f.Field)
			}
			if len(vs) > MaxInValues {
				return fmt.Errorf("filter on %q with %d values: %w", f.Field, len(vs), ErrTooManyInValues)
			}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Op)
		}
	}
	return nil
}

// Matches reports whether doc satisfies every filter. A missing field never matches.
func Matches(doc Doc, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc[f.Field]
		if !ok || v == nil {
			return false
		}
		switch f.Op {
		case OpEq:
			if c, ok := compare(v, f.Value); !ok || c != 0 {
				return false
			}
		case OpIn:
			found := false
			for _, want := range f.Value.([]interface{}) {
				if c, ok := compare(v, want); ok && c == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case OpLte:
			if c, ok := compare(v, f.Value); !ok || c > 0 {
				return false
			}
		case OpGte:
			if c, ok := compare(v, f.Value); !ok || c < 0 {
				return false
			}
		}
	}
	return true
}

// compare orders numbers numerically and strings lexically; other values
// are only comparable for equality.
func compare(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok || ba != bb {
			return 1, ok
		}
		return 0, true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// MergePatch applies patch to target following RFC 7396: nested objects
// merge recursively and nil values delete keys. target is modified in place.
func MergePatch(target, patch map[string]interface{}) map[string]interface{} {
	if target == nil {
		target = map[string]interface{}{}
	}
	for k, pv := range patch {
		if pv == nil {
			delete(target, k)
			continue
		}
		pm, pIsMap := asMap(pv)
		if !pIsMap {
			target[k] = pv
			continue
		}
		tm, _ := asMap(target[k])
		target[k] = MergePatch(tm, pm)
	}
	return target
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Doc:
		return m, true
	}
	return nil, false
}

// Encode converts a JSON-taggable value into a Doc.
func Encode(v interface{}) (Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var d Doc
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return d, nil
}

// Decode converts a Doc into a JSON-taggable value.
func Decode(d Doc, out interface{}) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

func copyDoc(d Doc) Doc {
	c, err := Encode(d)
	if err != nil {
		// Docs only ever hold JSON-decoded values.
		panic(err)
	}
	return c
}

// QueryIn runs a membership query over any number of values by splitting
// them into chunks of MaxInValues. Results are concatenated in chunk order
// and de-duplicated by id.
func QueryIn(ctx context.Context, s Store, collection, field string, values []string, extra ...Filter) ([]Doc, error) {
	var out []Doc
	seen := make(map[string]bool)
	for start := 0; start < len(values); start += MaxInValues {
		end := start + MaxInValues
		if end > len(values) {
			end = len(values)
		}
		filters := append([]Filter{InStrings(field, values[start:end])}, extra...)
		docs, err := s.Query(ctx, collection, filters...)
		if err != nil {
			return nil, fmt.Errorf("query %s chunk %d: %w", collection, start/MaxInValues, err)
		}
		for _, d := range docs {
			id := d.ID()
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, d)
		}
	}
	return out, nil
}
