package db

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

func TestMatches(t *testing.T) {
	doc := Doc{
		"id":         "a1",
		"status":     "PENDING",
		"source_id":  "cam-1",
		"expires_at": float64(1000),
		"sensitive":  false,
	}

	testCases := []struct {
		name    string
		filters []Filter
		want    bool
	}{
		{"No filters", nil, true},
		{"Eq string", []Filter{Eq("status", "PENDING")}, true},
		{"Eq string mismatch", []Filter{Eq("status", "CONFIRMED")}, false},
		{"In hit", []Filter{In("status", "CONFIRMED", "PENDING")}, true},
		{"In miss", []Filter{In("status", "CONFIRMED", "SENDING")}, false},
		{"Lte equal int64", []Filter{Lte("expires_at", int64(1000))}, true},
		{"Lte smaller", []Filter{Lte("expires_at", 999)}, false},
		{"Gte", []Filter{Gte("expires_at", 10.5)}, true},
		{"Missing field", []Filter{Lte("cooldown", int64(5000))}, false},
		{"Type mismatch", []Filter{Eq("expires_at", "1000")}, false},
		{"Bool eq", []Filter{Eq("sensitive", false)}, true},
		{"Conjunction", []Filter{Eq("source_id", "cam-1"), Eq("status", "REJECTED")}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(doc, tc.filters); got != tc.want {
				t.Errorf("Matches(%v) = %v, want %v", tc.filters, got, tc.want)
			}
		})
	}
}

func TestMergePatch(t *testing.T) {
	target := map[string]interface{}{
		"status": "PENDING",
		"verification": map[string]interface{}{
			"is_fire": false,
			"score":   0.1,
		},
		"error": "boom",
	}
	patch := map[string]interface{}{
		"status":       "CONFIRMED",
		"verification": map[string]interface{}{"is_fire": true},
		"error":        nil,
	}
	want := map[string]interface{}{
		"status": "CONFIRMED",
		"verification": map[string]interface{}{
			"is_fire": true,
			"score":   0.1,
		},
	}
	if got := MergePatch(target, patch); !reflect.DeepEqual(got, want) {
		t.Errorf("MergePatch() = %v, want %v", got, want)
	}
}

func TestValidateFilters(t *testing.T) {
	many := make([]string, MaxInValues+1)
	for i := range many {
		many[i] = fmt.Sprintf("v%d", i)
	}
	if err := validateFilters([]Filter{InStrings("site_id", many)}); err == nil {
		t.Errorf("expected ErrTooManyInValues for %d values", len(many))
	}
	if err := validateFilters([]Filter{InStrings("site_id", many[:MaxInValues])}); err != nil {
		t.Errorf("unexpected error for %d values: %v", MaxInValues, err)
	}
	if err := validateFilters([]Filter{Eq("body') OR 1=1 --", "x")}); err == nil {
		t.Errorf("expected invalid field name to be rejected")
	}
	if err := validateFilters([]Filter{{Field: "status", Op: "!="}}); err == nil {
		t.Errorf("expected unknown operator to be rejected")
	}
}

type countingStore struct {
	*MemStore
	queries int
}

func (c *countingStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	c.queries++
	return c.MemStore.Query(ctx, collection, filters...)
}

func TestQueryInChunks(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemStore: NewMemStore()}

	var siteIDs []string
	for i := 0; i < 25; i++ {
		siteID := fmt.Sprintf("site-%02d", i)
		siteIDs = append(siteIDs, siteID)
		status := "PENDING"
		if i%2 == 1 {
			status = "REJECTED"
		}
		if err := store.Set(ctx, "alerts", fmt.Sprintf("a%02d", i), Doc{"site_id": siteID, "status": status}, false); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	// Duplicate membership values must not duplicate results.
	siteIDs = append(siteIDs, "site-00")

	docs, err := QueryIn(ctx, store, "alerts", "site_id", siteIDs, Eq("status", "PENDING"))
	if err != nil {
		t.Fatalf("QueryIn: %v", err)
	}
	if store.queries != 3 {
		t.Errorf("expected 3 chunked queries, got %d", store.queries)
	}
	if len(docs) != 13 {
		t.Errorf("expected 13 pending alerts, got %d", len(docs))
	}
	if docs[0].ID() != "a00" {
		t.Errorf("expected results in chunk order, first = %s", docs[0].ID())
	}
}

func TestQueryInEmpty(t *testing.T) {
	store := &countingStore{MemStore: NewMemStore()}
	docs, err := QueryIn(context.Background(), store, "alerts", "site_id", nil)
	if err != nil || len(docs) != 0 || store.queries != 0 {
		t.Errorf("QueryIn(nil) = %v, %v after %d queries", docs, err, store.queries)
	}
}

func TestEncodeDecode(t *testing.T) {
	type sample struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
		Skip  *int64  `json:"skip,omitempty"`
	}
	d, err := Encode(sample{Name: "x", Score: 0.5})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, ok := d["skip"]; ok {
		t.Errorf("omitempty field should be absent: %v", d)
	}
	var out sample
	if err := Decode(d, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Name != "x" || out.Score != 0.5 {
		t.Errorf("Decode() = %+v", out)
	}
}
