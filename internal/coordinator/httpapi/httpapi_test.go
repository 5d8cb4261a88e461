package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/cmu-db/oucore/internal/ou"
)

func catalog(t *testing.T) *ou.Catalog {
	t.Helper()
	c, err := ou.NewCatalog(nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func TestHealthzReportsOKWhenHealthy(t *testing.T) {
	s := New(func() Status {
		return Status{Healthy: true, AttachedBackends: 2, DropCounts: map[string]int{}}
	}, catalog(t))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.RunID == "" {
		t.Error("expected a non-empty run id")
	}
	if got.AttachedBackends != 2 {
		t.Errorf("AttachedBackends = %d, want 2", got.AttachedBackends)
	}
}

func TestHealthzReports503WhenUnhealthy(t *testing.T) {
	s := New(func() Status {
		return Status{Healthy: false}
	}, catalog(t))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestDropsEndpointReturnsJustDropCounts(t *testing.T) {
	s := New(func() Status {
		return Status{Healthy: true, DropCounts: map[string]int{"SeqScan": 3}}
	}, catalog(t))

	req := httptest.NewRequest("GET", "/metrics/drops", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var got map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["SeqScan"] != 3 {
		t.Errorf("drop count for SeqScan = %d, want 3", got["SeqScan"])
	}
}
