package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_Isolated(t *testing.T) {
	// Two collectors must not clash on registration.
	a := NewCollector("facstrack")
	b := NewCollector("facstrack")

	a.FilesIngestedTotal.WithLabelValues("panel_result", "committed").Inc()
	b.RowsProcessedTotal.WithLabelValues("patient").Add(3)
}

func TestCollector_HandlerExposesCounters(t *testing.T) {
	c := NewCollector("facstrack")
	c.ValidationEntriesTotal.WithLabelValues("WARN").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "facstrack_ingest_validation_entries_total") {
		t.Error("expected validation counter in exposition")
	}
}
