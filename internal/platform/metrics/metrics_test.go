package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	m := NewCollector("surveillance")
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/notifications/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for _, id := range []string{"a", "b", "c"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/notifications/"+id, nil))
	}

	got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/v1/notifications/:id", "200"))
	if got != 3 {
		t.Errorf("expected 3 requests under the route template, got %v", got)
	}
	if v := testutil.ToFloat64(m.InFlightGauge); v != 0 {
		t.Errorf("expected in-flight gauge back at 0, got %v", v)
	}
}

func TestMiddleware_HTTPErrorStatus(t *testing.T) {
	m := NewCollector("surveillance")
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/x", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "duplicate code")
	})
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/x", "409")); got != 1 {
		t.Errorf("expected one 409, got %v", got)
	}
}

func TestDomainCounters(t *testing.T) {
	m := NewCollector("surveillance")
	m.NotificationCreated("suspected")
	m.StatusChanged("", "suspected")
	m.StatusChanged("suspected", "confirmed")
	m.CodeAssigned()
	m.ReportGenerated("xlsx")
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	if v := testutil.ToFloat64(m.StatusChanges.WithLabelValues("none", "suspected")); v != 1 {
		t.Errorf("expected creation transition counted under none, got %v", v)
	}
	if v := testutil.ToFloat64(m.StatusChanges.WithLabelValues("suspected", "confirmed")); v != 1 {
		t.Errorf("expected one suspected->confirmed, got %v", v)
	}
	if v := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); v != 2 {
		t.Errorf("expected 2 misses, got %v", v)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var m *Collector
	m.NotificationCreated("waiting")
	m.StatusChanged("a", "b")
	m.CodeAssigned()
	m.ReportGenerated("json")
	m.CacheLookup(true)
}

func TestHandler_Exposition(t *testing.T) {
	m := NewCollector("surveillance")
	m.CodeAssigned()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "surveillance_cases_codes_assigned_total 1") {
		t.Errorf("expected codes counter in exposition output")
	}
}
