package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xuri/excelize/v2"

	"github.com/ehr/surveillance/internal/domain/casecount"
	"github.com/ehr/surveillance/internal/domain/epiweek"
	"github.com/ehr/surveillance/internal/platform/auth"
	"github.com/ehr/surveillance/internal/platform/blobstore"
	"github.com/ehr/surveillance/internal/platform/metrics"
)

type staticSource []casecount.Case

func (s staticSource) Cases(_ context.Context, from, to time.Time, _ string) ([]casecount.Case, error) {
	var out []casecount.Case
	for _, c := range s {
		if !c.DateNotified.Before(from) && c.DateNotified.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleSource() staticSource {
	onset1, onset2 := day(2024, 1, 1), day(2024, 1, 8)
	return staticSource{
		{Diagnosis: "Dengue fever", DateOnset: &onset1, DateNotified: day(2024, 1, 2)},
		{Diagnosis: "Dengue fever", DateOnset: &onset2, DateNotified: day(2024, 1, 9)},
		{Diagnosis: "", DateNotified: day(2024, 1, 10)},
	}
}

func labels(status string) (string, bool) {
	if status == "suspected" {
		return "Suspected", true
	}
	return status, false
}

func newTestHandler() (*Handler, *blobstore.InMemoryBlobStore, *metrics.Collector, *echo.Echo) {
	svc := casecount.NewService(sampleSource(), epiweek.New(epiweek.MMWR), labels)
	store := blobstore.NewInMemoryBlobStore()
	m := metrics.NewCollector("test")
	h := NewHandler(svc, store)
	h.SetMetrics(m)
	return h, store, m, echo.New()
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestFindDefinition(t *testing.T) {
	d := FindDefinition("case-count")
	if d == nil {
		t.Fatal("expected to find case-count report")
	}
	if len(d.Formats) != 2 {
		t.Errorf("expected 2 formats, got %v", d.Formats)
	}
	if FindDefinition("nonexistent") != nil {
		t.Error("expected nil for nonexistent report")
	}
}

func TestRenderCaseCount(t *testing.T) {
	svc := casecount.NewService(sampleSource(), epiweek.New(epiweek.MMWR), labels)
	end := day(2024, 1, 20)
	table, err := svc.CaseCount(context.Background(), casecount.Query{Start: day(2024, 1, 1), End: &end})
	if err != nil {
		t.Fatal(err)
	}

	data, err := RenderCaseCount(table)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != sheetName {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatal(err)
	}
	if got := rows[2]; !reflect.DeepEqual(got, []string{"Status", "All"}) {
		t.Errorf("unexpected status line %v", got)
	}
	want := [][]string{
		{"Diagnosis", "2024-W01", "2024-W02", "2024-W03", "Total"},
		{"Dengue fever", "1", "1", "0", "2"},
		{"Undiagnosed", "0", "1", "0", "1"},
		{"Total", "1", "2", "0", "3"},
	}
	if !reflect.DeepEqual(rows[tableHeaderRow-1:], want) {
		t.Errorf("table rows = %v, want %v", rows[tableHeaderRow-1:], want)
	}
}

func TestHandler_CaseCountJSON(t *testing.T) {
	h, _, m, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports/case-count?start=2024-01-01&end=2024-01-20", nil), rec)
	if err := h.CaseCount(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var table casecount.Table
	if err := json.Unmarshal(rec.Body.Bytes(), &table); err != nil {
		t.Fatal(err)
	}
	if table.Total != 3 || len(table.Weeks) != 3 {
		t.Errorf("unexpected table %+v", table)
	}
	if v := testutil.ToFloat64(m.ReportsGenerated.WithLabelValues("json")); v != 1 {
		t.Errorf("expected 1 json report, got %v", v)
	}
}

func TestHandler_CaseCountXLSX(t *testing.T) {
	h, _, _, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?start=2024-01-01&format=xlsx", nil), rec)
	if err := h.CaseCount(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != blobstore.ContentTypeXLSX {
		t.Errorf("unexpected content type %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="case-count_2023-12-31_2024-01-07.xlsx"` {
		t.Errorf("unexpected disposition %s", cd)
	}
}

func TestHandler_CaseCount_BadRequest(t *testing.T) {
	h, _, _, e := newTestHandler()
	for _, target := range []string{
		"/",
		"/?start=01/01/2024",
		"/?start=2024-01-01&end=2024-13-01",
		"/?start=2024-01-01&format=pdf",
		"/?start=2024-01-01&status=closed",
		"/?start=2024-02-01&end=2024-01-01",
	} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		expectHTTPStatus(t, h.CaseCount(c), http.StatusBadRequest)
	}
}

func TestHandler_ArchiveCaseCount(t *testing.T) {
	h, store, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/?start=2024-01-01&end=2024-01-14&status=suspected", nil)
	req = req.WithContext(auth.WithUser(req.Context(), "epi-2", []string{auth.RoleEpidemiologist}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ArchiveCaseCount(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	items, total, err := store.List(context.Background(), ArchiveCategory, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("expected 1 archived report, got %d", total)
	}
	meta := items[0]
	if meta.ContentType != blobstore.ContentTypeXLSX || meta.CreatedBy != "epi-2" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Tags["status"] != "Suspected" || meta.Tags["start"] != "2023-12-31" {
		t.Errorf("unexpected tags %v", meta.Tags)
	}
}

func TestArchive_JSON(t *testing.T) {
	h, store, _, _ := newTestHandler()
	meta, err := h.Archive(context.Background(), casecount.Query{Start: day(2024, 1, 1)}, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.CreatedBy != "system" || meta.FileName != "case-count_2023-12-31_2024-01-07.json" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	rc, _, err := store.Download(context.Background(), meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	var table casecount.Table
	if err := json.NewDecoder(rc).Decode(&table); err != nil {
		t.Fatal(err)
	}
	if table.Total != 1 {
		t.Errorf("expected 1 case in the first week, got %d", table.Total)
	}

	if _, err := h.Archive(context.Background(), casecount.Query{Start: day(2024, 1, 1)}, "pdf"); err == nil {
		t.Error("expected unsupported format to fail")
	}
}
