package search

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testParams = map[string]ParamConfig{
	"status":  {Type: ParamExact, Column: "n.status"},
	"code":    {Type: ParamString, Column: "n.code"},
	"from":    {Type: ParamDate, Column: "n.date_notified"},
	"patient": {Type: ParamUUID, Column: "n.patient_id"},
	"active":  {Type: ParamBool, Column: "n.active"},
}

func TestApplyParams_StableOrder(t *testing.T) {
	q := NewQuery("notification n", "n.id")
	err := q.ApplyParams(map[string]string{
		"status":  "confirmed",
		"code":    "A00",
		"ignored": "x",
	}, testParams)
	if err != nil {
		t.Fatalf("ApplyParams: %v", err)
	}

	want := "SELECT COUNT(*) FROM notification n WHERE 1=1 AND n.code ILIKE $1 AND n.status = $2"
	if got := q.CountSQL(); got != want {
		t.Errorf("CountSQL() =\n%s\nwant\n%s", got, want)
	}
	args := q.CountArgs()
	if len(args) != 2 || args[0] != "A00%" || args[1] != "confirmed" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestApplyParam_Date(t *testing.T) {
	q := NewQuery("notification n", "n.id")
	if err := q.ApplyParam(testParams["from"], "ge2024-01-01"); err != nil {
		t.Fatal(err)
	}
	if err := q.ApplyParam(testParams["from"], "2024-02-01"); err != nil {
		t.Fatal(err)
	}
	want := "SELECT COUNT(*) FROM notification n WHERE 1=1 AND n.date_notified >= $1 AND (n.date_notified >= $2 AND n.date_notified < $3)"
	if got := q.CountSQL(); got != want {
		t.Errorf("CountSQL() =\n%s\nwant\n%s", got, want)
	}
	args := q.CountArgs()
	if !args[2].(time.Time).Equal(time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected exclusive upper bound of the next day, got %v", args[2])
	}

	if err := q.ApplyParam(testParams["from"], "last week"); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestApplyParam_UUIDAndBool(t *testing.T) {
	q := NewQuery("notification n", "n.id")
	id := uuid.New()
	if err := q.ApplyParam(testParams["patient"], id.String()); err != nil {
		t.Fatal(err)
	}
	if err := q.ApplyParam(testParams["active"], "false"); err != nil {
		t.Fatal(err)
	}
	args := q.CountArgs()
	if args[0] != id || args[1] != false {
		t.Errorf("unexpected args %v", args)
	}
	if err := q.ApplyParam(testParams["patient"], "nope"); err == nil {
		t.Error("expected error for malformed uuid")
	}
	if err := q.ApplyParam(testParams["active"], "maybe"); err == nil {
		t.Error("expected error for malformed boolean")
	}
}

func TestApplyParam_StringContains(t *testing.T) {
	q := NewQuery("pathology", "id")
	q.ApplyParam(ParamConfig{Type: ParamString, Column: "name"}, "*fever")
	if q.CountArgs()[0] != "%fever%" {
		t.Errorf("expected contains pattern, got %v", q.CountArgs()[0])
	}
}

func TestApplyParam_StringEscapesWildcards(t *testing.T) {
	cases := map[string]string{
		"A00_1":     `A00\_1%`,
		"50%":       `50\%%`,
		`a\b`:       `a\\b%`,
		"*100%_off": `%100\%\_off%`,
	}
	for in, want := range cases {
		q := NewQuery("notification n", "n.id")
		if err := q.ApplyParam(testParams["code"], in); err != nil {
			t.Fatal(err)
		}
		if got := q.CountArgs()[0]; got != want {
			t.Errorf("%q: pattern = %v, want %s", in, got, want)
		}
	}
}

func TestDataSQL(t *testing.T) {
	q := NewQuery("pathology", "id, code, name")
	q.Add("category = $1", "R")
	q.OrderBy("code")

	want := "SELECT id, code, name FROM pathology WHERE 1=1 AND category = $1 ORDER BY code LIMIT $2 OFFSET $3"
	if got := q.DataSQL(20, 40); got != want {
		t.Errorf("DataSQL() =\n%s\nwant\n%s", got, want)
	}
	args := q.DataArgs(20, 40)
	if len(args) != 3 || args[1] != 20 || args[2] != 40 {
		t.Errorf("unexpected data args %v", args)
	}
	if q.Idx() != 2 {
		t.Errorf("expected next index 2, got %d", q.Idx())
	}
}

func TestExtractParams(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?status=confirmed&limit=10&offset=5&format=xlsx", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	params := ExtractParams(c)
	if len(params) != 1 || params["status"] != "confirmed" {
		t.Errorf("unexpected params %v", params)
	}
}
