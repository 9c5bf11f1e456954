package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Required("patient_id"), http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("create: %w", Invalid("date_onset", "is in the future")), http.StatusBadRequest},
		{"constraint", Duplicate("notification_code_key", "A00:1"), http.StatusConflict},
		{"lookup", NotFound("pathology", "A00"), http.StatusNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := Required("status")
	if err.Error() != "validation failed: status is required" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	err = &ValidationError{Reason: "empty request"}
	if err.Error() != "validation failed: empty request" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestFromPG_NoRows(t *testing.T) {
	err := FromPG(fmt.Errorf("scan: %w", pgx.ErrNoRows), "notification", "abc")
	if !IsLookup(err) {
		t.Fatalf("expected LookupError, got %v", err)
	}
	if err.Error() != "notification not found: abc" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestFromPG_UniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "notification_code_key"}
	err := FromPG(pgErr, "notification", "A00:7")
	var ce *ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConstraintError, got %v", err)
	}
	if ce.Constraint != "notification_code_key" || ce.Value != "A00:7" {
		t.Errorf("unexpected constraint error: %+v", ce)
	}
}

func TestFromPG_PassThrough(t *testing.T) {
	if FromPG(nil, "x", "y") != nil {
		t.Error("expected nil for nil error")
	}
	other := &pgconn.PgError{Code: "23503"}
	if got := FromPG(other, "x", "y"); got != other {
		t.Errorf("expected foreign key error to pass through, got %v", got)
	}
}

func TestToHTTP(t *testing.T) {
	if ToHTTP(nil) != nil {
		t.Error("expected nil for nil error")
	}

	he, ok := ToHTTP(NotFound("patient", "x")).(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", he)
	}
	if he.Message != "patient not found: x" {
		t.Errorf("unexpected message: %v", he.Message)
	}

	cause := errors.New("connection reset")
	he = ToHTTP(fmt.Errorf("load: %w", cause)).(*echo.HTTPError)
	if he.Code != http.StatusInternalServerError || he.Message != "internal error" {
		t.Errorf("expected generic 500, got %d %v", he.Code, he.Message)
	}
	if !errors.Is(he.Internal, cause) {
		t.Error("expected the cause to be kept as the internal error")
	}

	orig := echo.NewHTTPError(http.StatusForbidden, "nope")
	if ToHTTP(orig) != orig {
		t.Error("expected HTTPError to pass through")
	}
}
