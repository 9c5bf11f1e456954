// Package apperr defines the error taxonomy shared by the surveillance
// services: validation failures, uniqueness violations and failed lookups of
// referenced records. Handlers map them to HTTP status codes with HTTPStatus.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

// ValidationError reports a missing required field, a future-dated field or
// a reference of the wrong kind.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// ConstraintError reports a uniqueness violation.
type ConstraintError struct {
	Constraint string
	Value      string
}

func (e *ConstraintError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("constraint violated: %s", e.Constraint)
	}
	return fmt.Sprintf("constraint violated: %s %q already exists", e.Constraint, e.Value)
}

// LookupError reports that a referenced record does not exist.
type LookupError struct {
	Entity string
	Key    string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

func Required(field string) error {
	return &ValidationError{Field: field, Reason: "is required"}
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NotFound(entity, key string) error {
	return &LookupError{Entity: entity, Key: key}
}

func Duplicate(constraint, value string) error {
	return &ConstraintError{Constraint: constraint, Value: value}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConstraint(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}

func IsLookup(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// FromPG translates storage errors into the taxonomy: no rows becomes a
// LookupError for entity/key and a unique violation becomes a
// ConstraintError named after the violated index. Anything else is returned
// unchanged.
func FromPG(err error, entity, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(entity, key)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &ConstraintError{Constraint: pgErr.ConstraintName, Value: key}
	}
	return err
}

// HTTPStatus returns the status code a handler should answer with for err.
func HTTPStatus(err error) int {
	switch {
	case IsValidation(err):
		return http.StatusBadRequest
	case IsConstraint(err):
		return http.StatusConflict
	case IsLookup(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into an echo HTTP error. Internal errors keep a generic
// message; the cause stays attached for the request logger.
func ToHTTP(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}
