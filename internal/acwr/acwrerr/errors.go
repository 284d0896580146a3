package acwrerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrInvalidDate         = errors.New("invalid date")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrCalculation         = errors.New("calculation failure")
	ErrValidationFailure   = errors.New("batch validation failure")
	ErrRollbackFailure     = errors.New("rollback failure")
)

const dateLayout = "2006-01-02"

// ValidationError is a rejected input: bad parameters, duplicate names, bad
// request payloads.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientHistoryError means no ratio can be produced for the date yet.
// It is a user-facing state, not a failure.
type InsufficientHistoryError struct {
	UserID int64
	AsOf   time.Time
	Reason string
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for user %d as of %s: %s", e.UserID, e.AsOf.Format(dateLayout), e.Reason)
}

func (e *InsufficientHistoryError) Is(target error) bool { return target == ErrInsufficientHistory }

type InvalidDateError struct {
	Date   time.Time
	Reason string
}

func NewInvalidDate(date time.Time, reason string) *InvalidDateError {
	return &InvalidDateError{Date: date, Reason: reason}
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date %s: %s", e.Date.Format(dateLayout), e.Reason)
}

func (e *InvalidDateError) Is(target error) bool { return target == ErrInvalidDate }

type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s [%s] not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type ConflictError struct {
	Reason string
}

func NewConflict(format string, args ...any) *ConflictError {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// CalculationFailure is a single migration row that could not be computed.
type CalculationFailure struct {
	UserID int64
	Date   time.Time
	Err    error
}

func (e *CalculationFailure) Error() string {
	return fmt.Sprintf("calculation for user %d on %s: %s", e.UserID, e.Date.Format(dateLayout), e.Err)
}

func (e *CalculationFailure) Is(target error) bool { return target == ErrCalculation }

func (e *CalculationFailure) Unwrap() error { return e.Err }

// ValidationFailure aborts a migration.
type ValidationFailure struct {
	MigrationID string
	BatchID     int
	Level       string
	Errors      []string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf(
		"migration %s batch %d failed %s validation: %s",
		e.MigrationID, e.BatchID, e.Level, strings.Join(e.Errors, "; "),
	)
}

func (e *ValidationFailure) Is(target error) bool { return target == ErrValidationFailure }

// RollbackFailure means the restored state could not be verified. The
// migration is frozen until an operator clears it.
type RollbackFailure struct {
	RollbackID  string
	MigrationID string
	Reason      string
}

func (e *RollbackFailure) Error() string {
	return fmt.Sprintf("rollback %s of migration %s: %s", e.RollbackID, e.MigrationID, e.Reason)
}

func (e *RollbackFailure) Is(target error) bool { return target == ErrRollbackFailure }

// HTTPStatus maps an error onto the status code returned by the handlers.
// Insufficient history is rendered by the handlers as a 200 state and is
// not covered here.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to a client.
func PublicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

// WriteHTTP sends err to the client with its mapped status code. Errors
// mapped to 500 are logged with op and replaced by a generic message.
func WriteHTTP(w http.ResponseWriter, op string, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Errorf("%s: %s", op, err)
	} else {
		log.Debugf("%s: %s", op, err)
	}
	http.Error(w, PublicMessage(err), status)
}
