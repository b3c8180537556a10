package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ValidationErrors is a set of field-level validation failures. It blocks the operation.
type ValidationErrors struct {
	Issues []models.ValidationIssue
}

// NewValidationErrors builds a ValidationErrors from the given issues
func NewValidationErrors(issues ...models.ValidationIssue) *ValidationErrors {
	return &ValidationErrors{Issues: issues}
}

// Add appends a field-level issue
func (e *ValidationErrors) Add(field, message string) *ValidationErrors {
	e.Issues = append(e.Issues, models.ValidationIssue{Field: field, Message: message})
	return e
}

// Addf appends a field-level issue with a formatted message
func (e *ValidationErrors) Addf(field, format string, args ...any) *ValidationErrors {
	return e.Add(field, fmt.Sprintf(format, args...))
}

// HasIssues reports whether any issue was recorded
func (e *ValidationErrors) HasIssues() bool {
	return e != nil && len(e.Issues) > 0
}

// OrNil returns nil when no issue was recorded, so callers can return it directly
func (e *ValidationErrors) OrNil() error {
	if !e.HasIssues() {
		return nil
	}
	return e
}

func (e *ValidationErrors) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.Field == "" {
			parts = append(parts, issue.Message)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationErrors) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusUnprocessableEntity, "validation failed").AddMetaValue("errors", e.Issues)
}

// ConflictError is an optimistic-concurrency collision. The caller must re-fetch and retry.
type ConflictError struct {
	Message string
	ItemIDs []string
}

func NewConflictError(msg string, itemIDs ...string) *ConflictError {
	return &ConflictError{Message: msg, ItemIDs: itemIDs}
}

func NewConflictErrorf(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string {
	if len(e.ItemIDs) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (items: %s)", e.Message, strings.Join(e.ItemIDs, ", "))
}

func (e *ConflictError) ToHTTPError() *httperror.HTTPError {
	herr := httperror.NewHTTPError(http.StatusConflict, e.Message)
	if len(e.ItemIDs) > 0 {
		herr.AddMetaValue("item_ids", e.ItemIDs)
	}
	return herr
}

// NotFoundError is returned for unknown candidate, match or config ids
type NotFoundError struct {
	Kind string
	ID   string
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusNotFound, e.Error())
}

// ScoringError means a comparator produced a NaN or out-of-range value. It is fatal to the pairing only.
type ScoringError struct {
	Feature string
	Value   float64
	Message string
}

func NewScoringError(feature string, value float64, msg string) *ScoringError {
	return &ScoringError{Feature: feature, Value: value, Message: msg}
}

func (e *ScoringError) Error() string {
	if e.Feature == "" {
		return "scoring error: " + e.Message
	}
	return fmt.Sprintf("scoring error in feature '%s' (value %v): %s", e.Feature, e.Value, e.Message)
}

func IsValidation(err error) bool {
	var target *ValidationErrors
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsScoring(err error) bool {
	var target *ScoringError
	return errors.As(err, &target)
}

// AsValidation returns the ValidationErrors wrapped in err, if any
func AsValidation(err error) (*ValidationErrors, bool) {
	var target *ValidationErrors
	ok := errors.As(err, &target)
	return target, ok
}

type httpConvertible interface {
	ToHTTPError() *httperror.HTTPError
}

// ToHTTPError converts domain errors into the HTTP error the API returns. Unknown errors pass through.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}
	if httperror.IsHTTPError(err) {
		return err
	}
	var convertible httpConvertible
	if errors.As(err, &convertible) {
		return convertible.ToHTTPError()
	}
	return err
}
