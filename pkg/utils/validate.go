package utils

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names so issues line up with the request and config documents
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate runs struct-tag validation and returns field-level ValidationErrors
func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, ToValidationErrors(err)
	}
	return value, nil
}

// ValidateValue validates a single value against a tag
func ValidateValue(value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ToValidationErrors converts validator errors into the domain ValidationErrors type
func ToValidationErrors(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	out := apperrors.NewValidationErrors()
	for _, fe := range verrs {
		out.Issues = append(out.Issues, models.ValidationIssue{
			Field:   fieldPath(fe.Namespace()),
			Message: describe(fe),
		})
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace ("ReconciliationConfig.thresholds.manual" -> "thresholds.manual")
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s, got %v", fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s, got %v", fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("must contain at least %s entries", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s long", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got '%v'", fe.Param(), fe.Value())
	case "len":
		return fmt.Sprintf("must have length %s, got '%v'", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed rule '%s' (expected '%s', got '%v')", fe.Tag(), fe.Param(), fe.Value())
	}
}
