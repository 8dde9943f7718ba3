package validation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
)

// Validator validates request data
type Validator struct {
	errors *apperrors.ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		errors: apperrors.NewValidationErrors(),
	}
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return v.errors.HasErrors()
}

// Errors returns the validation errors
func (v *Validator) Errors() *apperrors.ValidationErrors {
	return v.errors
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.errors.Add(field, "This field is required")
	}
	return v
}

// MaxLength validates maximum string length in characters
func (v *Validator) MaxLength(field, value string, max int) *Validator {
	if utf8.RuneCountInString(value) > max {
		v.errors.Add(field, "Must be at most "+strconv.Itoa(max)+" characters")
	}
	return v
}

// PositiveID validates an identifier is greater than zero
func (v *Validator) PositiveID(field string, value int64) *Validator {
	if value <= 0 {
		v.errors.Add(field, "Must be a positive integer")
	}
	return v
}

// Custom adds a custom validation
func (v *Validator) Custom(field string, valid bool, message string) *Validator {
	if !valid {
		v.errors.Add(field, message)
	}
	return v
}

// DecodeJSON decodes a JSON request body. An empty body leaves T zeroed.
func DecodeJSON[T any](r *http.Request) (*T, error) {
	var req T

	if r.Body == nil || r.ContentLength == 0 {
		return &req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, apperrors.NewBadRequestError(err, "Invalid request body")
	}

	return &req, nil
}

// ParseIDParam parses a positive int64 chi URL parameter.
func ParseIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		v := NewValidator()
		v.Custom(name, false, "Invalid "+name)
		return 0, v.Errors()
	}
	return id, nil
}

// ParseLimit reads the limit query parameter. Missing means defaultValue;
// anything outside 1..max is a validation error.
func ParseLimit(r *http.Request, defaultValue, max int) (int, error) {
	valueStr := r.URL.Query().Get("limit")
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil || value < 1 || value > max {
		return 0, apperrors.NewValidationError(
			apperrors.ErrBadRequest,
			"limit must be an integer between 1 and "+strconv.Itoa(max),
			map[string]interface{}{"field": "limit", "max": max},
		)
	}
	return value, nil
}
