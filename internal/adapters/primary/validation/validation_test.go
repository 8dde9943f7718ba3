package validation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	v.Required("name", " ").
		MaxLength("action", "toolong", 3).
		PositiveID("bugId", 0)

	require.True(t, v.HasErrors())
	assert.Len(t, v.Errors().Errors, 3)

	v = NewValidator()
	v.Required("name", "Ann").PositiveID("bugId", 42)
	assert.False(t, v.HasErrors())
}

func TestValidator_MaxLengthCountsCharacters(t *testing.T) {
	v := NewValidator()
	v.MaxLength("action", strings.Repeat("я", 60), 100)
	assert.False(t, v.HasErrors())

	v.MaxLength("action", strings.Repeat("я", 101), 100)
	assert.True(t, v.HasErrors())
}

func TestParseIDParam(t *testing.T) {
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "projectID", "3")
	id, err := ParseIDParam(req, "projectID")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	for _, raw := range []string{"0", "-1", "abc", ""} {
		req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "projectID", raw)
		_, err := ParseIDParam(req, "projectID")

		var verrs *apperrors.ValidationErrors
		assert.ErrorAs(t, err, &verrs, raw)
	}
}

func TestParseLimit(t *testing.T) {
	limit, err := ParseLimit(httptest.NewRequest(http.MethodGet, "/", nil), 50, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)

	limit, err = ParseLimit(httptest.NewRequest(http.MethodGet, "/?limit=10", nil), 50, 200)
	require.NoError(t, err)
	assert.Equal(t, 10, limit)

	for _, raw := range []string{"500", "0", "x"} {
		_, err = ParseLimit(httptest.NewRequest(http.MethodGet, "/?limit="+raw, nil), 50, 200)

		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr, raw)
		assert.Equal(t, 422, appErr.StatusCode)
		assert.Equal(t, "limit", appErr.Details["field"])
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Action string `json:"action"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"editing"}`))
	got, err := DecodeJSON[body](req)
	require.NoError(t, err)
	assert.Equal(t, "editing", got.Action)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	got, err = DecodeJSON[body](req)
	require.NoError(t, err)
	assert.Empty(t, got.Action)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	_, err = DecodeJSON[body](req)
	var appErr *apperrors.AppError
	assert.ErrorAs(t, err, &appErr)
}
