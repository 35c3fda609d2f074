package common

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", ValidationError("userId is required"), http.StatusBadRequest},
		{"not found", ErrSubscriptionNotFound, http.StatusNotFound},
		{"conflict", ErrAlreadyCancelled, http.StatusBadRequest},
		{"signature", ErrInvalidSignature, http.StatusBadRequest},
		{"configuration", ErrWebhookSecretMissing, http.StatusInternalServerError},
		{"upstream", UpstreamError("card declined", errors.New("402")), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("cancel: %w", ErrNotCancelled), http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestSentinelsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("verify: %w", ErrMissingSignature)
	assert.ErrorIs(t, err, ErrMissingSignature)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
	assert.True(t, IsKind(err, KindSignature))
}

func TestUpstreamErrorKeepsCause(t *testing.T) {
	cause := errors.New("stripe: rate limited")
	err := UpstreamError("Too many requests", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Too many requests", PublicMessage(err))
	assert.Equal(t, "internal server error", PublicMessage(cause))
}

func TestSendError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	require.NoError(t, SendError(c, ErrSubscriptionNotFound))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"subscription not found"}`, rec.Body.String())
}

func TestValidateUUID(t *testing.T) {
	_, err := ValidateUUID("", "userId")
	assert.True(t, IsKind(err, KindValidation))

	_, err = ValidateUUID("not-a-uuid", "userId")
	assert.Error(t, err)

	_, err = ValidateUUID("123e4567xe89b-12d3-a456-426614174000", "userId")
	assert.Error(t, err)

	id, err := ValidateUUID(" 123e4567-e89b-12d3-a456-426614174000 ", "userId")
	require.NoError(t, err)
	assert.Equal(t, "123e4567-e89b-12d3-a456-426614174000", id.String())
}

func TestValidateOneOf(t *testing.T) {
	assert.NoError(t, ValidateOneOf("monthly", "billingInterval", "monthly", "yearly"))
	assert.Error(t, ValidateOneOf("weekly", "billingInterval", "monthly", "yearly"))
}
