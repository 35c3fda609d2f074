package common

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope used by the synchronous subscription endpoints.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SendSuccess writes a 200 envelope carrying data.
func SendSuccess(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// SendError writes the failure envelope with the status derived from err.
func SendError(c echo.Context, err error) error {
	return c.JSON(HTTPStatus(err), APIResponse{Success: false, Error: PublicMessage(err)})
}

// ValidateUUID validates UUID format with comprehensive checks
func ValidateUUID(idStr string, fieldName string) (uuid.UUID, error) {
	idStr = strings.TrimSpace(idStr)
	if idStr == "" {
		return uuid.Nil, ValidationError(fmt.Sprintf("%s is required", fieldName))
	}

	if len(idStr) != 36 {
		return uuid.Nil, ValidationError(fmt.Sprintf("%s must be exactly 36 characters (including hyphens)", fieldName))
	}

	for _, pos := range []int{8, 13, 18, 23} {
		if idStr[pos] != '-' {
			return uuid.Nil, ValidationError(fmt.Sprintf("%s has invalid UUID format", fieldName))
		}
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, ValidationError(fmt.Sprintf("%s contains invalid characters", fieldName))
	}

	return id, nil
}

// ValidateRequiredString validates required string fields
func ValidateRequiredString(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError(fmt.Sprintf("%s is required", fieldName))
	}
	return nil
}

// ValidateOptionalString trims value and enforces maxLength.
func ValidateOptionalString(value *string, fieldName string, maxLength int) error {
	if value != nil {
		*value = strings.TrimSpace(*value)
		if len(*value) > maxLength {
			return ValidationError(fmt.Sprintf("%s cannot exceed %d characters", fieldName, maxLength))
		}
	}
	return nil
}

// ValidateOneOf checks value against the allowed set.
func ValidateOneOf(value, fieldName string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return ValidationError(fmt.Sprintf("%s must be one of: %s", fieldName, strings.Join(allowed, ", ")))
}

// SafeString safely handles string pointer operations
func SafeString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
