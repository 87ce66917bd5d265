package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendLedgerError maps a ledger or gate failure onto an HTTP status and
// sends the message verbatim. Callers present it and stop; nothing here is
// retried automatically.
func SendLedgerError(w http.ResponseWriter, err error) {
	var lockedErr *VaultLockedError
	var authErr *AuthFailedError
	var cmdErr *CommandFailedError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, ErrSelfTransfer):
		status = http.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds):
		status = http.StatusBadRequest
	case errors.As(err, &lockedErr):
		status = http.StatusLocked
	case errors.Is(err, ErrCounterpartyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidRequestState):
		status = http.StatusConflict
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrTooManyAuthFailures):
		status = http.StatusForbidden
	case errors.As(err, &cmdErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrTimeout):
		status = http.StatusGatewayTimeout
	}

	SendErrorResponse(w, err.Error(), status, nil)
}
