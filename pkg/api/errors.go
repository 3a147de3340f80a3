package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/billing"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	"github.com/mihaimyh/secondchance/pkg/posts"
)

// errorStatus maps domain errors to HTTP statuses and client messages
var errorStatus = []struct {
	err     error
	status  int
	message string
}{
	{billing.ErrInvalidPlan, http.StatusBadRequest, "Invalid plan"},
	{billing.ErrCheckoutCreationFailed, http.StatusBadGateway, "Failed to create checkout session"},
	{billing.ErrProviderNotConfigured, http.StatusServiceUnavailable, "Billing is not configured"},
	{account.ErrEmailTaken, http.StatusConflict, "Email already registered"},
	{account.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
	{account.ErrTokenInvalid, http.StatusUnauthorized, "Unauthorized"},
	{account.ErrInvalidInput, http.StatusBadRequest, "Email, password and name are required"},
	{account.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{entitlement.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{entitlement.ErrStorageUnavailable, http.StatusServiceUnavailable, "Service temporarily unavailable"},
	{entitlement.ErrCircuitOpen, http.StatusServiceUnavailable, "Service temporarily unavailable"},
	{posts.ErrInvalidInput, http.StatusBadRequest, "Invalid input"},
	{posts.ErrPostNotFound, http.StatusNotFound, "Post not found"},
	{posts.ErrPremiumRequired, http.StatusForbidden, "Premium subscription required"},
}

// StatusFor returns the HTTP status and client message for err.
// ok is false when err is not a known domain error.
func StatusFor(err error) (status int, message string, ok bool) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.message, true
		}
	}
	return http.StatusInternalServerError, "Internal Server Error", false
}

// handleError writes the response for a failed operation
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, message, ok := StatusFor(err)
	if !ok {
		h.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		if h.config.OnError != nil {
			h.config.OnError(w, r, err)
			return
		}
	} else if status >= http.StatusInternalServerError {
		h.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream failure")
	}
	writeError(w, status, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // Response already committed
}

// formatValidationError turns validator errors into a single readable message
func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email", fe.Field()))
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("%s must be a date (YYYY-MM-DD)", fe.Field()))
		case "min", "max", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}
