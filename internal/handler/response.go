package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/snackychef/auth-service/internal/service"
	"github.com/snackychef/auth-service/internal/token"
	"github.com/snackychef/auth-service/internal/util"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Errors     []string    `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		util.Error("failed to encode response", util.ErrorField(err))
	}
}

func respondSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, Response{
		StatusCode: status,
		Message:    message,
		Success:    true,
		Data:       data,
	})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{
		StatusCode: status,
		Message:    message,
		Success:    false,
		Errors:     []string{message},
	})
}

// respondServiceError maps service sentinels onto HTTP statuses. Unknown
// errors become a 500 with a generic message so internals never leak.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidOTP):
		respondError(w, http.StatusBadRequest, "OTP is invalid or expired")
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, token.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "Unauthorized: Invalid token")
	case errors.Is(err, service.ErrEmailNotVerified):
		respondError(w, http.StatusForbidden, "Email not verified")
	case errors.Is(err, service.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrUserExists):
		respondError(w, http.StatusConflict, "User with this email or username already exists")
	case errors.Is(err, service.ErrTooManyAttempts):
		respondError(w, http.StatusTooManyRequests, "Too many verification attempts, try again later")
	default:
		util.Error("unhandled service error", util.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
