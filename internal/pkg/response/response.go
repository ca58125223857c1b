// Package response provides JSON response helpers for API handlers.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/tradingapp/authd/internal/pkg/apierrors"
)

// Response is the envelope every endpoint writes. Success mirrors the HTTP
// status so clients can branch without inspecting codes.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// JSON writes a success envelope with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{Success: true, Data: data})
}

// Message writes a success envelope carrying only a human-readable message.
func Message(w http.ResponseWriter, status int, message string) {
	write(w, status, Response{Success: true, Message: message})
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Error writes an error envelope using the error's status code.
func Error(w http.ResponseWriter, err error) {
	apiErr := apierrors.AsAPIError(err)
	write(w, apiErr.StatusCode, Response{Success: false, Error: apiErr})
}

// Unauthorized writes a 401 Unauthorized error response.
func Unauthorized(w http.ResponseWriter) {
	Error(w, apierrors.ErrUnauthorized)
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter) {
	Error(w, apierrors.ErrInternal)
}

// ValidationErrors writes a 400 response with per-field validation messages.
func ValidationErrors(w http.ResponseWriter, fields map[string]string) {
	Error(w, apierrors.NewValidationErrors(fields))
}

func write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are gone; nothing left to do but abandon the body.
		_ = err
	}
}
