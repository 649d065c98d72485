package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/executor"
)

const maxBodyBytes = 1 << 20

// APIResponse is the standard response format
type APIResponse struct {
	Success bool            `json:"success"`
	Data    any             `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details *fulltext.Error `json:"details,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeEngineError maps err to a status code and writes it.
func writeEngineError(w http.ResponseWriter, err error) error {
	resp := APIResponse{Success: false, Error: err.Error()}
	var ftErr *fulltext.Error
	if errors.As(err, &ftErr) {
		resp.Details = ftErr
	}
	return writeJSON(w, statusFor(err), resp)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data any) error {
	return writeJSON(w, statusCode, APIResponse{Success: true, Data: data})
}

func statusFor(err error) int {
	var ftErr *fulltext.Error
	if !errors.As(err, &ftErr) {
		return http.StatusInternalServerError
	}
	switch ftErr.Kind {
	case fulltext.KindInvalidInput:
		if ftErr.Code == fulltext.ErrCodeUnknownSchema {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case fulltext.KindDuplicateBinding:
		return http.StatusUnprocessableEntity
	case fulltext.KindExecution:
		if errors.Is(err, executor.ErrBreakerOpen) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// readBody reads at most maxBodyBytes of the request body.
func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	return data, nil
}
