package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// readJSON decodes a body of at most 1MB into data, rejecting unknown fields.
func readJSON(w http.ResponseWriter, r *http.Request, data any) error {
	maxBytes := 1_048_578
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) error {
	type envelope struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Status  int    `json:"status"`
	}

	return writeJSON(w, status, &envelope{
		Success: false,
		Message: message,
		Status:  status,
	})
}

// writeJSONDetail is writeJSONError with extra machine-readable context, such
// as per-field validation messages or duplicate candidates.
func writeJSONDetail(w http.ResponseWriter, status int, message string, details any) error {
	type envelope struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Status  int    `json:"status"`
		Details any    `json:"details,omitempty"`
	}

	return writeJSON(w, status, &envelope{
		Message: message,
		Status:  status,
		Details: details,
	})
}

func (app *application) jsonResponse(w http.ResponseWriter, status int, data any) error {
	type envelope struct {
		Data any `json:"data"`
	}
	return writeJSON(w, status, &envelope{Data: data})
}

// readOptionalJSON is readJSON that accepts an empty body.
func readOptionalJSON(w http.ResponseWriter, r *http.Request, data any) error {
	err := readJSON(w, r, data)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func readIDParam(r *http.Request, name string) (int64, error) {
	id, err := parsePositiveInt(chi.URLParam(r, name))
	if err != nil {
		return 0, errInvalidRequest("invalid " + name)
	}
	return id, nil
}

func parsePositiveInt(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

type errInvalidRequest string

func (e errInvalidRequest) Error() string { return string(e) }
