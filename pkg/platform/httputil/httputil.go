// Package httputil holds the JSON request/response helpers shared by HTTP handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "moltens/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies; claim payloads are a few hundred bytes.
const maxBodyBytes = 64 << 10

// Validatable is implemented by request types that check their own shape.
type Validatable interface {
	Validate() error
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"error": code, "error_description": message, ...details}.
// Internal errors never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	de, ok := dErrors.As(err)
	if !ok {
		de = dErrors.Wrap(err, dErrors.CodeInternal, "internal error")
	}

	body := make(map[string]any, len(de.Details)+3)
	for k, v := range de.Details {
		body[k] = v
	}
	body["error"] = string(de.Code)
	if de.Code != dErrors.CodeInternal && de.Message != "" {
		body["error_description"] = de.Message
	}
	if de.Reason != "" {
		body["reason"] = de.Reason
	}
	WriteJSON(w, dErrors.ToHTTPStatus(de.Code), body)
}

// DecodeAndPrepare decodes the JSON body into T and validates it. On failure it
// writes the error response, logs it and returns ok=false.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := PT(new(T))

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(req); err != nil {
		msg := "invalid JSON body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "request body too large"
		} else if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		logger.WarnContext(ctx, "failed to decode request",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, msg))
		return nil, false
	}

	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, err)
		return nil, false
	}
	return (*T)(req), true
}
