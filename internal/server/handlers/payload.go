package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"hegemony-server/internal/shared/errors"
)

const maxBodyBytes = 1 << 20 // 1 MB

// readPayload returns the request body as raw JSON. An empty body is an
// empty object.
func readPayload(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.WrapValidation("failed to read request body", err)
	}
	if len(data) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(data) {
		return nil, errors.Validation("invalid JSON in request body")
	}
	return json.RawMessage(data), nil
}
