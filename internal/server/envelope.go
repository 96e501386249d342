package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// Meta accompanies every JSON response.
type Meta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
}

// ErrorBody is the error half of the envelope. Code is a taxonomy code;
// Details is optional structured context for debugging.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Envelope is the uniform JSON response shape.
type Envelope struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
	Meta   Meta       `json:"meta"`
}

func newMeta(r *http.Request) Meta {
	return Meta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestIDFrom(r.Context()),
	}
}

// writeData sends a success envelope. The body is encoded into a buffer
// first so an encoding failure can still produce a clean 500 instead of
// a half-written response.
func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	env := Envelope{Status: "ok", Data: data, Meta: newMeta(r)}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(env); err != nil {
		writeError(w, r, newAPIError(codeInternal, http.StatusInternalServerError, "failed to encode response", nil))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// writeError sends an error envelope from an apiError.
func writeError(w http.ResponseWriter, r *http.Request, apiErr *apiError) {
	env := Envelope{
		Status: "error",
		Error: &ErrorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		},
		Meta: newMeta(r),
	}

	body, err := json.Marshal(env)
	if err != nil {
		http.Error(w, apiErr.Message, apiErr.HTTPStatus)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)
	w.Write(body)
}
