// Package rpc implements the Node RPC Surface: an HTTP+JSON realization of
// the four logical services (AlbumManagement, ImageManagement,
// NodeManagement, TaskManagement) built on chi.
package rpc

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body of every non-2xx response: status, a
// machine-readable code, and a human message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// RespondJSON writes data as the response body with status.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// RespondError writes an ErrorResponse envelope, appending err's message to
// message when present.
func RespondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		message = message + ": " + err.Error()
	}
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

// ndjsonWriter streams one JSON object per line, flushing after each write
// so a client consumes the response incrementally instead of waiting for
// the whole result set to buffer.
type ndjsonWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
}

func newNDJSONWriter(w http.ResponseWriter) ndjsonWriter {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	return ndjsonWriter{w: w, flusher: flusher, enc: json.NewEncoder(w)}
}

func (n ndjsonWriter) writeLine(v interface{}) error {
	if err := n.enc.Encode(v); err != nil {
		return err
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}
