// Package respond builds HTTP responses: JSON bodies, error envelopes,
// and chunked streams. Handlers should not call json.NewEncoder or set
// content types by hand.
package respond

import (
	"encoding/json"
	"io"
	"net/http"
)

const jsonContentType = "application/json; charset=utf-8"

// JSON writes v as a JSON body with the given status. Encoding failures
// after the header is written can only be logged by the access layer;
// the status line is already on the wire.
func JSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}

// Error writes the standard error envelope {"error": msg}.
func Error(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// NoContent writes 204 with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Stream copies src to the response with the given content type,
// flushing after each chunk when the writer supports it so clients see
// data as it arrives.
func Stream(w http.ResponseWriter, status int, contentType string, src io.Reader) error {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
