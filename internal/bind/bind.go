// Package bind reads request bodies into Go values with size caps and
// strict decoding, translating the stdlib's decode failures into
// client-presentable errors.
package bind

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/keithlinneman/edgekit/internal/xerrors"
)

// ErrBodyTooLarge is returned when the body exceeds the configured cap.
var ErrBodyTooLarge = errors.New("request body too large")

// ErrEmptyBody is returned when a body was required but absent.
var ErrEmptyBody = errors.New("request body is empty")

// JSON decodes the request body into dst. The body is capped at maxBytes
// (the ResponseWriter is needed so the connection is closed on abuse),
// unknown fields are rejected, and trailing garbage after the first
// value is an error.
func JSON(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return ErrBodyTooLarge
		case errors.Is(err, io.EOF):
			return ErrEmptyBody
		default:
			return xerrors.Wrap(err, "decoding json body")
		}
	}

	// a second value means the client sent concatenated documents
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return xerrors.New("body must contain a single json value")
	}
	return nil
}

// Form parses an application/x-www-form-urlencoded body, capped at
// maxBytes, and returns the combined values.
func Form(w http.ResponseWriter, r *http.Request, maxBytes int64) (url.Values, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		return nil, xerrors.Newf("unsupported form content type %q", ct)
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	if err := r.ParseForm(); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ErrBodyTooLarge
		}
		return nil, xerrors.Wrap(err, "parsing form body")
	}
	return r.Form, nil
}
