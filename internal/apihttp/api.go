// Package apihttp implements the demo request/response endpoints served
// on the public listener: echo, whoami, version, and a session cookie
// round trip.
package apihttp

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/edgekit/internal/bind"
	"github.com/keithlinneman/edgekit/internal/cookie"
	"github.com/keithlinneman/edgekit/internal/httpmw"
	"github.com/keithlinneman/edgekit/internal/log"
	"github.com/keithlinneman/edgekit/internal/respond"
	"github.com/keithlinneman/edgekit/internal/version"
)

const sessionCookie = "edgekit_session"

// API implements the v1 API endpoints
type API struct {
	logger       log.Logger
	maxBodyBytes int64
}

// NewAPI creates the v1 API handler. maxBodyBytes caps echo payloads,
// zero uses a 64 KB default.
func NewAPI(logger log.Logger, maxBodyBytes int64) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 64 << 10
	}
	return &API{
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// RegisterRoutes attaches the v1 endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/echo", api.HandleEcho)
	r.Get("/api/v1/whoami", api.HandleWhoami)
	r.Get("/api/v1/version", api.HandleVersion)
	r.Post("/api/v1/session", api.HandleSessionStart)
	r.Get("/api/v1/session", api.HandleSessionGet)
	r.Delete("/api/v1/session", api.HandleSessionEnd)
}

// EchoRequest is the echo payload
type EchoRequest struct {
	Message string `json:"message"`
}

// EchoResponse mirrors the payload back with request metadata
type EchoResponse struct {
	Message    string    `json:"message"`
	RequestID  string    `json:"request_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// WhoamiResponse reports what the edge resolved about the caller
type WhoamiResponse struct {
	ClientIP  string `json:"client_ip"`
	RequestID string `json:"request_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// SessionResponse reports the session cookie state
type SessionResponse struct {
	Session string `json:"session"`
	Active  bool   `json:"active"`
}

// HandleEcho decodes a JSON payload and mirrors it back
func (api *API) HandleEcho(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EchoRequest
	if err := bind.JSON(w, r, &req, api.maxBodyBytes); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, bind.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		respond.Error(w, status, err.Error())
		return
	}

	resp := EchoResponse{
		Message:    req.Message,
		RequestID:  httpmw.RequestIDFromContext(ctx),
		ReceivedAt: time.Now().UTC().Truncate(time.Second),
	}

	api.logger.Debug(ctx, "served echo", "bytes", len(req.Message))

	if err := respond.JSON(w, http.StatusOK, resp); err != nil {
		api.logger.Error(ctx, err, "write echo response")
	}
}

// HandleWhoami reports the resolved client identity
func (api *API) HandleWhoami(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ip := httpmw.ClientIPFromContext(ctx)
	if ip == "" {
		ip = httpmw.UnknownClientIP
	}

	resp := WhoamiResponse{
		ClientIP:  ip,
		RequestID: httpmw.RequestIDFromContext(ctx),
		UserAgent: r.UserAgent(),
	}

	if err := respond.JSON(w, http.StatusOK, resp); err != nil {
		api.logger.Error(ctx, err, "write whoami response")
	}
}

// HandleVersion serves build metadata
func (api *API) HandleVersion(w http.ResponseWriter, r *http.Request) {
	if err := respond.JSON(w, http.StatusOK, version.Get()); err != nil {
		api.logger.Error(r.Context(), err, "write version response")
	}
}

// HandleSessionStart issues the session cookie. The value is just the
// request id, enough to demonstrate the hardened cookie defaults.
func (api *API) HandleSessionStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := httpmw.RequestIDFromContext(ctx)
	if id == "" {
		respond.Error(w, http.StatusInternalServerError, "no request id")
		return
	}

	cookie.Set(w, sessionCookie, id, cookie.Options{
		MaxAge: 24 * time.Hour,
	})

	api.logger.Info(ctx, "session started")

	if err := respond.JSON(w, http.StatusCreated, SessionResponse{Session: id, Active: true}); err != nil {
		api.logger.Error(ctx, err, "write session response")
	}
}

// HandleSessionGet reports the current session cookie, if any
func (api *API) HandleSessionGet(w http.ResponseWriter, r *http.Request) {
	v := cookie.Get(r, sessionCookie)
	if v == "" {
		respond.Error(w, http.StatusNotFound, "no active session")
		return
	}
	if err := respond.JSON(w, http.StatusOK, SessionResponse{Session: v, Active: true}); err != nil {
		api.logger.Error(r.Context(), err, "write session response")
	}
}

// HandleSessionEnd clears the session cookie
func (api *API) HandleSessionEnd(w http.ResponseWriter, r *http.Request) {
	cookie.Clear(w, sessionCookie, "/")
	respond.NoContent(w)
}
