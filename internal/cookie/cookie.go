// Package cookie sets and clears cookies with hardened defaults:
// HttpOnly, Secure, SameSite=Lax unless the caller opts out.
package cookie

import (
	"net/http"
	"time"
)

// Options override the hardened defaults for a single cookie.
type Options struct {
	Path     string
	Domain   string
	MaxAge   time.Duration
	SameSite http.SameSite

	// AllowJS drops HttpOnly, AllowInsecure drops Secure. Both exist for
	// local development only.
	AllowJS       bool
	AllowInsecure bool
}

// Set writes a cookie with the given name/value and hardened defaults.
func Set(w http.ResponseWriter, name, value string, opts Options) {
	path := opts.Path
	if path == "" {
		path = "/"
	}
	sameSite := opts.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}

	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   opts.Domain,
		HttpOnly: !opts.AllowJS,
		Secure:   !opts.AllowInsecure,
		SameSite: sameSite,
	}
	if opts.MaxAge > 0 {
		c.MaxAge = int(opts.MaxAge.Seconds())
		c.Expires = time.Now().Add(opts.MaxAge)
	}
	http.SetCookie(w, c)
}

// Clear expires the named cookie immediately.
func Clear(w http.ResponseWriter, name, path string) {
	if path == "" {
		path = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Get returns the named cookie's value, or "" when absent.
func Get(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
