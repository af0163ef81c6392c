package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/edgekit/internal/log"
	"github.com/keithlinneman/edgekit/internal/xerrors"
)

// Recover catches panics from downstream handlers, logs them with a
// stack, optionally notifies onPanic (metrics), and serves a plain 500.
// http.ErrAbortHandler is re-raised so net/http can abort the connection
// the way it expects to.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				if onPanic != nil {
					onPanic()
				}

				err, ok := rec.(error)
				if !ok {
					err = xerrors.Newf("panic: %v", rec)
				}
				if L != nil {
					L.Error(r.Context(), err, "panic recovered",
						"url.path", r.URL.Path,
						"http.request.method", r.Method,
						"stack", string(debug.Stack()),
					)
				}

				// headers may already be gone; best effort
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
