package middleware

import (
	"context"
	"net/http"

	"github.com/byuoitav/sessionstore"
)

type contextKey int

const _handlerContextKey contextKey = 0

// Lifecycle opens a fresh session handler for every request, places it into
// the request's context, and closes it once the request has been served.
// Session ids and cookies are left to the host.
func Lifecycle(newHandler func() sessionstore.Handler, path, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := newHandler()
			h.Open(path, name)
			defer h.Close()

			ctx := context.WithValue(r.Context(), _handlerContextKey, h)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Handler gets the request's session handler from a context if it exists
func Handler(ctx context.Context) (sessionstore.Handler, bool) {
	h, ok := ctx.Value(_handlerContextKey).(sessionstore.Handler)
	return h, ok
}
