package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lunamail/billing-backend/pkg/logger"
)

// Header used to propagate request ids across hops.
const requestIDHeader = "X-Request-Id"

// RequestID makes sure every request carries an id and threads it through
// the logger context so all log lines for the request share it. A caller
// supplied id is kept; otherwise one is minted.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			w.Header().Set(requestIDHeader, id)

			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(fn)
	}
}
