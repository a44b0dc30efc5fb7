package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/lunamail/billing-backend/api/responses"
	pkgerrors "github.com/lunamail/billing-backend/pkg/errors"
	"github.com/lunamail/billing-backend/pkg/logger"
)

// Recoverer turns a handler panic into a logged 500 so one bad request
// cannot take the process down. http.ErrAbortHandler is re-raised as the
// net/http contract requires.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err := fmt.Errorf("panic: %v", rec)
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"panic": fmt.Sprint(rec),
						"stack": string(debug.Stack()),
					})
					logg.Error(ctx, "panic.recovered", err)
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
