package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/infra/logger"
)

// internalErrorBody mirrors the gateway's error envelope; this package cannot
// import the gateway.
const internalErrorBody = `{"success":false,"error":{"code":"` + apperr.CodeInternal + `","message":"Internal server error"}}`

// Recovery turns a handler panic into a 500 with the usual error envelope.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recovery(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				log.ErrorContext(r.Context(), "handler panic",
					slog.String("panic", fmt.Sprint(p)),
					slog.String("route", r.Method+" "+r.URL.Path),
					slog.String("request_id", logger.RequestID(r.Context())),
					slog.String("stack", string(debug.Stack())),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(internalErrorBody + "\n"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
