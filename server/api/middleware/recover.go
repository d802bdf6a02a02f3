package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Recover turns a handler panic into a 500 with the JSON error envelope the
// API uses everywhere else. http.ErrAbortHandler is re-raised so net/http
// can drop the connection.
func Recover(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := recorder(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				requestID := RequestIDFrom(r.Context())
				log.Error().
					Str("request_id", requestID).
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("http_panic")

				if rw.wroteHeader {
					return
				}
				rw.Header().Set("Content-Type", "application/json")
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(map[string]any{
					"error": map[string]any{
						"code":       "internal_error",
						"message":    http.StatusText(http.StatusInternalServerError),
						"request_id": requestID,
						"timestamp":  time.Now().UTC(),
					},
				})
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
