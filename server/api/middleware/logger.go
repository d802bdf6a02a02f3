package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// statusRecorder remembers what the handler sent so the access log and the
// panic handler can see it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func recorder(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Logger writes one access log line per request and attaches a request-scoped
// logger to the context, retrievable with zerolog.Ctx. Successful requests to
// quiet paths (health checks, metric scrapes) are logged at debug level.
func Logger(log zerolog.Logger, quiet ...string) func(next http.Handler) http.Handler {
	quietPaths := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		quietPaths[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := log.With().Str("request_id", RequestIDFrom(r.Context())).Logger()
			rw := recorder(w)

			next.ServeHTTP(rw, r.WithContext(reqLog.WithContext(r.Context())))

			var evt *zerolog.Event
			switch {
			case rw.status >= 500:
				evt = reqLog.Error()
			case rw.status >= 400:
				evt = reqLog.Warn()
			default:
				if _, ok := quietPaths[r.URL.Path]; ok {
					evt = reqLog.Debug()
				} else {
					evt = reqLog.Info()
				}
			}

			evt.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Str("remote_addr", r.RemoteAddr).
				Int("status", rw.status).
				Int64("bytes", rw.bytes).
				Dur("latency", time.Since(start)).
				Msg("http_request")
		})
	}
}
