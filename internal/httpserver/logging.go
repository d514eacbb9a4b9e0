package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request: 5xx at error, 4xx at warn.
func RequestLogger(lg *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				kv := []interface{}{
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"latency", time.Since(start),
					"remote_ip", r.RemoteAddr,
				}
				switch {
				case status >= 500:
					lg.Errorw("http_request", kv...)
				case status >= 400:
					lg.Warnw("http_request", kv...)
				default:
					lg.Infow("http_request", kv...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
