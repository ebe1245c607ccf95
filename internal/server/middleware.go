package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"surgiplan/pkg/logger"
)

type httpMiddleware struct {
	log *logger.Logger
}

func newMiddleware(log *logger.Logger) *httpMiddleware {
	return &httpMiddleware{log: log.Named("http")}
}

// Logger logs one line per request.
func (m *httpMiddleware) Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			m.log.Info("http request",
				logger.String("request_id", middleware.GetReqID(r.Context())),
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", ww.Status()),
				logger.Int("bytes", ww.BytesWritten()),
				logger.Duration("duration", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// CORS answers preflight requests and tags responses for the listed origins.
// "*" allows any origin.
func (m *httpMiddleware) CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := false
			if origin != "" {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *httpMiddleware) RequestID(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func (m *httpMiddleware) Recoverer(next http.Handler) http.Handler {
	return middleware.Recoverer(next)
}
