package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yegors/stationmap/pkg/logger"
)

// Router wires the handlers onto a chi mux
type Router struct {
	handler       *Handler
	staticHandler http.Handler
	logger        *logger.Logger
}

// NewRouter creates a new router. staticDir may be empty.
func NewRouter(handler *Handler, staticDir string, log *logger.Logger) *Router {
	rt := &Router{
		handler: handler,
		logger:  log.Named("router"),
	}
	if staticDir != "" {
		rt.staticHandler = NewStaticFileHandler(staticDir, log)
	}
	return rt
}

// Routes returns the HTTP handler for the whole server
func (rt *Router) Routes() http.Handler {
	h := rt.handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.GetHealth)

		r.Get("/stations/{kind}", h.GetStations)
		r.Get("/stations/{kind}/{stationID}", h.GetStation)

		r.Get("/cache/{kind}", h.GetCacheStatus)
		r.Post("/cache/{kind}/refresh", h.RefreshCache)
		r.Delete("/cache/{kind}", h.InvalidateCache)
	})

	r.Get("/maps/{file}", h.GetMap)

	if h.wsServer != nil {
		r.Get("/ws", h.wsServer.HandleConnection)
	}

	if rt.staticHandler != nil {
		r.Handle("/*", rt.staticHandler)
	}

	return r
}

// requestLogger logs one line per request
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// corsMiddleware allows browser clients on other origins to read the API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
