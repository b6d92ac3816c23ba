package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

// RouterConfig contains router settings
type RouterConfig struct {
	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
}

// Router wires the API handlers onto a chi router
type Router struct {
	handler   *Handler
	wsHandler http.HandlerFunc
	cfg       RouterConfig
	logger    *logger.Logger
}

// NewRouter creates a new router. wsHandler is mounted on /ws when not nil.
func NewRouter(handler *Handler, wsHandler http.HandlerFunc, cfg RouterConfig, log *logger.Logger) *Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Router{
		handler:   handler,
		wsHandler: wsHandler,
		cfg:       cfg,
		logger:    log.Named("router"),
	}
}

// Routes returns the HTTP handler serving every endpoint
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(rt.cfg.CORSAllowedOrigins))

	// Upgraded connections outlive the request timeout
	if rt.wsHandler != nil {
		r.Get("/ws", rt.wsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(rt.cfg.RequestTimeout))

		r.Get("/health", rt.handler.GetHealth)

		r.Route("/edst", func(r chi.Router) {
			r.Get("/all", rt.handler.GetAllEntries)
			r.Get("/passes", rt.handler.GetPasses)
			r.Get("/artcc/{artcc}", rt.handler.GetARTCCEntries)
			r.Get("/boundary/{artcc}", rt.handler.GetBoundary)

			r.Get("/{callsign}", rt.handler.GetEntry)
			r.Patch("/{callsign}", rt.handler.UpdateEntry)
			r.Post("/{callsign}", rt.handler.UpdateEntry)
		})

		r.Route("/gpdmaps", func(r chi.Router) {
			r.Get("/tracons/{artcc}", rt.handler.GetTraconMaps)
			r.Get("/sectors/high/{artcc}", rt.handler.GetHighSectorMaps)
			r.Get("/sectors/low/{artcc}", rt.handler.GetLowSectorMaps)
		})
	})

	return r
}

// requestLogger logs every request at debug level
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		rt.logger.Debug("Request served",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// corsMiddleware adds CORS headers for the allowed origins. "*" allows any.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowAll := false
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && origins[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
