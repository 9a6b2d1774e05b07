package rest

import (
	"net/http"

	"mindsync/interfaces/http/rest/handlers"
	"mindsync/interfaces/http/rest/middleware"
	"mindsync/pkg/auth"
	"mindsync/pkg/observability"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// ReadinessFunc reports whether the service can take traffic.
type ReadinessFunc func() bool

// Router creates and configures the HTTP router
type Router struct {
	maps           *handlers.MapHandler
	websocket      http.Handler
	validator      *auth.JWTValidator
	metrics        *observability.Collector
	allowedOrigins []string
	ready          ReadinessFunc
	logger         *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	maps *handlers.MapHandler,
	websocket http.Handler,
	validator *auth.JWTValidator,
	metrics *observability.Collector,
	allowedOrigins []string,
	ready ReadinessFunc,
	logger *zap.Logger,
) *Router {
	return &Router{
		maps:           maps,
		websocket:      websocket,
		validator:      validator,
		metrics:        metrics,
		allowedOrigins: allowedOrigins,
		ready:          ready,
		logger:         logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger, rt.metrics))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.allowedOrigins,
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "x-auth-token"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	// The websocket authenticates itself before upgrading
	router.Method(http.MethodGet, "/ws", rt.websocket)

	router.Route("/api/maps", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.validator, rt.logger))
		r.Get("/{mapID}", rt.maps.GetMap)
		r.Put("/{mapID}", rt.maps.SaveMap)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck handles readiness check requests
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if rt.ready != nil && !rt.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
