package websocket

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"mindsync/pkg/auth"
	apperrors "mindsync/pkg/errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades authenticated HTTP requests to hub connections.
type Server struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	validator *auth.JWTValidator
	limiter   *auth.IPRateLimiter
	errors    *apperrors.ErrorHandler
	config    ServerConfig
	logger    *zap.Logger
}

// ServerConfig holds WebSocket server configuration
type ServerConfig struct {
	ReadBufferSize        int
	WriteBufferSize       int
	AllowedOrigins        []string
	MaxConnectionsPerUser int
	SendBufferSize        int
	MaxMessageSize        int64
}

// DefaultServerConfig returns default WebSocket server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadBufferSize:        1024,
		WriteBufferSize:       1024,
		MaxConnectionsPerUser: 10,
		SendBufferSize:        256,
		MaxMessageSize:        512 * 1024,
	}
}

// NewServer creates a new WebSocket server
func NewServer(
	hub *Hub,
	validator *auth.JWTValidator,
	limiter *auth.IPRateLimiter,
	errorHandler *apperrors.ErrorHandler,
	config ServerConfig,
	logger *zap.Logger,
) *Server {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	if errorHandler == nil {
		errorHandler = apperrors.NewErrorHandler(logger, false)
	}

	s := &Server{
		hub:       hub,
		validator: validator,
		limiter:   limiter,
		errors:    errorHandler,
		config:    config,
		logger:    logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.HandleWebSocket(w, r)
}

// HandleWebSocket handles WebSocket upgrade requests
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		if allowed, _ := s.limiter.Allow(r.Context(), clientIP(r)); !allowed {
			s.errors.Handle(w, r, apperrors.NewRateLimitError(s.limiter.Limit(), "minute").WithCode("UPGRADE_RATE_LIMITED"))
			return
		}
	}

	userID, err := s.authenticateRequest(r)
	if err != nil {
		s.logger.Info("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		s.errors.Handle(w, r, apperrors.NewUnauthorizedError("authentication required").WithCause(err))
		return
	}

	if limit := s.config.MaxConnectionsPerUser; limit > 0 {
		if open := s.hub.GetConnectionCount(userID); open >= limit {
			s.errors.Handle(w, r, apperrors.NewConnectionLimitError(limit).WithDetails(map[string]interface{}{
				"user_id": userID,
				"open":    open,
			}))
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response
		s.logger.Warn("Failed to upgrade connection",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		return
	}

	client := NewClient(userID, s.hub, conn, s.config.SendBufferSize, s.config.MaxMessageSize, s.logger)
	client.Start()

	s.logger.Info("New WebSocket connection established",
		zap.String("userID", userID),
		zap.String("connectionID", client.ID()),
		zap.String("remoteAddr", r.RemoteAddr),
	)
}

// authenticateRequest validates the JWT token from the request
func (s *Server) authenticateRequest(r *http.Request) (string, error) {
	token := auth.ExtractToken(r)
	if token == "" {
		return "", errors.New("no authentication token provided")
	}

	claims, err := s.validator.ValidateToken(token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return claims.Identity(), nil
}

// checkOrigin accepts same-origin requests, requests without an Origin header
// and any origin on the allow list. "*" allows everything.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
