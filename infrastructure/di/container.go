package di

import (
	"net/http"

	"mindsync/application/ports"
	"mindsync/application/session"
	"mindsync/infrastructure/config"
	"mindsync/infrastructure/messaging/eventbridge"
	"mindsync/interfaces/websocket"
	"mindsync/pkg/observability"

	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Collector
	Documents ports.DocumentRepository
	Registry  *session.Registry
	Hub       *websocket.Hub
	// Publisher is nil when presence events are disabled.
	Publisher *eventbridge.Publisher
	Handler   http.Handler
}
