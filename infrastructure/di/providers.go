package di

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"mindsync/application/permissions"
	"mindsync/application/ports"
	"mindsync/application/presence"
	"mindsync/application/relay"
	"mindsync/application/services"
	"mindsync/application/session"
	"mindsync/infrastructure/config"
	"mindsync/infrastructure/messaging/eventbridge"
	"mindsync/infrastructure/persistence/breaker"
	"mindsync/infrastructure/persistence/dynamodb"
	"mindsync/infrastructure/persistence/memory"
	"mindsync/infrastructure/persistence/mongo"
	"mindsync/interfaces/http/rest"
	"mindsync/interfaces/http/rest/handlers"
	"mindsync/interfaces/websocket"
	"mindsync/pkg/auth"
	apperrors "mindsync/pkg/errors"
	"mindsync/pkg/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	serviceName = "mindsync"

	developmentSecret = "development-secret-change-in-production"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", serviceName)), nil
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics() *observability.Collector {
	return observability.NewCollector(serviceName)
}

// ProvideTracer creates the tracer
func ProvideTracer() *observability.Tracer {
	return observability.NewTracer(serviceName)
}

// AWSConfigLoader loads the shared AWS configuration on first use, so that
// deployments without AWS backends never touch the credential chain.
type AWSConfigLoader struct {
	ctx    context.Context
	region string

	once   sync.Once
	config aws.Config
	err    error
}

// ProvideAWSConfigLoader creates the lazy AWS configuration
func ProvideAWSConfigLoader(ctx context.Context, cfg *config.Config) *AWSConfigLoader {
	return &AWSConfigLoader{ctx: ctx, region: cfg.Store.AWSRegion}
}

// Load returns the AWS configuration.
func (l *AWSConfigLoader) Load() (aws.Config, error) {
	l.once.Do(func() {
		l.config, l.err = awsconfig.LoadDefaultConfig(l.ctx, awsconfig.WithRegion(l.region))
	})
	return l.config, l.err
}

// ProvideDocumentRepository selects the configured store backend and wraps it
// in a circuit breaker.
func ProvideDocumentRepository(
	ctx context.Context,
	cfg *config.Config,
	awsLoader *AWSConfigLoader,
	logger *zap.Logger,
) (ports.DocumentRepository, func(), error) {
	var (
		store   ports.DocumentRepository
		cleanup = func() {}
	)

	switch cfg.Store.Backend {
	case config.StoreDynamoDB:
		awsCfg, err := awsLoader.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		store = dynamodb.NewDocumentRepository(awsdynamodb.NewFromConfig(awsCfg), cfg.Store.DynamoDBTable, logger)

	case config.StoreMongo:
		client, err := mongo.Connect(ctx, cfg.Store.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		store = mongo.NewDocumentRepository(client.Database(cfg.Store.MongoDatabase), logger)
		cleanup = func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				logger.Warn("Failed to disconnect from MongoDB", zap.Error(err))
			}
		}

	default:
		logger.Warn("Using in-memory document store; data is lost on restart")
		store = memory.NewDocumentRepository()
	}

	logger.Info("Document store configured", zap.String("backend", cfg.Store.Backend))

	return breaker.New(store, breaker.Settings{
		Name:        cfg.Store.Backend,
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}, logger), cleanup, nil
}

// ProvideEventPublisher creates the EventBridge presence publisher, or nil
// when no bus is configured.
func ProvideEventPublisher(
	cfg *config.Config,
	awsLoader *AWSConfigLoader,
	logger *zap.Logger,
	metrics *observability.Collector,
) (*eventbridge.Publisher, error) {
	if cfg.Events.EventBusName == "" {
		return nil, nil
	}

	awsCfg, err := awsLoader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return eventbridge.NewPublisher(
		awseventbridge.NewFromConfig(awsCfg),
		cfg.Events.EventBusName,
		cfg.Events.Source,
		cfg.Events.BufferSize,
		logger,
		metrics,
	), nil
}

// ProvidePresencePublisher adapts the optional publisher to the port.
func ProvidePresencePublisher(p *eventbridge.Publisher) ports.PresencePublisher {
	if p == nil {
		return ports.NoopPresencePublisher{}
	}
	return p
}

// ProvideRegistry creates the process's session registry
func ProvideRegistry() *session.Registry {
	return session.NewRegistry()
}

// ProvideGate creates the permission gate
func ProvideGate(
	repo ports.DocumentRepository,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracer *observability.Tracer,
) *permissions.Gate {
	return permissions.NewGate(repo, logger, metrics, tracer)
}

// ProvideLifecycle creates the presence lifecycle
func ProvideLifecycle(
	registry *session.Registry,
	gate *permissions.Gate,
	publisher ports.PresencePublisher,
	logger *zap.Logger,
	metrics *observability.Collector,
) *presence.Lifecycle {
	return presence.NewLifecycle(registry, gate, publisher, logger, metrics)
}

// ProvideRelay creates the change relay
func ProvideRelay(registry *session.Registry, logger *zap.Logger, metrics *observability.Collector) *relay.Relay {
	return relay.New(registry, logger, metrics)
}

// ProvideHub creates the websocket hub. The caller runs it.
func ProvideHub(
	lifecycle *presence.Lifecycle,
	relay *relay.Relay,
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Collector,
) *websocket.Hub {
	return websocket.NewHub(lifecycle, relay, websocket.HubConfig{
		MaxBatchOps:       cfg.Sync.MaxBatchOps,
		PermissionTimeout: cfg.Sync.PermissionTimeout,
	}, logger, metrics)
}

// ProvideJWTValidator creates the token validator
func ProvideJWTValidator(cfg *config.Config, logger *zap.Logger) (*auth.JWTValidator, error) {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		logger.Warn("JWT_SECRET not set, using the development secret")
		secret = developmentSecret
	}

	var audience []string
	if cfg.Auth.JWTAudience != "" {
		for _, a := range strings.Split(cfg.Auth.JWTAudience, ",") {
			audience = append(audience, strings.TrimSpace(a))
		}
	}

	return auth.NewJWTValidator(auth.JWTConfig{
		SecretKey: secret,
		Issuer:    cfg.Auth.JWTIssuer,
		Audience:  audience,
	})
}

// ProvideWebSocketServer creates the websocket upgrade handler
func ProvideWebSocketServer(
	hub *websocket.Hub,
	validator *auth.JWTValidator,
	errorHandler *apperrors.ErrorHandler,
	cfg *config.Config,
	logger *zap.Logger,
) *websocket.Server {
	serverCfg := websocket.DefaultServerConfig()
	serverCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	serverCfg.MaxConnectionsPerUser = cfg.Sync.MaxConnectionsPerUser
	serverCfg.SendBufferSize = cfg.Sync.SendBufferSize
	serverCfg.MaxMessageSize = cfg.Sync.MaxMessageSize

	return websocket.NewServer(hub, validator, auth.NewIPRateLimiter(cfg.Auth.UpgradesPerMinute), errorHandler, serverCfg, logger)
}

// ProvideDocumentService creates the document service
func ProvideDocumentService(repo ports.DocumentRepository, logger *zap.Logger) *services.DocumentService {
	return services.NewDocumentService(repo, logger)
}

// ProvideErrorHandler creates the HTTP error handler
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *apperrors.ErrorHandler {
	return apperrors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideMapHandler creates the map REST handler
func ProvideMapHandler(
	documents *services.DocumentService,
	errorHandler *apperrors.ErrorHandler,
	logger *zap.Logger,
) *handlers.MapHandler {
	return handlers.NewMapHandler(documents, errorHandler, logger)
}

// ProvideRouter builds the HTTP handler. The service is ready while the hub
// is running.
func ProvideRouter(
	maps *handlers.MapHandler,
	ws *websocket.Server,
	validator *auth.JWTValidator,
	metrics *observability.Collector,
	hub *websocket.Hub,
	cfg *config.Config,
	logger *zap.Logger,
) http.Handler {
	ready := func() bool {
		select {
		case <-hub.Done():
			return false
		default:
			return true
		}
	}
	return rest.NewRouter(maps, ws, validator, metrics, cfg.Server.AllowedOrigins, ready, logger).Setup()
}
