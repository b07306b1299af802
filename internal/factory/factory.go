package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"grant-gateway/internal/audit"
	"grant-gateway/internal/client"
	"grant-gateway/internal/config"
	"grant-gateway/internal/events"
	"grant-gateway/internal/handler"
	"grant-gateway/internal/policy"
	"grant-gateway/internal/ratelimit"
	"grant-gateway/internal/repository/postgres"
	"grant-gateway/internal/repository/redis"
	"grant-gateway/internal/service"
	"grant-gateway/internal/session"
	"grant-gateway/internal/tls"
	"grant-gateway/internal/util"
)

// Factory manages the lifecycle of all application dependencies. Postgres is
// the only hard requirement; Redis, Kafka, and ClickHouse degrade to no-ops
// when unavailable so the gateway keeps serving.
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	postgresClient   *client.PostgresClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Gateway pieces
	originPolicy       *policy.OriginPolicy
	challengeVerifier  *policy.ChallengeVerifier
	limiter            *ratelimit.Limiter
	anonymizer         *session.Anonymizer
	feedbackRepository *postgres.FeedbackRepository
	feedbackService    *service.FeedbackService
	recommendService   *service.RecommendService
	auditRecorder      *audit.Recorder
	eventPublisher     *events.Publisher

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeGateway()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		util.Bool("challenge_enabled", cfg.Challenge.Secret != ""),
	)

	return factory, nil
}

// initializeClients sets up external stores. Only Postgres failure is fatal:
// feedback has nowhere else to live. The rest log a warning and stay nil.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Postgres (required)
	pg, err := client.NewPostgresClient(f.config)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	f.postgresClient = pg
	if err := f.postgresClient.InitSchema(ctx); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	util.Info("Postgres client initialized and schema ready")

	// Redis (optional, the rate limiter fails open without it)
	if rc, err := client.NewRedisClient(f.config); err != nil {
		util.Warn("Redis initialization failed - rate limiting disabled", util.ErrorField(err))
	} else {
		f.redisClient = rc
	}

	// Kafka (optional)
	if len(f.config.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without events", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	// ClickHouse (optional)
	if f.config.ClickHouse.URL != "" {
		if ch, err := client.NewClickHouseClient(f.config); err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without audit trail", util.ErrorField(err))
		} else {
			f.clickhouseClient = ch
			f.auditRecorder = audit.NewRecorder(ch)
			if err := f.auditRecorder.InitSchema(ctx); err != nil {
				util.Warn("ClickHouse schema initialization failed", util.ErrorField(err))
			}
		}
	}

	return nil
}

// initializeGateway wires policies, services, and repositories.
func (f *Factory) initializeGateway() {
	cfg := f.config

	f.originPolicy = policy.NewOriginPolicy(cfg.CORS.AllowedOrigins)
	f.challengeVerifier = policy.NewChallengeVerifier(
		cfg.Challenge.Secret, cfg.Challenge.VerifyURL, cfg.Challenge.Timeout)
	f.anonymizer = session.NewAnonymizer(cfg.Session.Salt)

	var store ratelimit.CounterStore
	if f.redisClient != nil {
		store = redis.NewCounterCache(f.redisClient)
	}
	f.limiter = ratelimit.NewLimiter(store, cfg.RateLimit.Enabled, cfg.RateLimit.Window, map[string]int64{
		handler.ActionRecommend: int64(cfg.RateLimit.RecommendLimit),
		handler.ActionFeedback:  int64(cfg.RateLimit.FeedbackLimit),
	})

	f.eventPublisher = events.NewPublisher(f.kafkaProducer, cfg.Kafka.FeedbackTopic)
	f.feedbackRepository = postgres.NewFeedbackRepository(f.postgresClient)
	f.feedbackService = service.NewFeedbackService(
		f.feedbackRepository, f.anonymizer, f.eventPublisher, cfg.Feedback.StatsPageSize)
	f.recommendService = service.NewRecommendService(
		cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.Timeout)
}

// GatewayHandler assembles the request handler from the wired dependencies.
func (f *Factory) GatewayHandler() *handler.GatewayHandler {
	return handler.NewGatewayHandler(
		f.originPolicy,
		f.challengeVerifier,
		f.limiter,
		f.anonymizer,
		f.feedbackService,
		f.recommendService,
		f.auditRecorder,
		f,
		f.config.Challenge.RequiredForFeedback,
	)
}

// StartBackgroundJobs launches long-running maintenance work tied to ctx.
func (f *Factory) StartBackgroundJobs(ctx context.Context) {
	f.feedbackService.StartRetentionSweep(ctx, f.config.Feedback.RetentionDays)
}

// HealthCheck reports per-dependency status. Optional dependencies only
// appear when configured.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.postgresClient != nil {
		if err := f.postgresClient.HealthCheck(ctx); err != nil {
			healthErrors["postgres"] = err
		}
	} else {
		healthErrors["postgres"] = fmt.Errorf("postgres client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// Optional dependencies degrade gracefully; only Postgres gates health.
	delete(healthErrors, "redis")
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.postgresClient != nil {
			_ = f.postgresClient.Close()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) OriginPolicy() *policy.OriginPolicy {
	return f.originPolicy
}
