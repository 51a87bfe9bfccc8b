package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/vssdeo/trustroots/internal/metrics"
	"github.com/vssdeo/trustroots/internal/pipeline"
	"github.com/vssdeo/trustroots/internal/platform/apns"
	"github.com/vssdeo/trustroots/internal/platform/fcm"
	"github.com/vssdeo/trustroots/internal/storage/cache"
	fsStore "github.com/vssdeo/trustroots/internal/storage/firestore"
	pgStore "github.com/vssdeo/trustroots/internal/storage/postgres"
	"github.com/vssdeo/trustroots/pkg/push"
	"github.com/vssdeo/trustroots/pushservice"
	"github.com/vssdeo/trustroots/pushservice/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "trustroots-push-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return err
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client failed: %w", err)
	}
	defer psClient.Close()

	store, closeStore, err := newRegistrationStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		store = cache.NewCachedStore(store, redisClient, cfg.Redis.TTL, logger)
		logger.Info("RegistrationStore upgraded", "type", "redis_cached_"+cfg.Storage.Driver)
	}

	// --- Auth ---
	identityURL := cfg.IdentityURL
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		return fmt.Errorf("failed to discover jwt config: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return fmt.Errorf("failed to create auth middleware: %w", err)
	}

	// --- Dispatchers ---
	dispatchers, err := newDispatchers(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		return err
	}

	service, err := pushservice.New(
		cfg,
		consumer,
		dispatchers,
		store,
		authMiddleware,
		metrics.New(prometheus.NewRegistry()),
		logger,
	)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

func newRegistrationStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (push.RegistrationStore, func(), error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		store, err := pgStore.Open(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("RegistrationStore initialized", "type", "postgres")
		return store, func() {}, nil
	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		logger.Info("RegistrationStore initialized", "type", "firestore")
		return fsStore.NewStore(fsClient), func() { _ = fsClient.Close() }, nil
	}
}

// newDispatchers routes web and Android tokens through FCM and, when
// configured, iOS tokens through APNs.
func newDispatchers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Dispatchers, error) {
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create fcm messaging client: %w", err)
	}
	fcmDispatcher := fcm.NewDispatcher(fcmMessaging, cfg.DefaultIcon, logger)

	dispatchers := pipeline.Dispatchers{
		push.PlatformWeb:     fcmDispatcher,
		push.PlatformAndroid: fcmDispatcher,
	}

	if !cfg.APNS.Enabled {
		logger.Warn("APNs not configured; iOS registrations will be skipped")
		return dispatchers, nil
	}
	apnsDispatcher, err := apns.NewDispatcher(apns.Config{
		KeyID:        cfg.APNS.KeyID,
		TeamID:       cfg.APNS.TeamID,
		BundleID:     cfg.APNS.BundleID,
		P8KeyContent: cfg.APNS.P8KeyContent,
		Development:  cfg.APNS.Development,
	}, logger)
	if err != nil {
		return nil, err
	}
	dispatchers[push.PlatformIOS] = apnsDispatcher
	return dispatchers, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := pubsubName(cfg.ProjectID, "subscriptions", cfg.PubsubConsumerConfig.SubscriptionID)
	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              pubsubName(cfg.ProjectID, "topics", cfg.TopicID),
		AckDeadlineSeconds: 10,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     pubsubName(cfg.ProjectID, "topics", cfg.SubscriptionDLQTopicID),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) != codes.AlreadyExists {
			return nil, fmt.Errorf("could not create subscription %s: %w", sub, err)
		}
		logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

func pubsubName(project, kind, id string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
