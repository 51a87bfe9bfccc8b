// Package pushservice assembles the push registration API and the delivery
// pipeline into one HTTP service.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/vssdeo/trustroots/internal/api"
	"github.com/vssdeo/trustroots/internal/metrics"
	"github.com/vssdeo/trustroots/internal/pipeline"
	"github.com/vssdeo/trustroots/pkg/push"
	"github.com/vssdeo/trustroots/pushservice/config"
)

// Route patterns served by the wrapper.
const (
	RegistrationsPath = "/api/users/push/registrations"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[push.DeliveryRequest]
	logger          *slog.Logger
}

// New assembles the service. A nil metrics value disables counting, and
// /metrics then serves the default Prometheus registry.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	dispatchers pipeline.Dispatchers,
	store push.RegistrationStore,
	authMiddleware func(http.Handler) http.Handler,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Wrapper, error) {

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	processor := pipeline.NewProcessor(dispatchers, store, m, logger)

	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.DeliveryRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	registrationAPI := api.NewRegistrationAPI(store, m, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("GET "+RegistrationsPath, registrationAPI.Get)
	handle("POST "+RegistrationsPath, registrationAPI.Register)
	handle("DELETE "+RegistrationsPath+"/{token}", registrationAPI.Unregister)

	// CORS preflight for the whole API namespace.
	mux.Handle("OPTIONS /api/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	mux.Handle("GET /metrics", m.Handler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
