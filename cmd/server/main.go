package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-form-workflows/internal/client"
	"github.com/pesio-ai/be-form-workflows/internal/config"
	"github.com/pesio-ai/be-form-workflows/internal/database"
	"github.com/pesio-ai/be-form-workflows/internal/handler"
	"github.com/pesio-ai/be-form-workflows/internal/logger"
	"github.com/pesio-ai/be-form-workflows/internal/middleware"
	"github.com/pesio-ai/be-form-workflows/internal/notify"
	"github.com/pesio-ai/be-form-workflows/internal/repository"
	"github.com/pesio-ai/be-form-workflows/internal/repository/memory"
	"github.com/pesio-ai/be-form-workflows/internal/service"
	"github.com/pesio-ai/be-form-workflows/internal/tracing"
	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

type stores struct {
	templates   repository.TemplateStore
	submissions repository.SubmissionStore
	audit       repository.AuditStore
	close       func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Form Workflows Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		OutputFile:     cfg.Tracing.OutputFile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	// Storage
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.close()

	// Notifications
	publisher, err := notify.NewPublisher(ctx, notify.Config{
		Backend:       cfg.Notify.Backend,
		NATSURL:       cfg.Notify.NATSURL,
		ClientName:    cfg.Service.Name,
		SubjectPrefix: cfg.Notify.SubjectPrefix,
		KafkaBrokers:  cfg.Notify.KafkaBrokers,
		KafkaTopic:    cfg.Notify.KafkaTopic,
		RedisURL:      cfg.Notify.RedisURL,
		RedisStream:   cfg.Notify.RedisStream,
		RedisMaxLen:   cfg.Notify.RedisMaxLen,
	}, log)
	if err != nil {
		log.Warn().Err(err).
			Str("backend", cfg.Notify.Backend).
			Msg("Notification publisher unavailable, notifications disabled")
		publisher = notify.NoopPublisher{}
	}
	dispatcher := notify.NewDispatcher(publisher, notify.DispatcherConfig{
		Workers:        cfg.Notify.Workers,
		QueueSize:      cfg.Notify.QueueSize,
		PublishTimeout: cfg.Notify.PublishTimeout,
	}, log.WithComponent("notify"))

	// Identity directory
	var directory service.IdentityDirectory = client.StaticDirectory{}
	if cfg.Identity.GRPCURL != "" {
		identityClient, err := client.NewIdentityGRPCClient(cfg.Identity.GRPCURL, cfg.Identity.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create identity gRPC client")
		}
		defer identityClient.Close()
		directory = identityClient
		log.Info().Str("identity_grpc", cfg.Identity.GRPCURL).Msg("Identity client initialized")
	}

	policy, err := workflow.ParseEmptyFlowPolicy(cfg.Workflow.EmptyFlowPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid workflow configuration")
	}

	// Initialize services
	templateService := service.NewTemplateService(st.templates, log)
	submissionService := service.NewSubmissionService(
		st.templates, st.submissions, st.audit,
		workflow.NewMachine(workflow.WithEmptyFlowPolicy(policy)),
		dispatcher, directory, log,
	)

	// Setup HTTP routes
	mux := http.NewServeMux()
	handler.NewHTTPHandler(templateService, submissionService, log).RegisterRoutes(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Actor(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS(cfg.Server.CORSOrigins)(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(handler.UnaryLogger(log.Logger)))
	handler.RegisterFormWorkflowServiceServer(grpcServer, handler.NewGRPCHandler(submissionService, log.Logger))
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	// Drain queued notifications after no new requests can enqueue.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Notification dispatcher did not drain")
	}
	stats := dispatcher.Stats()
	log.Info().
		Int64("published", stats.Published).
		Int64("failed", stats.Failed).
		Int64("dropped", stats.Dropped).
		Msg("Notification dispatcher stopped")

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracing shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// openStores connects the configured storage driver.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		mem := memory.New()
		return &stores{
			templates:   mem.Templates,
			submissions: mem.Submissions,
			audit:       mem.Audit,
			close:       func() {},
		}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")

	return &stores{
		templates:   repository.NewTemplateRepository(db),
		submissions: repository.NewSubmissionRepository(db),
		audit:       repository.NewAuditRepository(db),
		close:       db.Close,
	}, nil
}
