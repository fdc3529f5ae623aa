package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/storyforge/api/internal/di"
	"github.com/storyforge/api/internal/handlers"
	"github.com/storyforge/api/internal/payments"
	"github.com/storyforge/api/internal/platform/auth"
	"github.com/storyforge/api/internal/platform/config"
	"github.com/storyforge/api/internal/platform/idempotency"
	"github.com/storyforge/api/internal/platform/jobs"
	"github.com/storyforge/api/internal/platform/observability"
	"github.com/storyforge/api/internal/platform/postgres"
	"github.com/storyforge/api/internal/platform/secrets"
	"github.com/storyforge/api/internal/platform/storage"
	"github.com/storyforge/api/internal/pdf"
	"github.com/storyforge/api/internal/printing"
	"github.com/storyforge/api/internal/services"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("init secret fetcher: %w", err)
	}
	defer func() { _ = fetcher.Close() }()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := postgres.MigrateUp(cfg.Database.DSN); err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             cfg.Database.DSN,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	gcsClient, err := gcs.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("init storage client: %w", err)
	}
	defer func() { _ = gcsClient.Close() }()

	assets, err := storage.NewAssetStore(gcsClient, cfg.Storage.AssetsBucket)
	if err != nil {
		return err
	}
	assetBaseURL := storage.PublicBaseURL(cfg.Storage.AssetsBucket)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Jobs.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	defer func() { _ = pubsubClient.Close() }()

	publisher, err := jobs.NewPubSubGenerationPublisher(pubsubClient.Topic(cfg.Jobs.GenerationTopic))
	if err != nil {
		return err
	}

	eventLog := di.EventLogger(logger)

	provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        payments.StripeLogger(eventLog),
	})
	if err != nil {
		return err
	}

	var fulfillment services.PrintFulfiller
	if cfg.Print.APIKey != "" {
		printer, err := printing.NewClient(printing.ClientConfig{
			BaseURL:      cfg.Print.BaseURL,
			APIKey:       cfg.Print.APIKey,
			AssetBaseURL: assetBaseURL,
			HTTPClient:   &http.Client{Timeout: cfg.Print.Timeout},
			Logger:       eventLog,
		})
		if err != nil {
			return err
		}
		fulfillment = printer
	} else {
		logger.Warn("print fulfilment disabled, no api key configured")
	}

	container, err := di.NewContainer(cfg, pool, di.External{
		PaymentProvider: provider,
		Publisher:       publisher,
		Fulfillment:     fulfillment,
	}, logger)
	if err != nil {
		return err
	}

	verifier, err := auth.NewHSVerifier([]byte(cfg.Auth.SigningSecret), cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return err
	}
	authn := auth.NewAuthenticator(verifier)

	builder, err := pdf.NewBuilder()
	if err != nil {
		return err
	}
	renderer, err := pdf.NewRenderer(cfg.PDF.RendererURL, &http.Client{Timeout: cfg.PDF.Timeout})
	if err != nil {
		return err
	}
	pdfService, err := pdf.NewService(pdf.ServiceDeps{
		Builder:  builder,
		Renderer: renderer,
		Assets:   assets,
		ImageURL: func(objectPath string) string { return assetBaseURL + "/" + objectPath },
		Logger:   eventLog,
	})
	if err != nil {
		return err
	}

	idemStore, err := idempotency.NewPostgresStore(pool)
	if err != nil {
		return err
	}
	idemLogger := observability.NewPrintfAdapter(logger)

	profileMW := handlers.ProfileMiddleware(container.Services.Users)

	meHandlers := handlers.NewMeHandlers(authn, container.Services.Users)
	bookHandlers := handlers.NewBookHandlers(authn, container.Services.Books, container.Services.Generation, pdfService,
		profileMW)
	orderHandlers := handlers.NewOrderHandlers(authn, container.Services.Orders, container.Services.Checkout,
		profileMW,
		idempotency.Middleware(idemStore, idempotency.WithLogger(idemLogger)))
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Reconciler)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(cfg.Storage.ProjectID),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(cfg.Storage.ProjectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(container.Repositories.Health)),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithBookRoutes(bookHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", server.Addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
