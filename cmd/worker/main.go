package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/storyforge/api/internal/ai"
	"github.com/storyforge/api/internal/di"
	"github.com/storyforge/api/internal/platform/config"
	"github.com/storyforge/api/internal/platform/jobs"
	"github.com/storyforge/api/internal/platform/observability"
	"github.com/storyforge/api/internal/platform/postgres"
	"github.com/storyforge/api/internal/platform/secrets"
	"github.com/storyforge/api/internal/platform/storage"
	"github.com/storyforge/api/internal/repositories"
	"github.com/storyforge/api/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
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

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Jobs.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	defer func() { _ = pubsubClient.Close() }()

	publisher, err := jobs.NewPubSubGenerationPublisher(pubsubClient.Topic(cfg.Jobs.GenerationTopic))
	if err != nil {
		return err
	}

	container, err := di.NewContainer(cfg, pool, di.External{Publisher: publisher}, logger)
	if err != nil {
		return err
	}

	eventLog := di.EventLogger(logger)

	aiClient, err := ai.NewClient(ai.ClientConfig{
		BaseURL:    cfg.AI.BaseURL,
		APIKey:     cfg.AI.APIKey,
		ChatModel:  cfg.AI.ChatModel,
		ImageModel: cfg.AI.ImageModel,
		Logger:     eventLog,
	})
	if err != nil {
		return err
	}
	story, err := ai.NewStoryGenerator(aiClient)
	if err != nil {
		return err
	}
	illustrator, err := ai.NewIllustrator(aiClient)
	if err != nil {
		return err
	}
	generator, err := ai.NewBookGenerator(ai.BookGeneratorDeps{
		Story:       story,
		Illustrator: illustrator,
		Assets:      assets,
		Logger:      eventLog,
	})
	if err != nil {
		return err
	}

	worker := &generationWorker{
		books:      container.Repositories.Books,
		generation: container.Services.Generation,
		generator:  generator,
		logger:     logger,
	}

	sub := pubsubClient.Subscription(cfg.Jobs.GenerationSubscription)
	logger.Info("worker listening", zap.String("subscription", sub.ID()))

	if err := sub.Receive(ctx, worker.handle); err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

type bookFinder interface {
	FindByID(ctx context.Context, bookID string) (services.Book, error)
}

type generationWorker struct {
	books      bookFinder
	generation services.GenerationDispatcher
	generator  *ai.BookGenerator
	logger     *zap.Logger
}

// handle processes one generation job. Malformed messages and unknown books
// are acked so they do not poison the subscription; infrastructure failures
// are nacked for redelivery.
func (w *generationWorker) handle(ctx context.Context, msg *pubsub.Message) {
	var job services.GenerationJobMessage
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		w.logger.Error("drop malformed generation job", zap.Error(err))
		msg.Ack()
		return
	}

	log := w.logger.With(zap.String("job_id", job.JobID), zap.String("book_id", job.BookID))

	book, err := w.books.FindByID(ctx, job.BookID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			log.Warn("book deleted before generation", zap.Error(err))
			msg.Ack()
			return
		}
		log.Error("load book", zap.Error(err))
		msg.Nack()
		return
	}

	content, genErr := w.generator.Generate(ctx, book)

	cmd := services.CompleteGenerationCommand{BookID: job.BookID}
	if genErr != nil {
		reason := genErr.Error()
		cmd.FailReason = &reason
		log.Warn("generation failed", zap.Error(genErr))
	} else {
		cmd.Content = &content
	}

	if err := w.generation.CompleteGeneration(ctx, cmd); err != nil {
		// Duplicate deliveries find the book already out of the generating
		// state; those must not be redelivered.
		if errors.Is(err, services.ErrGenerationInvalidState) {
			log.Warn("stale generation job", zap.Error(err))
			msg.Ack()
			return
		}
		log.Error("record generation outcome", zap.Error(err))
		msg.Nack()
		return
	}

	log.Info("generation job finished", zap.Bool("succeeded", genErr == nil))
	msg.Ack()
}
