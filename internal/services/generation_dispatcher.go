package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/repositories"
)

const generationJobIDPrefix = "gj_"

// ErrGenerationInvalidState indicates the book status forbids dispatching or
// completing a generation job.
var ErrGenerationInvalidState = errors.New("generation: invalid book state")

// GenerationDispatcherDeps bundles collaborators for the generation pipeline.
type GenerationDispatcherDeps struct {
	Books       repositories.BookRepository
	Publisher   GenerationPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type generationDispatcher struct {
	books     repositories.BookRepository
	publisher GenerationPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewGenerationDispatcher wires dependencies into a GenerationDispatcher.
func NewGenerationDispatcher(deps GenerationDispatcherDeps) (GenerationDispatcher, error) {
	if deps.Books == nil {
		return nil, errors.New("generation dispatcher: book repository is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("generation dispatcher: publisher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &generationDispatcher{
		books:     deps.Books,
		publisher: deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Dispatch queues generation for a draft or failed book. A book already in
// flight is acknowledged without queueing a second job.
func (d *generationDispatcher) Dispatch(ctx context.Context, bookID, actorID string) (GenerationJob, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return GenerationJob{}, fmt.Errorf("%w: book id is required", ErrBookInvalidInput)
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return GenerationJob{}, fmt.Errorf("%w: actor id is required", ErrBookInvalidInput)
	}

	book, err := d.books.FindByID(ctx, bookID)
	if err != nil {
		return GenerationJob{}, d.mapRepositoryError(err)
	}
	if book.UserID != actorID {
		return GenerationJob{}, fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
	}

	now := d.clock()
	switch book.Status {
	case domain.BookStatusGenerating:
		// A job is already in flight; report acceptance without re-queueing.
		return GenerationJob{BookID: book.ID, QueuedAt: now}, nil
	case domain.BookStatusDraft, domain.BookStatusFailed:
	default:
		return GenerationJob{}, fmt.Errorf("%w: book is %s", ErrGenerationInvalidState, book.Status)
	}

	applied, err := d.books.TransitionStatus(ctx, book.ID, book.Status, domain.BookStatusGenerating)
	if err != nil {
		return GenerationJob{}, d.mapRepositoryError(err)
	}
	if !applied {
		// Lost the race with another dispatch; treat as already queued.
		return GenerationJob{BookID: book.ID, QueuedAt: now}, nil
	}

	job := GenerationJob{
		JobID:    generationJobIDPrefix + d.newID(),
		BookID:   book.ID,
		QueuedAt: now,
	}

	_, err = d.publisher.PublishGenerationJob(ctx, GenerationJobMessage{
		JobID:    job.JobID,
		BookID:   book.ID,
		UserID:   book.UserID,
		QueuedAt: now,
	})
	if err != nil {
		// Roll the status back so the book stays dispatchable.
		if _, revertErr := d.books.TransitionStatus(ctx, book.ID, domain.BookStatusGenerating, book.Status); revertErr != nil {
			d.logger(ctx, "generation.dispatch.revert_failed", map[string]any{
				"book":  book.ID,
				"error": revertErr.Error(),
			})
		}
		return GenerationJob{}, fmt.Errorf("generation: publish job: %w", err)
	}

	d.logger(ctx, "generation.dispatched", map[string]any{
		"job":  job.JobID,
		"book": book.ID,
	})

	return job, nil
}

// CompleteGeneration persists the outcome of a generation job. Only books in
// the generating state accept an outcome.
func (d *generationDispatcher) CompleteGeneration(ctx context.Context, cmd CompleteGenerationCommand) error {
	bookID := strings.TrimSpace(cmd.BookID)
	if bookID == "" {
		return fmt.Errorf("%w: book id is required", ErrBookInvalidInput)
	}
	if cmd.Content == nil && cmd.FailReason == nil {
		return fmt.Errorf("%w: content or fail reason is required", ErrBookInvalidInput)
	}
	if cmd.Content != nil && cmd.FailReason != nil {
		return fmt.Errorf("%w: content and fail reason are mutually exclusive", ErrBookInvalidInput)
	}

	book, err := d.books.FindByID(ctx, bookID)
	if err != nil {
		return d.mapRepositoryError(err)
	}
	if book.Status != domain.BookStatusGenerating {
		return fmt.Errorf("%w: book is %s", ErrGenerationInvalidState, book.Status)
	}

	if cmd.Content != nil {
		content := *cmd.Content
		book.Content = &content
		if title := strings.TrimSpace(content.Title); title != "" {
			book.Title = title
		}
		book.Status = domain.BookStatusCompleted
		book.FailReason = nil
	} else {
		reason := strings.TrimSpace(*cmd.FailReason)
		if reason == "" {
			reason = "generation failed"
		}
		book.Status = domain.BookStatusFailed
		book.FailReason = &reason
	}

	book.UpdatedAt = d.clock()
	if err := d.books.Update(ctx, book); err != nil {
		return d.mapRepositoryError(err)
	}

	d.logger(ctx, "generation.completed", map[string]any{
		"book":   book.ID,
		"status": string(book.Status),
	})
	return nil
}

func (d *generationDispatcher) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrBookNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrBookConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("generation: repository unavailable: %w", err)
		}
	}

	return err
}
