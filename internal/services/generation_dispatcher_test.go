package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/storyforge/api/internal/domain"
)

type capturePublisher struct {
	messages []GenerationJobMessage
	err      error
}

func (c *capturePublisher) PublishGenerationJob(_ context.Context, message GenerationJobMessage) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.messages = append(c.messages, message)
	return "msg-1", nil
}

func newDispatcherForTest(t *testing.T, books *stubBookRepo, publisher GenerationPublisher, now time.Time) GenerationDispatcher {
	t.Helper()
	d, err := NewGenerationDispatcher(GenerationDispatcherDeps{
		Books:       books,
		Publisher:   publisher,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "000TEST" },
	})
	if err != nil {
		t.Fatalf("new generation dispatcher: %v", err)
	}
	return d
}

func TestGenerationDispatcherQueuesDraftBook(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 12, 11, 0, 0, 0, time.UTC)

	var from, to domain.BookStatus
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1", Status: domain.BookStatusDraft}, nil
		},
		transitionFn: func(_ context.Context, _ string, f, t domain.BookStatus) (bool, error) {
			from, to = f, t
			return true, nil
		},
	}
	publisher := &capturePublisher{}
	d := newDispatcherForTest(t, books, publisher, now)

	job, err := d.Dispatch(ctx, "bk_1", "usr_1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if job.JobID != "gj_000TEST" {
		t.Fatalf("unexpected job id %s", job.JobID)
	}
	if from != domain.BookStatusDraft || to != domain.BookStatusGenerating {
		t.Fatalf("unexpected transition %s -> %s", from, to)
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("expected 1 published message got %d", len(publisher.messages))
	}
	msg := publisher.messages[0]
	if msg.BookID != "bk_1" || msg.UserID != "usr_1" || msg.JobID != "gj_000TEST" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !msg.QueuedAt.Equal(now) {
		t.Fatalf("expected queued at %v got %v", now, msg.QueuedAt)
	}
}

func TestGenerationDispatcherInFlightBookIsNotRequeued(t *testing.T) {
	ctx := context.Background()
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1", Status: domain.BookStatusGenerating}, nil
		},
	}
	publisher := &capturePublisher{}
	d := newDispatcherForTest(t, books, publisher, time.Now())

	job, err := d.Dispatch(ctx, "bk_1", "usr_1")
	if err != nil {
		t.Fatalf("dispatch while generating: %v", err)
	}
	if job.JobID != "" {
		t.Fatalf("expected no new job id got %s", job.JobID)
	}
	if len(publisher.messages) != 0 {
		t.Fatalf("in-flight book must not be re-queued: %+v", publisher.messages)
	}
}

func TestGenerationDispatcherRejectsCompletedBook(t *testing.T) {
	ctx := context.Background()
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1", Status: domain.BookStatusCompleted}, nil
		},
	}
	d := newDispatcherForTest(t, books, &capturePublisher{}, time.Now())

	_, err := d.Dispatch(ctx, "bk_1", "usr_1")
	if !errors.Is(err, ErrGenerationInvalidState) {
		t.Fatalf("expected ErrGenerationInvalidState got %v", err)
	}
}

func TestGenerationDispatcherPublishFailureRevertsStatus(t *testing.T) {
	ctx := context.Background()
	var transitions [][2]domain.BookStatus
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1", Status: domain.BookStatusFailed}, nil
		},
		transitionFn: func(_ context.Context, _ string, from, to domain.BookStatus) (bool, error) {
			transitions = append(transitions, [2]domain.BookStatus{from, to})
			return true, nil
		},
	}
	publisher := &capturePublisher{err: errors.New("pubsub down")}
	d := newDispatcherForTest(t, books, publisher, time.Now())

	_, err := d.Dispatch(ctx, "bk_1", "usr_1")
	if err == nil {
		t.Fatal("expected publish failure to surface")
	}
	if len(transitions) != 2 {
		t.Fatalf("expected forward and revert transitions got %d", len(transitions))
	}
	if transitions[1] != [2]domain.BookStatus{domain.BookStatusGenerating, domain.BookStatusFailed} {
		t.Fatalf("unexpected revert transition %v", transitions[1])
	}
}

func TestGenerationDispatcherHidesForeignBook(t *testing.T) {
	ctx := context.Background()
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_owner", Status: domain.BookStatusDraft}, nil
		},
	}
	d := newDispatcherForTest(t, books, &capturePublisher{}, time.Now())

	_, err := d.Dispatch(ctx, "bk_1", "usr_intruder")
	if !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound got %v", err)
	}
}

func TestGenerationDispatcherCompleteGenerationSuccess(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

	var updated domain.Book
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1", Title: "Working title", Status: domain.BookStatusGenerating}, nil
		},
		updateFn: func(_ context.Context, book domain.Book) error {
			updated = book
			return nil
		},
	}
	d := newDispatcherForTest(t, books, &capturePublisher{}, now)

	content := BookContent{
		Title:         "Nina et le dragon",
		CoverImageURL: "books/bk_1/cover.png",
		Pages:         []BookPage{{Text: "Il etait une fois...", ImageURL: "books/bk_1/pages/1.png"}},
		Conclusion:    "Fin.",
	}
	if err := d.CompleteGeneration(ctx, CompleteGenerationCommand{BookID: "bk_1", Content: &content}); err != nil {
		t.Fatalf("complete generation: %v", err)
	}

	if updated.Status != domain.BookStatusCompleted {
		t.Fatalf("expected completed got %s", updated.Status)
	}
	if updated.Content == nil || len(updated.Content.Pages) != 1 {
		t.Fatalf("content not persisted: %+v", updated.Content)
	}
	if updated.Title != "Nina et le dragon" {
		t.Fatalf("generated title not adopted: %s", updated.Title)
	}
	if updated.FailReason != nil {
		t.Fatalf("fail reason must be cleared, got %v", *updated.FailReason)
	}
}

func TestGenerationDispatcherCompleteGenerationFailure(t *testing.T) {
	ctx := context.Background()
	var updated domain.Book
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1", Status: domain.BookStatusGenerating}, nil
		},
		updateFn: func(_ context.Context, book domain.Book) error {
			updated = book
			return nil
		},
	}
	d := newDispatcherForTest(t, books, &capturePublisher{}, time.Now())

	reason := "image generation quota exceeded"
	if err := d.CompleteGeneration(ctx, CompleteGenerationCommand{BookID: "bk_1", FailReason: &reason}); err != nil {
		t.Fatalf("complete generation: %v", err)
	}
	if updated.Status != domain.BookStatusFailed {
		t.Fatalf("expected failed got %s", updated.Status)
	}
	if updated.FailReason == nil || *updated.FailReason != reason {
		t.Fatalf("fail reason not persisted: %v", updated.FailReason)
	}
}

func TestGenerationDispatcherCompleteGenerationRequiresGeneratingState(t *testing.T) {
	ctx := context.Background()
	books := &stubBookRepo{
		findFn: func(_ context.Context, id string) (domain.Book, error) {
			return domain.Book{ID: id, UserID: "usr_1", Status: domain.BookStatusDraft}, nil
		},
	}
	d := newDispatcherForTest(t, books, &capturePublisher{}, time.Now())

	content := BookContent{Title: "T"}
	err := d.CompleteGeneration(ctx, CompleteGenerationCommand{BookID: "bk_1", Content: &content})
	if !errors.Is(err, ErrGenerationInvalidState) {
		t.Fatalf("expected ErrGenerationInvalidState got %v", err)
	}
}
