package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storyforge/api/internal/repositories"
)

var (
	// ErrUserInvalidInput signals the caller provided invalid data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the account row could not be located.
	ErrUserNotFound = errors.New("user: not found")
)

// UserServiceDeps bundles collaborators required to construct the user service.
type UserServiceDeps struct {
	Users  repositories.UserRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users  repositories.UserRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &userService{
		users: deps.Users,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// EnsureProfile returns the account row for a verified identity, provisioning
// it on first sight. Token claims are authoritative for the id and email; the
// row never overrides them.
func (s *userService) EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (User, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !isNotFound(err) {
		return User{}, s.mapRepositoryError(err)
	}

	user = User{
		ID:        userID,
		Email:     strings.ToLower(strings.TrimSpace(cmd.Email)),
		Firstname: strings.TrimSpace(cmd.Firstname),
		Lastname:  strings.TrimSpace(cmd.Lastname),
		Roles:     cmd.Roles,
		CreatedAt: s.clock(),
	}
	if len(user.Roles) == 0 {
		user.Roles = []string{"user"}
	}

	if err := s.users.Insert(ctx, user); err != nil {
		// A concurrent first request may have provisioned the row already.
		if isConflict(err) {
			if existing, findErr := s.users.FindByID(ctx, userID); findErr == nil {
				return existing, nil
			}
		}
		return User{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "user.provisioned", map[string]any{"user": user.ID})
	return user, nil
}

func (s *userService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("user: repository unavailable: %w", err)
		}
	}

	return err
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
