package postgres

import (
	"context"
	"fmt"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/repositories"
)

const userColumns = `id, email, firstname, lastname, roles, created_at`

// UserRepository is the Postgres implementation of repositories.UserRepository.
type UserRepository struct {
	db *DB
}

var _ repositories.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	_, err := r.db.querier(ctx).Exec(ctx, `
		INSERT INTO users (id, email, firstname, lastname, roles, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.Firstname, user.Lastname, user.Roles, user.CreatedAt,
	)
	if err != nil {
		return newError("users: insert", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	row := r.db.querier(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns), userID)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, newError("users: find", err)
	}
	return user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.querier(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns), email)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, newError("users: find by email", err)
	}
	return user, nil
}

func scanUser(row rowScanner) (domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Email, &user.Firstname, &user.Lastname, &user.Roles, &user.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}
