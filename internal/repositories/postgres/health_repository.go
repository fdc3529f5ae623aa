package postgres

import (
	"context"

	"github.com/storyforge/api/internal/repositories"
)

// HealthRepository answers readiness probes with a pool-level ping.
type HealthRepository struct {
	db *DB
}

var _ repositories.HealthRepository = (*HealthRepository)(nil)

func NewHealthRepository(db *DB) *HealthRepository {
	return &HealthRepository{db: db}
}

func (r *HealthRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return newError("health: ping", err)
	}
	return nil
}
