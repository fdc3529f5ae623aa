package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists idempotency records in the primary database so
// replays survive process restarts and work across replicas.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("idempotency: connection pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

const idempotencyColumns = `key, fingerprint, status, response_status, response_headers,
response_body, created_at, updated_at, expires_at`

// Reserve implements the Store interface.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := recordID(key)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (id, key, fingerprint, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		id, key, fingerprint, string(StatusPending), now, now.Add(ttl))
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return Reservation{State: ReservationStateNew, Record: Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}}, nil
	}

	record, err := s.find(ctx, id)
	if err != nil {
		return Reservation{}, err
	}

	if !record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt) {
		tag, err := s.pool.Exec(ctx, `
			UPDATE idempotency_keys
			SET fingerprint = $2, status = $3, response_status = NULL, response_headers = NULL,
			    response_body = NULL, created_at = $4, updated_at = $4, expires_at = $5
			WHERE id = $1 AND expires_at <= $4`,
			id, fingerprint, string(StatusPending), now, now.Add(ttl))
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reclaim expired: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return Reservation{State: ReservationStateNew, Record: Record{
				Key:         key,
				Fingerprint: fingerprint,
				Status:      StatusPending,
				CreatedAt:   now,
				UpdatedAt:   now,
				ExpiresAt:   now.Add(ttl),
			}}, nil
		}
		// Lost the reclaim race; fall through with the concurrent holder.
		record, err = s.find(ctx, id)
		if err != nil {
			return Reservation{}, err
		}
	}

	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

// SaveResponse implements the Store interface.
func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := recordID(key)

	headers, err := json.Marshal(sanitizeHeaders(resp.Headers))
	if err != nil {
		return fmt.Errorf("idempotency: marshal headers: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (id, key, fingerprint, status, response_status, response_headers,
			response_body, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			response_status = EXCLUDED.response_status,
			response_headers = EXCLUDED.response_headers,
			response_body = EXCLUDED.response_body,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.fingerprint = EXCLUDED.fingerprint`,
		id, key, fingerprint, string(StatusCompleted), resp.Status, headers, resp.Body, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release implements the Store interface.
func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	id := recordID(key)
	if _, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE id = $1 AND fingerprint = $2`, id, fingerprint); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired implements the Store interface.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE id IN (
			SELECT id FROM idempotency_keys WHERE expires_at <= $1 LIMIT $2
		)`, now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) find(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE id = $1`, id)

	var record Record
	var status string
	var responseStatus *int
	var headers []byte
	if err := row.Scan(&record.Key, &record.Fingerprint, &status, &responseStatus, &headers,
		&record.ResponseBody, &record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("idempotency: record vanished")
		}
		return Record{}, fmt.Errorf("idempotency: find: %w", err)
	}
	record.Status = Status(status)
	if responseStatus != nil {
		record.ResponseStatus = *responseStatus
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &record.ResponseHeaders); err != nil {
			return Record{}, fmt.Errorf("idempotency: decode headers: %w", err)
		}
	}
	return record, nil
}
