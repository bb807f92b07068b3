package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/trackstack/common/database"
	"github.com/telhawk-systems/trackstack/common/models"
)

type PostgresRepository struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	pool, err := database.OpenPool(ctx, connString, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	if r.closed.CompareAndSwap(false, true) {
		r.pool.Close()
	}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

// Insert writes the event unless a row with the same event_id exists.
func (r *PostgresRepository) Insert(ctx context.Context, event *models.Event) (bool, error) {
	if r.closed.Load() {
		return false, ErrClosed
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	deviceJSON, err := jsonb(event.Device)
	if err != nil {
		return false, fmt.Errorf("failed to marshal device: %w", err)
	}
	contextJSON, err := jsonb(event.Context)
	if err != nil {
		return false, fmt.Errorf("failed to marshal context: %w", err)
	}
	var payloadJSON []byte
	if event.Payload != nil {
		if payloadJSON, err = json.Marshal(event.Payload); err != nil {
			return false, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	query := `
		INSERT INTO events
		(event_id, event_type, timestamp, session_id, user_id, device, context, payload)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		event.EventID,
		event.EventType,
		event.Timestamp,
		event.SessionID,
		event.UserID,
		deviceJSON,
		contextJSON,
		payloadJSON,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert event %s: %w", event.EventID, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) Get(ctx context.Context, eventID string) (*models.Event, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT event_id, event_type, timestamp, COALESCE(session_id, ''), COALESCE(user_id, ''),
		       device, context, payload
		FROM events
		WHERE event_id = $1
	`

	var event models.Event
	var deviceJSON, contextJSON, payloadJSON []byte
	err := r.pool.QueryRow(ctx, query, eventID).Scan(
		&event.EventID,
		&event.EventType,
		&event.Timestamp,
		&event.SessionID,
		&event.UserID,
		&deviceJSON,
		&contextJSON,
		&payloadJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	if deviceJSON != nil {
		event.Device = &models.Device{}
		if err := json.Unmarshal(deviceJSON, event.Device); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device: %w", err)
		}
	}
	if contextJSON != nil {
		event.Context = &models.PageContext{}
		if err := json.Unmarshal(contextJSON, event.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}
	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	return &event, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// jsonb marshals a nullable column; a nil pointer becomes SQL NULL.
func jsonb[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
