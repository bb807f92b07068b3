package repository

import (
	"context"
	"errors"

	"github.com/telhawk-systems/trackstack/common/models"
)

var (
	ErrClosed   = errors.New("repository closed")
	ErrNotFound = errors.New("event not found")
)

// EventRepository is the keyed sink. Insert is idempotent on event_id: a
// second insert of the same id is a no-op and reports inserted=false.
type EventRepository interface {
	Insert(ctx context.Context, event *models.Event) (inserted bool, err error)
	Get(ctx context.Context, eventID string) (*models.Event, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close()
}
