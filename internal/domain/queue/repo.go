package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EntryRepository interface {
	// Create inserts e with the next token number for its clinician and day.
	// ID, TokenNumber, QueuedAt and UpdatedAt are filled in.
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	// UpdateStatus moves the entry to `to` only if its stored status is one
	// of from, stamping the matching timestamp column with at. It returns
	// ErrStatusConflict when the guard does not match.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, at time.Time) (*Entry, error)
	ListForDay(ctx context.Context, clinicianID uuid.UUID, day time.Time) ([]*Entry, error)
	// ListByFamilyMember returns the member's entries queued before the
	// given time, newest first.
	ListByFamilyMember(ctx context.Context, memberID uuid.UUID, before time.Time) ([]*Entry, error)
}
