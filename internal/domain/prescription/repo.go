package prescription

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("prescription not found")
	// ErrAlreadyRecorded is returned by Create when the queue entry already
	// has a prescription.
	ErrAlreadyRecorded = errors.New("prescription already recorded for queue entry")
)

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetByQueueEntry(ctx context.Context, entryID uuid.UUID) (*Prescription, error)
	// ListByFamilyMember returns the member's prescriptions, newest first,
	// and the total count.
	ListByFamilyMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
}
