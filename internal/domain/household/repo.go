package household

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("household record not found")

type Repository interface {
	// GetFamily returns the family with its members, oldest first.
	GetFamily(ctx context.Context, id uuid.UUID) (*Family, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	GetWorker(ctx context.Context, id uuid.UUID) (*WorkerIdentity, error)
}
