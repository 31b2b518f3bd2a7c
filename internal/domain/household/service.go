package household

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/labourcare/clinic/internal/domain/queue"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Household returns the family and, when it is enrolled through a registered
// worker, that worker's identity.
func (s *Service) Household(ctx context.Context, familyID uuid.UUID) (*Family, *WorkerIdentity, error) {
	f, err := s.repo.GetFamily(ctx, familyID)
	if err != nil {
		return nil, nil, fmt.Errorf("get family %s: %w", familyID, err)
	}
	if f.WorkerID == nil {
		return f, nil, nil
	}
	w, err := s.repo.GetWorker(ctx, *f.WorkerID)
	if err != nil {
		return nil, nil, fmt.Errorf("get worker %s: %w", *f.WorkerID, err)
	}
	return f, w, nil
}

func (s *Service) Member(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.repo.GetMember(ctx, id)
}

// Patient builds the snapshot a queue entry carries for the member.
func (s *Service) Patient(ctx context.Context, memberID uuid.UUID) (*queue.Patient, error) {
	m, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, queue.ErrNotFound
		}
		return nil, err
	}
	f, err := s.repo.GetFamily(ctx, m.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("get family %s: %w", m.FamilyID, err)
	}

	p := &queue.Patient{
		PatientName:       m.FullName,
		Relation:          m.Relation,
		DateOfBirth:       m.DateOfBirth,
		BloodGroup:        m.BloodGroup,
		Allergies:         m.Allergies,
		ChronicConditions: m.ChronicConditions,
		FamilyID:          f.ID,
		FamilyMemberID:    m.ID,
		FamilyName:        f.FamilyName,
	}
	if m.Gender != nil {
		p.Gender = *m.Gender
	}
	return p, nil
}
