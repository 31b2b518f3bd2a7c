package prescription

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labourcare/clinic/internal/domain/queue"
)

// Entries is the part of the queue service the recorder drives.
type Entries interface {
	Get(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
	Complete(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
}

// Submission is the outcome of a successful Submit.
type Submission struct {
	Prescription *Prescription `json:"prescription"`
	Entry        *queue.Entry  `json:"entry"`
	// Resubmitted is true when the note already existed and only the
	// completion step ran.
	Resubmitted bool `json:"resubmitted"`
}

type Service struct {
	repo    Repository
	entries Entries
	logger  zerolog.Logger
}

func NewService(repo Repository, entries Entries, logger zerolog.Logger) *Service {
	return &Service{repo: repo, entries: entries, logger: logger}
}

// Submit records the note for the entry and completes it. Re-submitting for
// an entry that already has a note never creates a second one: it finishes
// the completion step the earlier attempt may have missed.
func (s *Service) Submit(ctx context.Context, entryID uuid.UUID, note Note, by Prescriber) (*Submission, error) {
	n, err := note.normalize()
	if err != nil {
		return nil, err
	}

	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status == queue.StatusCancelled {
		return nil, &queue.TransitionError{EntryID: entryID, Action: queue.ActionComplete, From: entry.Status}
	}

	p, err := s.repo.GetByQueueEntry(ctx, entryID)
	resubmitted := err == nil
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		if entry.Status == queue.StatusCompleted {
			// Closed without a note; the record is final.
			return nil, &queue.TransitionError{EntryID: entryID, Action: queue.ActionComplete, From: entry.Status}
		}
		if p, resubmitted, err = s.create(ctx, entry, n, by); err != nil {
			return nil, err
		}
	default:
		return nil, &queue.FetchError{Op: "get prescription", Err: err}
	}

	if entry.Status != queue.StatusCompleted {
		if entry, err = s.complete(ctx, entryID); err != nil {
			s.logger.Warn().Err(err).
				Str("entry_id", entryID.String()).
				Str("prescription_id", p.ID.String()).
				Msg("prescription stored but entry not completed; resubmit to finish")
			return nil, err
		}
	}

	return &Submission{Prescription: p, Entry: entry, Resubmitted: resubmitted}, nil
}

// create stores the note. Losing a race to a concurrent submission for the
// same entry returns the note that won.
func (s *Service) create(ctx context.Context, entry *queue.Entry, n *normalized, by Prescriber) (*Prescription, bool, error) {
	p := &Prescription{
		QueueEntryID:     entry.ID,
		FamilyID:         entry.FamilyID,
		FamilyMemberID:   entry.FamilyMemberID,
		PatientName:      entry.PatientName,
		Diagnosis:        n.diagnosis,
		Symptoms:         n.symptoms,
		Vitals:           n.vitals,
		Medicines:        n.medicines,
		TestsRecommended: n.tests,
		Advice:           n.advice,
		FollowUpDate:     n.followUpDate,
		ClinicianID:      by.ID,
		ClinicianName:    by.Name,
		Specialization:   by.Specialization,
	}
	err := s.repo.Create(ctx, p)
	if errors.Is(err, ErrAlreadyRecorded) {
		existing, gerr := s.repo.GetByQueueEntry(ctx, entry.ID)
		if gerr != nil {
			return nil, false, &queue.FetchError{Op: "get prescription", Err: gerr}
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, &queue.FetchError{Op: "create prescription", Err: err}
	}
	return p, false, nil
}

// complete finishes the entry. A concurrent submission that completed it
// first counts as success.
func (s *Service) complete(ctx context.Context, entryID uuid.UUID) (*queue.Entry, error) {
	done, err := s.entries.Complete(ctx, entryID)
	if err == nil {
		return done, nil
	}
	if !errors.Is(err, queue.ErrInvalidTransition) {
		return nil, fmt.Errorf("complete queue entry: %w", err)
	}
	latest, gerr := s.entries.Get(ctx, entryID)
	if gerr == nil && latest.Status == queue.StatusCompleted {
		return latest, nil
	}
	return nil, err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByQueueEntry(ctx context.Context, entryID uuid.UUID) (*Prescription, error) {
	return s.repo.GetByQueueEntry(ctx, entryID)
}

func (s *Service) ListByFamilyMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	items, total, err := s.repo.ListByFamilyMember(ctx, memberID, limit, offset)
	if err != nil {
		return nil, 0, &queue.FetchError{Op: "list prescriptions", Err: err}
	}
	return items, total, nil
}
