package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labourcare/clinic/internal/platform/notify"
)

// EventEntryUpdated is published on the clinician/day topic after every
// committed change to an entry.
const EventEntryUpdated = "queue.entry.updated"

var ErrInvalidEntry = errors.New("invalid queue entry")

// PatientDirectory resolves a household member into the patient snapshot an
// entry carries.
type PatientDirectory interface {
	Patient(ctx context.Context, memberID uuid.UUID) (*Patient, error)
}

type Service struct {
	entries EntryRepository
	events  notify.Publisher
	loc     *time.Location
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(entries EntryRepository, events notify.Publisher, loc *time.Location, logger zerolog.Logger) *Service {
	if events == nil {
		events = notify.Nop{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{entries: entries, events: events, loc: loc, logger: logger, now: time.Now}
}

// Today is the current calendar day in the clinic's timezone.
func (s *Service) Today() time.Time {
	return Day(s.now(), s.loc)
}

func (s *Service) Location() *time.Location { return s.loc }

// Enqueue adds a WAITING entry at the back of the clinician's queue for
// e.QueueDate (today when zero). Front-desk intake only.
func (s *Service) Enqueue(ctx context.Context, e *Entry) error {
	if e.ClinicianID == uuid.Nil {
		return fmt.Errorf("%w: clinician_id is required", ErrInvalidEntry)
	}
	if e.FamilyMemberID == uuid.Nil || e.FamilyID == uuid.Nil {
		return fmt.Errorf("%w: family_member_id is required", ErrInvalidEntry)
	}
	if e.PatientName == "" {
		return fmt.Errorf("%w: patient_name is required", ErrInvalidEntry)
	}
	if e.QueueDate.IsZero() {
		e.QueueDate = s.Today()
	} else {
		e.QueueDate = Day(e.QueueDate, nil)
	}
	e.Status = StatusWaiting
	e.CalledAt, e.CompletedAt, e.CancelledAt = nil, nil, nil

	if err := s.entries.Create(ctx, e); err != nil {
		return s.storeErr("enqueue", err)
	}
	s.publish(ctx, e)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeErr("get queue entry", err)
	}
	return e, nil
}

func (s *Service) ListForDay(ctx context.Context, clinicianID uuid.UUID, day time.Time) ([]*Entry, error) {
	entries, err := s.entries.ListForDay(ctx, clinicianID, Day(day, nil))
	if err != nil {
		return nil, s.storeErr("list queue", err)
	}
	return entries, nil
}

// PastVisits lists every visit of the entry's patient queued before it,
// newest first.
func (s *Service) PastVisits(ctx context.Context, current *Entry) ([]*Entry, error) {
	entries, err := s.entries.ListByFamilyMember(ctx, current.FamilyMemberID, current.QueuedAt)
	if err != nil {
		return nil, s.storeErr("list past visits", err)
	}
	visits := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if e.ID != current.ID {
			visits = append(visits, e)
		}
	}
	return visits, nil
}

// StartConsultation calls a WAITING patient in.
func (s *Service) StartConsultation(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.apply(ctx, id, ActionStart)
}

// Complete closes the consultation. A WAITING entry may be completed
// directly, which is how no-shows are closed out.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.apply(ctx, id, ActionComplete)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.apply(ctx, id, ActionCancel)
}

func (s *Service) apply(ctx context.Context, id uuid.UUID, action Action) (*Entry, error) {
	r := rules[action]

	current, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeErr("get queue entry", err)
	}
	if !r.allows(current.Status) {
		return nil, &TransitionError{EntryID: id, Action: action, From: current.Status}
	}

	updated, err := s.entries.UpdateStatus(ctx, id, r.from, r.to, s.now())
	if errors.Is(err, ErrStatusConflict) {
		// Another writer got there first; report what it left behind.
		latest, gerr := s.entries.GetByID(ctx, id)
		if gerr != nil {
			return nil, s.storeErr("get queue entry", gerr)
		}
		return nil, &TransitionError{EntryID: id, Action: action, From: latest.Status}
	}
	if err != nil {
		return nil, s.storeErr(string(action)+" queue entry", err)
	}

	s.publish(ctx, updated)
	return updated, nil
}

type entryChange struct {
	Status      Status `json:"status"`
	TokenNumber int    `json:"token_number"`
}

// publish announces a committed change. A channel failure is logged and
// otherwise ignored: subscribers still converge on their next poll.
func (s *Service) publish(ctx context.Context, e *Entry) {
	data, _ := json.Marshal(entryChange{Status: e.Status, TokenNumber: e.TokenNumber})
	err := s.events.Publish(ctx, notify.Event{
		Type:       EventEntryUpdated,
		Topic:      Topic(e.ClinicianID, e.QueueDate),
		ResourceID: e.ID.String(),
		Timestamp:  s.now().UTC(),
		Data:       data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("entry_id", e.ID.String()).Msg("publish queue change failed")
	}
}

func (s *Service) storeErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &FetchError{Op: op, Err: err}
}
