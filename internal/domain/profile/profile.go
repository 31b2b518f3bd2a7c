// Package profile assembles the read-only patient picture a clinician sees on
// calling a patient in: the visit, the household, earlier visits and earlier
// prescriptions.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/labourcare/clinic/internal/domain/household"
	"github.com/labourcare/clinic/internal/domain/prescription"
	"github.com/labourcare/clinic/internal/domain/queue"
)

// prescriptionPage is how many prescriptions are read per store call.
const prescriptionPage = 100

type EntryReader interface {
	Get(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
	PastVisits(ctx context.Context, current *queue.Entry) ([]*queue.Entry, error)
}

type HouseholdReader interface {
	Household(ctx context.Context, familyID uuid.UUID) (*household.Family, *household.WorkerIdentity, error)
}

type PrescriptionReader interface {
	ListByFamilyMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*prescription.Prescription, int, error)
}

// Member is a household member with the flags the profile view shows.
type Member struct {
	*household.Member
	// Age is nil when the birth date is unknown.
	Age                  *int `json:"age,omitempty"`
	HasAllergies         bool `json:"has_allergies"`
	HasChronicConditions bool `json:"has_chronic_conditions"`
	IsPatient            bool `json:"is_patient"`
}

type PatientProfile struct {
	Entry         *queue.Entry                 `json:"entry"`
	Family        *household.Family            `json:"family"`
	Members       []Member                     `json:"members"`
	Worker        *household.WorkerIdentity    `json:"worker,omitempty"`
	PastVisits    []*queue.Entry               `json:"past_visits"`
	Prescriptions []*prescription.Prescription `json:"prescriptions"`
	LoadedAt      time.Time                    `json:"loaded_at"`
}

type Service struct {
	entries       EntryReader
	households    HouseholdReader
	prescriptions PrescriptionReader
	now           func() time.Time
}

func NewService(entries EntryReader, households HouseholdReader, prescriptions PrescriptionReader) *Service {
	return &Service{entries: entries, households: households, prescriptions: prescriptions, now: time.Now}
}

// Load reads the entry, then the household, past visits and prescriptions in
// parallel. Any failed read fails the whole profile; there is no partial
// result. Nothing is cached.
func (s *Service) Load(ctx context.Context, entryID uuid.UUID) (*PatientProfile, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	var (
		family *household.Family
		worker *household.WorkerIdentity
		visits []*queue.Entry
		notes  []*prescription.Prescription
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		family, worker, err = s.households.Household(gctx, entry.FamilyID)
		return err
	})
	g.Go(func() error {
		var err error
		visits, err = s.entries.PastVisits(gctx, entry)
		return err
	})
	g.Go(func() error {
		var err error
		notes, err = s.allPrescriptions(gctx, entry.FamilyMemberID)
		return err
	})
	if err := g.Wait(); err != nil {
		var ferr *queue.FetchError
		if errors.As(err, &ferr) {
			return nil, ferr
		}
		return nil, &queue.FetchError{Op: "load patient profile", Err: err}
	}

	if visits == nil {
		visits = []*queue.Entry{}
	}
	if notes == nil {
		notes = []*prescription.Prescription{}
	}

	now := s.now()
	members := make([]Member, 0, len(family.Members))
	for _, m := range family.Members {
		mv := Member{
			Member:               m,
			HasAllergies:         m.HasAllergies(),
			HasChronicConditions: m.HasChronicConditions(),
			IsPatient:            m.ID == entry.FamilyMemberID,
		}
		if age := m.Age(now); age >= 0 {
			mv.Age = &age
		}
		members = append(members, mv)
	}

	return &PatientProfile{
		Entry:         entry,
		Family:        family,
		Members:       members,
		Worker:        worker,
		PastVisits:    visits,
		Prescriptions: notes,
		LoadedAt:      now.UTC(),
	}, nil
}

// allPrescriptions pages through the member's prescriptions until the store's
// total is reached.
func (s *Service) allPrescriptions(ctx context.Context, memberID uuid.UUID) ([]*prescription.Prescription, error) {
	var all []*prescription.Prescription
	for {
		page, total, err := s.prescriptions.ListByFamilyMember(ctx, memberID, prescriptionPage, len(all))
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			return all, nil
		}
	}
}
