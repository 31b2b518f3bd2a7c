package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labourcare/clinic/internal/platform/notify"
)

// -- Mock Repository --

type mockEntryRepo struct {
	mu      sync.Mutex
	store   map[uuid.UUID]*Entry
	listErr error
	lists   int
}

func newMockEntryRepo() *mockEntryRepo {
	return &mockEntryRepo{store: make(map[uuid.UUID]*Entry)}
}

func (m *mockEntryRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, x := range m.store {
		if x.ClinicianID == e.ClinicianID && x.QueueDate.Equal(e.QueueDate) && x.TokenNumber > max {
			max = x.TokenNumber
		}
	}
	e.ID = uuid.New()
	e.TokenNumber = max + 1
	e.QueuedAt = time.Now()
	e.UpdatedAt = e.QueuedAt
	cp := *e
	m.store[e.ID] = &cp
	return nil
}

func (m *mockEntryRepo) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockEntryRepo) UpdateStatus(_ context.Context, id uuid.UUID, from []Status, to Status, at time.Time) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[id]
	if !ok {
		return nil, ErrStatusConflict
	}
	match := false
	for _, f := range from {
		if e.Status == f {
			match = true
		}
	}
	if !match {
		return nil, ErrStatusConflict
	}
	e.Status = to
	switch to {
	case StatusInConsultation:
		e.CalledAt = &at
	case StatusCompleted:
		e.CompletedAt = &at
	case StatusCancelled:
		e.CancelledAt = &at
	}
	e.UpdatedAt = at
	cp := *e
	return &cp, nil
}

func (m *mockEntryRepo) ListForDay(_ context.Context, clinicianID uuid.UUID, day time.Time) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Entry
	for _, e := range m.store {
		if e.ClinicianID == clinicianID && e.QueueDate.Equal(day) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenNumber < out[j].TokenNumber })
	return out, nil
}

func (m *mockEntryRepo) ListByFamilyMember(_ context.Context, memberID uuid.UUID, before time.Time) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.store {
		if e.FamilyMemberID == memberID && e.QueuedAt.Before(before) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.After(out[j].QueuedAt) })
	return out, nil
}

func (m *mockEntryRepo) setListErr(err error) {
	m.mu.Lock()
	m.listErr = err
	m.mu.Unlock()
}

func (m *mockEntryRepo) listCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

var testDay = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockEntryRepo, *recordingPublisher) {
	repo := newMockEntryRepo()
	pub := &recordingPublisher{}
	svc := NewService(repo, pub, time.UTC, zerolog.Nop())
	svc.now = func() time.Time { return testDay.Add(9 * time.Hour) }
	return svc, repo, pub
}

func testPatient(name string) Patient {
	return Patient{
		PatientName:    name,
		Relation:       "Self",
		Gender:         "female",
		FamilyID:       uuid.New(),
		FamilyMemberID: uuid.New(),
		FamilyName:     "Kumar",
	}
}

func enqueue(t *testing.T, svc *Service, clinicianID uuid.UUID, name string) *Entry {
	t.Helper()
	e := &Entry{ClinicianID: clinicianID, Patient: testPatient(name)}
	if err := svc.Enqueue(context.Background(), e); err != nil {
		t.Fatalf("enqueue %s: %v", name, err)
	}
	return e
}

func TestService_Enqueue_AssignsIncreasingTokens(t *testing.T) {
	svc, _, _ := newTestService()
	clinician := uuid.New()

	a := enqueue(t, svc, clinician, "Asha")
	b := enqueue(t, svc, clinician, "Bala")
	other := enqueue(t, svc, uuid.New(), "Chitra")

	if a.TokenNumber != 1 || b.TokenNumber != 2 {
		t.Errorf("expected tokens 1,2, got %d,%d", a.TokenNumber, b.TokenNumber)
	}
	if other.TokenNumber != 1 {
		t.Errorf("expected token 1 for another clinician, got %d", other.TokenNumber)
	}
	if a.Status != StatusWaiting {
		t.Errorf("expected WAITING, got %s", a.Status)
	}
	if !a.QueueDate.Equal(testDay) {
		t.Errorf("expected queue date %s, got %s", testDay, a.QueueDate)
	}
}

func TestService_Enqueue_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	tests := []struct {
		name  string
		entry Entry
	}{
		{"missing clinician", Entry{Patient: testPatient("Asha")}},
		{"missing member", Entry{ClinicianID: uuid.New(), Patient: Patient{PatientName: "Asha"}}},
		{"missing name", Entry{ClinicianID: uuid.New(), Patient: Patient{FamilyID: uuid.New(), FamilyMemberID: uuid.New()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.entry
			err := svc.Enqueue(context.Background(), &e)
			if !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("expected ErrInvalidEntry, got %v", err)
			}
		})
	}
}

func TestService_Enqueue_PublishesChange(t *testing.T) {
	svc, _, pub := newTestService()
	clinician := uuid.New()
	e := enqueue(t, svc, clinician, "Asha")

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Type != EventEntryUpdated {
		t.Errorf("expected type %s, got %s", EventEntryUpdated, ev.Type)
	}
	if ev.Topic != Topic(clinician, testDay) {
		t.Errorf("unexpected topic %s", ev.Topic)
	}
	if ev.ResourceID != e.ID.String() {
		t.Errorf("expected resource %s, got %s", e.ID, ev.ResourceID)
	}
}

func TestService_StartConsultation(t *testing.T) {
	svc, _, _ := newTestService()
	e := enqueue(t, svc, uuid.New(), "Asha")

	started, err := svc.StartConsultation(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started.Status != StatusInConsultation {
		t.Errorf("expected IN_CONSULTATION, got %s", started.Status)
	}
	if started.CalledAt == nil {
		t.Error("expected called_at to be set")
	}
}

func TestService_StartConsultation_NotWaiting(t *testing.T) {
	svc, _, _ := newTestService()
	e := enqueue(t, svc, uuid.New(), "Asha")
	svc.StartConsultation(context.Background(), e.ID)

	_, err := svc.StartConsultation(context.Background(), e.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if terr.From != StatusInConsultation || terr.Action != ActionStart {
		t.Errorf("unexpected transition error %+v", terr)
	}
}

func TestService_StartConsultation_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.StartConsultation(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Complete_Twice(t *testing.T) {
	svc, _, _ := newTestService()
	e := enqueue(t, svc, uuid.New(), "Asha")
	svc.StartConsultation(context.Background(), e.ID)

	first, err := svc.Complete(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	completedAt := *first.CompletedAt

	svc.now = func() time.Time { return testDay.Add(11 * time.Hour) }
	_, err = svc.Complete(context.Background(), e.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, _ := svc.Get(context.Background(), e.ID)
	if !got.CompletedAt.Equal(completedAt) {
		t.Errorf("completed_at changed from %s to %s", completedAt, got.CompletedAt)
	}
}

func TestService_Complete_FromWaiting(t *testing.T) {
	svc, _, _ := newTestService()
	e := enqueue(t, svc, uuid.New(), "Asha")

	done, err := svc.Complete(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", done.Status)
	}
	if done.CalledAt != nil {
		t.Error("expected called_at to stay empty for a no-show")
	}
	if done.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestService_Cancel(t *testing.T) {
	svc, _, _ := newTestService()
	waiting := enqueue(t, svc, uuid.New(), "Asha")
	inRoom := enqueue(t, svc, uuid.New(), "Bala")
	svc.StartConsultation(context.Background(), inRoom.ID)

	for _, e := range []*Entry{waiting, inRoom} {
		got, err := svc.Cancel(context.Background(), e.ID)
		if err != nil {
			t.Fatalf("cancel %s: %v", e.PatientName, err)
		}
		if got.Status != StatusCancelled || got.CancelledAt == nil {
			t.Errorf("expected CANCELLED with cancelled_at, got %+v", got)
		}
	}
}

func TestService_TerminalStatesRejectEverything(t *testing.T) {
	actions := []Action{ActionStart, ActionComplete, ActionCancel}
	for _, terminal := range []Status{StatusCompleted, StatusCancelled} {
		for _, action := range actions {
			t.Run(fmt.Sprintf("%s/%s", terminal, action), func(t *testing.T) {
				svc, repo, _ := newTestService()
				e := enqueue(t, svc, uuid.New(), "Asha")
				repo.store[e.ID].Status = terminal

				_, err := svc.apply(context.Background(), e.ID, action)
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
				got, _ := svc.Get(context.Background(), e.ID)
				if got.Status != terminal {
					t.Errorf("status changed to %s", got.Status)
				}
			})
		}
	}
}

func TestService_ConcurrentStart_OneWins(t *testing.T) {
	svc, _, _ := newTestService()
	e := enqueue(t, svc, uuid.New(), "Asha")

	const sessions = 8
	var wg sync.WaitGroup
	errs := make(chan error, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.StartConsultation(context.Background(), e.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, ErrInvalidTransition):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 successful start, got %d", wins)
	}
}

// conflictRepo reports WAITING on read but loses the guarded update, the
// way a second process looks when it wins the race between the two.
type conflictRepo struct {
	*mockEntryRepo
	reads int
}

func (r *conflictRepo) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	r.reads++
	e, err := r.mockEntryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.reads == 1 {
		e.Status = StatusWaiting
	}
	return e, nil
}

func TestService_StartConsultation_LostRace(t *testing.T) {
	svc, repo, pub := newTestService()
	e := enqueue(t, svc, uuid.New(), "Asha")
	repo.store[e.ID].Status = StatusInConsultation
	pub.events = nil

	svc.entries = &conflictRepo{mockEntryRepo: repo}
	_, err := svc.StartConsultation(context.Background(), e.ID)

	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransitionError, got %v", err)
	}
	if terr.From != StatusInConsultation {
		t.Errorf("expected conflict to report IN_CONSULTATION, got %s", terr.From)
	}
	if len(pub.events) != 0 {
		t.Errorf("expected no event for a lost race, got %d", len(pub.events))
	}
}

type failingRepo struct{ *mockEntryRepo }

func (failingRepo) GetByID(context.Context, uuid.UUID) (*Entry, error) {
	return nil, errors.New("connection refused")
}

func TestService_StoreFailureIsFetchError(t *testing.T) {
	svc, repo, _ := newTestService()
	svc.entries = failingRepo{repo}

	_, err := svc.Complete(context.Background(), uuid.New())
	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
}

func TestService_PublishFailureDoesNotFailWrite(t *testing.T) {
	svc, _, pub := newTestService()
	e := enqueue(t, svc, uuid.New(), "Asha")
	pub.err = errors.New("broker down")

	if _, err := svc.StartConsultation(context.Background(), e.ID); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
}

func TestService_PastVisits_OnlyEarlierVisits(t *testing.T) {
	svc, repo, _ := newTestService()
	member := testPatient("Asha")

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		e := &Entry{ClinicianID: uuid.New(), Patient: member}
		svc.Enqueue(context.Background(), e)
		repo.store[e.ID].QueuedAt = testDay.Add(time.Duration(i) * time.Hour)
		ids = append(ids, e.ID)
	}
	// A follow-up booked for a later day is not a prior visit.
	repo.store[ids[4]].QueuedAt = testDay.AddDate(0, 0, 7)

	current, _ := repo.GetByID(context.Background(), ids[3])
	visits, err := svc.PastVisits(context.Background(), current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(visits) != 3 {
		t.Fatalf("expected 3 visits, got %d", len(visits))
	}
	for i, want := range []uuid.UUID{ids[2], ids[1], ids[0]} {
		if visits[i].ID != want {
			t.Errorf("visit %d: expected newest earlier visits first", i)
		}
	}
}

func TestCanApply(t *testing.T) {
	tests := []struct {
		action Action
		from   Status
		want   bool
	}{
		{ActionStart, StatusWaiting, true},
		{ActionStart, StatusInConsultation, false},
		{ActionComplete, StatusInConsultation, true},
		{ActionComplete, StatusWaiting, true},
		{ActionComplete, StatusCompleted, false},
		{ActionCancel, StatusWaiting, true},
		{ActionCancel, StatusInConsultation, true},
		{ActionCancel, StatusCancelled, false},
		{Action("archive"), StatusWaiting, false},
	}
	for _, tt := range tests {
		if got := CanApply(tt.action, tt.from); got != tt.want {
			t.Errorf("CanApply(%s, %s) = %v, want %v", tt.action, tt.from, got, tt.want)
		}
	}
}
