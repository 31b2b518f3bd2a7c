package prescription

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labourcare/clinic/internal/domain/queue"
)

// -- Mock Repository --

type mockRepo struct {
	mu        sync.Mutex
	store     map[uuid.UUID]*Prescription
	createErr error
	getErr    error
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Prescription)}
}

func (m *mockRepo) Create(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, x := range m.store {
		if x.QueueEntryID == p.QueueEntryID {
			return ErrAlreadyRecorded
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.store[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) GetByQueueEntry(_ context.Context, entryID uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, p := range m.store {
		if p.QueueEntryID == entryID {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListByFamilyMember(_ context.Context, memberID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Prescription
	for _, p := range m.store {
		if p.FamilyMemberID == memberID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset > total {
		offset = total
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) countFor(entryID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.store {
		if p.QueueEntryID == entryID {
			n++
		}
	}
	return n
}

// mockEntries applies the queue transition rules to an in-memory entry set.
type mockEntries struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]*queue.Entry
	completeErr error
}

func newMockEntries() *mockEntries {
	return &mockEntries{entries: make(map[uuid.UUID]*queue.Entry)}
}

func (m *mockEntries) add(status queue.Status) *queue.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &queue.Entry{
		ID:          uuid.New(),
		ClinicianID: uuid.New(),
		TokenNumber: 7,
		Status:      status,
		Patient: queue.Patient{
			PatientName:    "Asha Kumar",
			FamilyID:       uuid.New(),
			FamilyMemberID: uuid.New(),
		},
	}
	m.entries[e.ID] = e
	return e
}

func (m *mockEntries) Get(_ context.Context, id uuid.UUID) (*queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockEntries) Complete(_ context.Context, id uuid.UUID) (*queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	if !queue.CanApply(queue.ActionComplete, e.Status) {
		return nil, &queue.TransitionError{EntryID: id, Action: queue.ActionComplete, From: e.Status}
	}
	now := time.Now()
	e.Status = queue.StatusCompleted
	e.CompletedAt = &now
	cp := *e
	return &cp, nil
}

func (m *mockEntries) status(id uuid.UUID) queue.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[id].Status
}

var drRao = Prescriber{ID: uuid.New(), Name: "Dr. Rao", Specialization: "General Medicine"}

func newTestService() (*Service, *mockRepo, *mockEntries) {
	repo := newMockRepo()
	entries := newMockEntries()
	return NewService(repo, entries, zerolog.Nop()), repo, entries
}

func viralFever() Note {
	return Note{
		Diagnosis: "Viral Fever",
		Medicines: []Medicine{{
			Name: "Tab. Paracetamol 500mg", Dosage: "1-0-1", Frequency: "After Food", Duration: "3 days",
		}},
	}
}

func TestService_Submit(t *testing.T) {
	svc, repo, entries := newTestService()
	e := entries.add(queue.StatusInConsultation)

	sub, err := svc.Submit(context.Background(), e.ID, viralFever(), drRao)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Resubmitted {
		t.Error("expected a fresh submission")
	}
	if sub.Entry.Status != queue.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", sub.Entry.Status)
	}
	p := sub.Prescription
	if p.Diagnosis != "Viral Fever" || p.QueueEntryID != e.ID {
		t.Errorf("unexpected prescription %+v", p)
	}
	if p.FamilyMemberID != e.FamilyMemberID || p.PatientName != "Asha Kumar" {
		t.Error("expected patient linkage from the entry")
	}
	if p.ClinicianName != "Dr. Rao" || p.Specialization != "General Medicine" {
		t.Error("expected prescriber details")
	}
	if repo.countFor(e.ID) != 1 {
		t.Errorf("expected 1 prescription, got %d", repo.countFor(e.ID))
	}
}

func TestService_Submit_FiltersEmptyMedicines(t *testing.T) {
	svc, _, entries := newTestService()
	e := entries.add(queue.StatusInConsultation)
	note := viralFever()
	note.Medicines = append(note.Medicines, Medicine{Dosage: "0-0-1"}, Medicine{Name: " "})

	sub, err := svc.Submit(context.Background(), e.ID, note, drRao)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.Prescription.Medicines) != 1 {
		t.Errorf("expected 1 medicine, got %d", len(sub.Prescription.Medicines))
	}
}

func TestService_Submit_ValidationBlocksEverything(t *testing.T) {
	svc, repo, entries := newTestService()
	e := entries.add(queue.StatusInConsultation)

	_, err := svc.Submit(context.Background(), e.ID, Note{Diagnosis: " "}, drRao)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if repo.countFor(e.ID) != 0 {
		t.Error("expected nothing stored")
	}
	if entries.status(e.ID) != queue.StatusInConsultation {
		t.Error("expected entry untouched")
	}
}

func TestService_Submit_ResubmitAfterFailedCompletion(t *testing.T) {
	svc, repo, entries := newTestService()
	e := entries.add(queue.StatusInConsultation)

	entries.completeErr = &queue.FetchError{Op: "complete", Err: errors.New("connection reset")}
	if _, err := svc.Submit(context.Background(), e.ID, viralFever(), drRao); err == nil {
		t.Fatal("expected first submission to fail at completion")
	}
	if repo.countFor(e.ID) != 1 {
		t.Fatalf("expected the note to be stored, got %d", repo.countFor(e.ID))
	}
	if entries.status(e.ID) != queue.StatusInConsultation {
		t.Fatal("expected entry still in consultation")
	}

	entries.completeErr = nil
	second := viralFever()
	second.Diagnosis = "Viral Fever (revised)"
	sub, err := svc.Submit(context.Background(), e.ID, second, drRao)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sub.Resubmitted {
		t.Error("expected resubmission")
	}
	if sub.Prescription.Diagnosis != "Viral Fever" {
		t.Errorf("expected the original note to stand, got %q", sub.Prescription.Diagnosis)
	}
	if repo.countFor(e.ID) != 1 {
		t.Errorf("expected exactly 1 prescription, got %d", repo.countFor(e.ID))
	}
	if entries.status(e.ID) != queue.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", entries.status(e.ID))
	}
}

func TestService_Submit_RetryAfterLostResponse(t *testing.T) {
	svc, repo, entries := newTestService()
	e := entries.add(queue.StatusInConsultation)

	first, err := svc.Submit(context.Background(), e.ID, viralFever(), drRao)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := svc.Submit(context.Background(), e.ID, viralFever(), drRao)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if again.Prescription.ID != first.Prescription.ID {
		t.Error("expected the same prescription")
	}
	if repo.countFor(e.ID) != 1 {
		t.Errorf("expected 1 prescription, got %d", repo.countFor(e.ID))
	}
}

func TestService_Submit_ConcurrentSubmissions(t *testing.T) {
	svc, repo, entries := newTestService()
	e := entries.add(queue.StatusInConsultation)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), e.ID, viralFever(), drRao)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if repo.countFor(e.ID) != 1 {
		t.Errorf("expected 1 prescription, got %d", repo.countFor(e.ID))
	}
}

func TestService_Submit_FromWaiting(t *testing.T) {
	svc, _, entries := newTestService()
	e := entries.add(queue.StatusWaiting)

	sub, err := svc.Submit(context.Background(), e.ID, viralFever(), drRao)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Entry.Status != queue.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", sub.Entry.Status)
	}
}

func TestService_Submit_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		status queue.Status
	}{
		{"cancelled", queue.StatusCancelled},
		{"completed without note", queue.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, entries := newTestService()
			e := entries.add(tt.status)

			_, err := svc.Submit(context.Background(), e.ID, viralFever(), drRao)
			if !errors.Is(err, queue.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if repo.countFor(e.ID) != 0 {
				t.Error("expected no prescription")
			}
		})
	}
}

func TestService_Submit_UnknownEntry(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Submit(context.Background(), uuid.New(), viralFever(), drRao)
	if !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected queue.ErrNotFound, got %v", err)
	}
}

func TestService_Submit_StoreUnavailable(t *testing.T) {
	svc, repo, entries := newTestService()
	e := entries.add(queue.StatusInConsultation)
	repo.getErr = errors.New("too many connections")

	_, err := svc.Submit(context.Background(), e.ID, viralFever(), drRao)
	var ferr *queue.FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *queue.FetchError, got %v", err)
	}
	if entries.status(e.ID) != queue.StatusInConsultation {
		t.Error("expected entry untouched")
	}
}

func TestService_ListByFamilyMember(t *testing.T) {
	svc, _, entries := newTestService()
	member := uuid.New()
	for i := 0; i < 3; i++ {
		e := entries.add(queue.StatusInConsultation)
		entries.entries[e.ID].FamilyMemberID = member
		if _, err := svc.Submit(context.Background(), e.ID, viralFever(), drRao); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	items, total, err := svc.ListByFamilyMember(context.Background(), member, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Errorf("expected 2 of 3, got %d of %d", len(items), total)
	}
}
