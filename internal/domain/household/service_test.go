package household

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/labourcare/clinic/internal/domain/queue"
)

type mockRepo struct {
	families map[uuid.UUID]*Family
	members  map[uuid.UUID]*Member
	workers  map[uuid.UUID]*WorkerIdentity
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		families: make(map[uuid.UUID]*Family),
		members:  make(map[uuid.UUID]*Member),
		workers:  make(map[uuid.UUID]*WorkerIdentity),
	}
}

func (m *mockRepo) GetFamily(_ context.Context, id uuid.UUID) (*Family, error) {
	f, ok := m.families[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

func (m *mockRepo) GetMember(_ context.Context, id uuid.UUID) (*Member, error) {
	mem, ok := m.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	return mem, nil
}

func (m *mockRepo) GetWorker(_ context.Context, id uuid.UUID) (*WorkerIdentity, error) {
	w, ok := m.workers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return w, nil
}

func (m *mockRepo) addFamily(name string, worker *WorkerIdentity, members ...*Member) *Family {
	f := &Family{ID: uuid.New(), FamilyName: name}
	if worker != nil {
		m.workers[worker.ID] = worker
		f.WorkerID = &worker.ID
	}
	for _, mem := range members {
		mem.ID = uuid.New()
		mem.FamilyID = f.ID
		m.members[mem.ID] = mem
		f.Members = append(f.Members, mem)
	}
	m.families[f.ID] = f
	return f
}

func TestService_Household_WithWorker(t *testing.T) {
	repo := newMockRepo()
	worker := &WorkerIdentity{ID: uuid.New(), RegistrationNo: "BOCW-0042", FullName: "Ravi Kumar"}
	f := repo.addFamily("Kumar", worker, &Member{FullName: "Ravi Kumar", Relation: "Self"}, &Member{FullName: "Meena Kumar", Relation: "Spouse"})

	svc := NewService(repo)
	fam, w, err := svc.Household(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fam.Members) != 2 {
		t.Errorf("expected 2 members, got %d", len(fam.Members))
	}
	if w == nil || w.RegistrationNo != "BOCW-0042" {
		t.Errorf("expected worker identity, got %+v", w)
	}
}

func TestService_Household_WithoutWorker(t *testing.T) {
	repo := newMockRepo()
	f := repo.addFamily("Das", nil, &Member{FullName: "Anil Das", Relation: "Self"})

	_, w, err := NewService(repo).Household(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Errorf("expected no worker, got %+v", w)
	}
}

func TestService_Household_NotFound(t *testing.T) {
	_, _, err := NewService(newMockRepo()).Household(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Patient(t *testing.T) {
	repo := newMockRepo()
	gender := "female"
	allergies := "Sulfa drugs"
	meena := &Member{FullName: "Meena Kumar", Relation: "Spouse", Gender: &gender, Allergies: &allergies, DateOfBirth: date(1992, 6, 1)}
	f := repo.addFamily("Kumar", nil, meena)

	p, err := NewService(repo).Patient(context.Background(), meena.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PatientName != "Meena Kumar" || p.Relation != "Spouse" || p.Gender != "female" {
		t.Errorf("unexpected patient %+v", p)
	}
	if p.FamilyID != f.ID || p.FamilyMemberID != meena.ID || p.FamilyName != "Kumar" {
		t.Error("expected household linkage to be copied")
	}
	if p.Allergies == nil || *p.Allergies != allergies {
		t.Error("expected allergies to be copied")
	}
}

func TestService_Patient_NotFound(t *testing.T) {
	_, err := NewService(newMockRepo()).Patient(context.Background(), uuid.New())
	if !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected queue.ErrNotFound, got %v", err)
	}
}

func TestService_ImplementsPatientDirectory(t *testing.T) {
	var _ queue.PatientDirectory = NewService(newMockRepo())
}
