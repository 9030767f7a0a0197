package medication

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mocks --

type mockRepo struct {
	meds map[uuid.UUID]*Medication
}

func newMockRepo() *mockRepo {
	return &mockRepo{meds: make(map[uuid.UUID]*Medication)}
}

func copyMed(m *Medication) *Medication {
	cp := *m
	if m.FrequencyValue != nil {
		v := *m.FrequencyValue
		cp.FrequencyValue = &v
	}
	if m.EndDatetime != nil {
		t := *m.EndDatetime
		cp.EndDatetime = &t
	}
	cp.ReminderTimes = append([]string(nil), m.ReminderTimes...)
	return &cp
}

func (m *mockRepo) Create(_ context.Context, med *Medication) error {
	med.ID = uuid.New()
	med.CreatedAt = time.Now()
	med.UpdatedAt = time.Now()
	m.meds[med.ID] = copyMed(med)
	return nil
}

func (m *mockRepo) GetByIDForAccount(_ context.Context, id, accountID uuid.UUID) (*Medication, error) {
	med, ok := m.meds[id]
	if !ok || med.AccountID != accountID {
		return nil, ErrNotFound
	}
	return copyMed(med), nil
}

func (m *mockRepo) ListByAccount(_ context.Context, accountID uuid.UUID, activeOnly bool, limit, offset int) ([]*Medication, int, error) {
	var result []*Medication
	for _, med := range m.meds {
		if med.AccountID != accountID {
			continue
		}
		if activeOnly && !med.IsActive {
			continue
		}
		result = append(result, copyMed(med))
	}
	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (m *mockRepo) ListActive(_ context.Context, limit, offset int) ([]*Medication, int, error) {
	var result []*Medication
	for _, med := range m.meds {
		if med.IsActive {
			result = append(result, copyMed(med))
		}
	}
	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (m *mockRepo) ListLowStock(_ context.Context, accountID uuid.UUID) ([]*Medication, error) {
	var result []*Medication
	for _, med := range m.meds {
		if med.AccountID == accountID && med.IsActive && med.CurrentStock <= med.LowStockThreshold {
			result = append(result, copyMed(med))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CurrentStock < result[j].CurrentStock })
	return result, nil
}

func (m *mockRepo) Update(_ context.Context, med *Medication) error {
	existing, ok := m.meds[med.ID]
	if !ok || existing.AccountID != med.AccountID {
		return ErrNotFound
	}
	m.meds[med.ID] = copyMed(med)
	return nil
}

func (m *mockRepo) AdjustStock(_ context.Context, id, accountID uuid.UUID, delta int) (*Medication, error) {
	med, ok := m.meds[id]
	if !ok || med.AccountID != accountID {
		return nil, ErrNotFound
	}
	if med.CurrentStock+delta < 0 {
		return nil, ErrInsufficientStock
	}
	med.CurrentStock += delta
	return copyMed(med), nil
}

func (m *mockRepo) DecrementStockForIntake(_ context.Context, id uuid.UUID) error {
	if med, ok := m.meds[id]; ok && med.CurrentStock > 0 {
		med.CurrentStock--
	}
	return nil
}

func (m *mockRepo) Deactivate(_ context.Context, id, accountID uuid.UUID) error {
	med, ok := m.meds[id]
	if !ok || med.AccountID != accountID {
		return ErrNotFound
	}
	med.IsActive = false
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id, accountID uuid.UUID) error {
	med, ok := m.meds[id]
	if !ok || med.AccountID != accountID {
		return ErrNotFound
	}
	delete(m.meds, id)
	return nil
}

type plannerCall struct {
	medID       uuid.UUID
	daysAhead   int
	clearFuture bool
}

type mockPlanner struct {
	calls []plannerCall
	n     int
	err   error
}

func (p *mockPlanner) Regenerate(_ context.Context, med *Medication, daysAhead int, clearFuture bool) (int, error) {
	p.calls = append(p.calls, plannerCall{medID: med.ID, daysAhead: daysAhead, clearFuture: clearFuture})
	return p.n, p.err
}

type mockHistory struct {
	has map[uuid.UUID]bool
}

func (h *mockHistory) ExistsForMedication(_ context.Context, id uuid.UUID) (bool, error) {
	return h.has[id], nil
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *mockRepo, *mockPlanner, *mockHistory) {
	repo := newMockRepo()
	planner := &mockPlanner{}
	history := &mockHistory{has: make(map[uuid.UUID]bool)}
	svc := NewService(repo, planner, history, passthroughTx{}, zerolog.Nop())
	return svc, repo, planner, history
}

func validCreateInput() CreateInput {
	return CreateInput{
		Name:          "Metformin",
		Dosage:        "500mg",
		FrequencyType: FreqTwiceDaily,
		Timezone:      "America/New_York",
		StartDate:     "2026-03-01",
		StartTime:     "08:00",
		CurrentStock:  60,
	}
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

// -- Tests --

func TestCreate(t *testing.T) {
	svc, _, planner, _ := newTestService()
	accountID := uuid.New()

	m, err := svc.Create(context.Background(), accountID, validCreateInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if !m.IsActive {
		t.Error("expected new medication to be active")
	}
	if m.LowStockThreshold != 5 {
		t.Errorf("expected default threshold 5, got %d", m.LowStockThreshold)
	}
	// 08:00 in New York is 13:00 UTC before the March switch to DST.
	want := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	if !m.StartDatetime.Equal(want) {
		t.Errorf("expected start %v, got %v", want, m.StartDatetime)
	}
	if len(planner.calls) != 1 {
		t.Fatalf("expected 1 planner call, got %d", len(planner.calls))
	}
	if planner.calls[0].daysAhead != 7 || planner.calls[0].clearFuture {
		t.Errorf("expected regenerate(7, false), got (%d, %v)", planner.calls[0].daysAhead, planner.calls[0].clearFuture)
	}
}

func TestCreate_InvalidFrequencyType(t *testing.T) {
	svc, _, planner, _ := newTestService()
	in := validCreateInput()
	in.FrequencyType = "weekly"

	if _, err := svc.Create(context.Background(), uuid.New(), in); err == nil {
		t.Error("expected error for unknown frequency_type")
	}
	if len(planner.calls) != 0 {
		t.Error("planner should not run for invalid input")
	}
}

func TestCreate_EveryXHoursRequiresValue(t *testing.T) {
	svc, _, _, _ := newTestService()
	in := validCreateInput()
	in.FrequencyType = FreqEveryXHours
	in.FrequencyValue = nil

	if _, err := svc.Create(context.Background(), uuid.New(), in); err == nil {
		t.Error("expected error for missing frequency_value")
	}
}

func TestCreate_CustomRequiresTimes(t *testing.T) {
	svc, _, _, _ := newTestService()
	in := validCreateInput()
	in.FrequencyType = FreqCustom
	in.ReminderTimes = nil

	if _, err := svc.Create(context.Background(), uuid.New(), in); err == nil {
		t.Error("expected error for missing reminder_times")
	}
}

func TestCreate_PlannerFailurePropagates(t *testing.T) {
	svc, _, planner, _ := newTestService()
	planner.err = context.DeadlineExceeded

	if _, err := svc.Create(context.Background(), uuid.New(), validCreateInput()); err == nil {
		t.Error("expected planner failure to surface")
	}
}

func TestGet_WrongAccount(t *testing.T) {
	svc, _, _, _ := newTestService()
	owner := uuid.New()
	m, err := svc.Create(context.Background(), owner, validCreateInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Get(context.Background(), m.ID, uuid.New()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for foreign account, got %v", err)
	}
}

func TestList_ActiveOnly(t *testing.T) {
	svc, repo, _, _ := newTestService()
	accountID := uuid.New()

	first, _ := svc.Create(context.Background(), accountID, validCreateInput())
	second := validCreateInput()
	second.Name = "Lisinopril"
	svc.Create(context.Background(), accountID, second)
	repo.meds[first.ID].IsActive = false

	items, total, err := svc.List(context.Background(), accountID, true, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected 1 active medication, got total=%d len=%d", total, len(items))
	}

	_, total, _ = svc.List(context.Background(), accountID, false, 20, 0)
	if total != 2 {
		t.Errorf("expected 2 medications without filter, got %d", total)
	}
}

func TestListLowStock_Ordering(t *testing.T) {
	svc, _, _, _ := newTestService()
	accountID := uuid.New()

	high := validCreateInput()
	high.CurrentStock = 4
	low := validCreateInput()
	low.Name = "Lisinopril"
	low.CurrentStock = 1
	fine := validCreateInput()
	fine.Name = "Aspirin"
	fine.CurrentStock = 90

	svc.Create(context.Background(), accountID, high)
	svc.Create(context.Background(), accountID, low)
	svc.Create(context.Background(), accountID, fine)

	items, err := svc.ListLowStock(context.Background(), accountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 low-stock medications, got %d", len(items))
	}
	if items[0].CurrentStock > items[1].CurrentStock {
		t.Error("expected lowest stock first")
	}
}

func TestUpdate_NonScheduleFieldSkipsRegeneration(t *testing.T) {
	svc, _, planner, _ := newTestService()
	accountID := uuid.New()
	m, _ := svc.Create(context.Background(), accountID, validCreateInput())

	updated, err := svc.Update(context.Background(), m.ID, accountID, UpdateInput{Name: strPtr("Metformin XR")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name != "Metformin XR" {
		t.Errorf("expected renamed medication, got %q", updated.Name)
	}
	if len(planner.calls) != 1 {
		t.Errorf("expected no regeneration beyond create, got %d calls", len(planner.calls))
	}
}

func TestUpdate_ScheduleChangeRegenerates(t *testing.T) {
	svc, _, planner, _ := newTestService()
	accountID := uuid.New()
	m, _ := svc.Create(context.Background(), accountID, validCreateInput())

	freq := FreqThreeTimesDaily
	if _, err := svc.Update(context.Background(), m.ID, accountID, UpdateInput{FrequencyType: &freq}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(planner.calls) != 2 {
		t.Fatalf("expected a regeneration call, got %d calls", len(planner.calls))
	}
	last := planner.calls[len(planner.calls)-1]
	if last.daysAhead != 30 || !last.clearFuture {
		t.Errorf("expected regenerate(30, true), got (%d, %v)", last.daysAhead, last.clearFuture)
	}
}

func TestUpdate_StartDateKeepsLocalTime(t *testing.T) {
	svc, _, _, _ := newTestService()
	accountID := uuid.New()
	m, _ := svc.Create(context.Background(), accountID, validCreateInput())

	updated, err := svc.Update(context.Background(), m.ID, accountID, UpdateInput{StartDate: strPtr("2026-07-01")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Still 08:00 New York local, now under DST, so 12:00 UTC.
	want := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	if !updated.StartDatetime.Equal(want) {
		t.Errorf("expected start %v, got %v", want, updated.StartDatetime)
	}
}

func TestUpdate_InvalidMergeLeavesStoredRow(t *testing.T) {
	svc, repo, _, _ := newTestService()
	accountID := uuid.New()
	m, _ := svc.Create(context.Background(), accountID, validCreateInput())

	// End before start must be rejected.
	_, err := svc.Update(context.Background(), m.ID, accountID, UpdateInput{EndDate: strPtr("2020-01-01")})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if stored := repo.meds[m.ID]; stored.EndDatetime != nil {
		t.Error("stored row should be untouched after failed update")
	}
}

func TestAdjustStock(t *testing.T) {
	svc, _, _, _ := newTestService()
	accountID := uuid.New()
	m, _ := svc.Create(context.Background(), accountID, validCreateInput())

	updated, err := svc.AdjustStock(context.Background(), m.ID, accountID, 30, "refill")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.CurrentStock != 90 {
		t.Errorf("expected stock 90, got %d", updated.CurrentStock)
	}

	if _, err := svc.AdjustStock(context.Background(), m.ID, accountID, -500, ""); err != ErrInsufficientStock {
		t.Errorf("expected ErrInsufficientStock, got %v", err)
	}
	if _, err := svc.AdjustStock(context.Background(), uuid.New(), accountID, 1, ""); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerateReminders(t *testing.T) {
	svc, _, planner, _ := newTestService()
	accountID := uuid.New()
	m, _ := svc.Create(context.Background(), accountID, validCreateInput())
	planner.n = 28

	n, err := svc.GenerateReminders(context.Background(), m.ID, accountID, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 28 {
		t.Errorf("expected 28 reminders, got %d", n)
	}
	last := planner.calls[len(planner.calls)-1]
	if last.daysAhead != 14 || last.clearFuture {
		t.Errorf("expected regenerate(14, false), got (%d, %v)", last.daysAhead, last.clearFuture)
	}
}

func TestDelete_HardWithoutHistory(t *testing.T) {
	svc, repo, _, _ := newTestService()
	accountID := uuid.New()
	m, _ := svc.Create(context.Background(), accountID, validCreateInput())

	if err := svc.Delete(context.Background(), m.ID, accountID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.meds[m.ID]; ok {
		t.Error("expected hard delete to remove the row")
	}
}

func TestDelete_DeactivatesWithHistory(t *testing.T) {
	svc, repo, _, history := newTestService()
	accountID := uuid.New()
	m, _ := svc.Create(context.Background(), accountID, validCreateInput())
	history.has[m.ID] = true

	if err := svc.Delete(context.Background(), m.ID, accountID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, ok := repo.meds[m.ID]
	if !ok {
		t.Fatal("expected row to survive when history exists")
	}
	if stored.IsActive {
		t.Error("expected medication to be deactivated")
	}
}

func TestDelete_WrongAccount(t *testing.T) {
	svc, _, _, _ := newTestService()
	m, _ := svc.Create(context.Background(), uuid.New(), validCreateInput())

	if err := svc.Delete(context.Background(), m.ID, uuid.New()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
