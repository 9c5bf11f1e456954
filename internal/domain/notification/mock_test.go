package notification

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/surveillance/internal/domain/epiweek"
	"github.com/ehr/surveillance/internal/domain/reference"
	"github.com/ehr/surveillance/internal/platform/apperr"
)

// -- Mock Repository --

type mockRepo struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*Notification
	symptoms      map[uuid.UUID]*Symptom
	specimens     map[uuid.UUID]*Specimen
	travel        map[uuid.UUID]*TravelHistory
	risks         map[uuid.UUID]*RiskFactor
	stateChanges  []*StateChange
	sequences     map[string]int64

	failStateChange error

	rowLocks     map[uuid.UUID]*sync.Mutex
	lockAttempts atomic.Int32
	// onLockedRead runs after GetByIDForUpdate takes its row lock.
	onLockedRead func()
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		notifications: make(map[uuid.UUID]*Notification),
		symptoms:      make(map[uuid.UUID]*Symptom),
		specimens:     make(map[uuid.UUID]*Specimen),
		travel:        make(map[uuid.UUID]*TravelHistory),
		risks:         make(map[uuid.UUID]*RiskFactor),
		sequences:     make(map[string]int64),
		rowLocks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

// snapshot and restore give the mock transactional behaviour.
type mockState struct {
	notifications map[uuid.UUID]Notification
	stateChanges  int
	sequences     map[string]int64
}

func (m *mockRepo) snapshot() mockState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := mockState{
		notifications: make(map[uuid.UUID]Notification, len(m.notifications)),
		stateChanges:  len(m.stateChanges),
		sequences:     make(map[string]int64, len(m.sequences)),
	}
	for id, n := range m.notifications {
		s.notifications[id] = *n
	}
	for k, v := range m.sequences {
		s.sequences[k] = v
	}
	return s
}

func (m *mockRepo) restore(s mockState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = make(map[uuid.UUID]*Notification, len(s.notifications))
	for id, n := range s.notifications {
		n := n
		m.notifications[id] = &n
	}
	m.stateChanges = m.stateChanges[:s.stateChanges]
	m.sequences = s.sequences
}

type mockTransactor struct {
	repo *mockRepo
}

// heldLocks collects the row locks taken inside one transaction.
type heldLocks struct {
	mus []*sync.Mutex
}

type heldLocksKey struct{}

func (t mockTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	held := &heldLocks{}
	defer func() {
		for _, mu := range held.mus {
			mu.Unlock()
		}
	}()
	ctx = context.WithValue(ctx, heldLocksKey{}, held)
	snap := t.repo.snapshot()
	if err := fn(ctx); err != nil {
		t.repo.restore(snap)
		return err
	}
	return nil
}

func (m *mockRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.notifications {
		if existing.Code == n.Code {
			return apperr.Duplicate("notification_code_key", n.Code)
		}
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, apperr.NotFound("notification", id.String())
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Notification, error) {
	m.lockAttempts.Add(1)
	m.mu.Lock()
	rl, ok := m.rowLocks[id]
	if !ok {
		rl = &sync.Mutex{}
		m.rowLocks[id] = rl
	}
	m.mu.Unlock()

	rl.Lock()
	if held, ok := ctx.Value(heldLocksKey{}).(*heldLocks); ok {
		held.mus = append(held.mus, rl)
	} else {
		defer rl.Unlock()
	}
	if m.onLockedRead != nil {
		m.onLockedRead()
	}
	return m.GetByID(ctx, id)
}

func (m *mockRepo) GetByCode(_ context.Context, code string) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.Code == code {
			cp := *n
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("notification", code)
}

func (m *mockRepo) GetByEncounter(_ context.Context, encounterID uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.EncounterID != nil && *n.EncounterID == encounterID {
			cp := *n
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("notification", "encounter "+encounterID.String())
}

func (m *mockRepo) Update(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		return apperr.NotFound("notification", n.ID.String())
	}
	n.UpdatedAt = time.Now()
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[id]; !ok {
		return apperr.NotFound("notification", id.String())
	}
	delete(m.notifications, id)
	return nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Notification, int, error) {
	return m.Search(ctx, nil, limit, offset)
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.notifications {
		if st, ok := params["status"]; ok && string(n.Status) != st {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, len(out), nil
}

func (m *mockRepo) CodeExists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) NextSequenceValue(_ context.Context, counter string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[counter]++
	return m.sequences[counter], nil
}

func (m *mockRepo) AddSymptom(_ context.Context, s *Symptom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	cp := *s
	m.symptoms[s.ID] = &cp
	return nil
}

func (m *mockRepo) GetSymptoms(_ context.Context, notificationID uuid.UUID) ([]*Symptom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Symptom
	for _, s := range m.symptoms {
		if s.NotificationID == notificationID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) RemoveSymptom(_ context.Context, notificationID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.symptoms[id]
	if !ok || s.NotificationID != notificationID {
		return apperr.NotFound("symptom", id.String())
	}
	delete(m.symptoms, id)
	return nil
}

func (m *mockRepo) AddSpecimen(_ context.Context, s *Specimen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	cp := *s
	m.specimens[s.ID] = &cp
	return nil
}

func (m *mockRepo) GetSpecimen(_ context.Context, notificationID, id uuid.UUID) (*Specimen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.specimens[id]
	if !ok || s.NotificationID != notificationID {
		return nil, apperr.NotFound("specimen", id.String())
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) UpdateSpecimen(_ context.Context, s *Specimen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.specimens[s.ID] = &cp
	return nil
}

func (m *mockRepo) GetSpecimens(_ context.Context, notificationID uuid.UUID) ([]*Specimen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Specimen
	for _, s := range m.specimens {
		if s.NotificationID == notificationID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) RemoveSpecimen(_ context.Context, notificationID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.specimens[id]
	if !ok || s.NotificationID != notificationID {
		return apperr.NotFound("specimen", id.String())
	}
	delete(m.specimens, id)
	return nil
}

func (m *mockRepo) AddTravel(_ context.Context, t *TravelHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	cp := *t
	m.travel[t.ID] = &cp
	return nil
}

func (m *mockRepo) GetTravel(_ context.Context, notificationID uuid.UUID) ([]*TravelHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TravelHistory
	for _, t := range m.travel {
		if t.NotificationID == notificationID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) RemoveTravel(_ context.Context, notificationID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.travel[id]
	if !ok || t.NotificationID != notificationID {
		return apperr.NotFound("travel entry", id.String())
	}
	delete(m.travel, id)
	return nil
}

func (m *mockRepo) AddRiskFactor(_ context.Context, rf *RiskFactor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rf.ID = uuid.New()
	cp := *rf
	m.risks[rf.ID] = &cp
	return nil
}

func (m *mockRepo) GetRiskFactors(_ context.Context, notificationID uuid.UUID) ([]*RiskFactor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RiskFactor
	for _, rf := range m.risks {
		if rf.NotificationID == notificationID {
			cp := *rf
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) RemoveRiskFactor(_ context.Context, notificationID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rf, ok := m.risks[id]
	if !ok || rf.NotificationID != notificationID {
		return apperr.NotFound("risk factor", id.String())
	}
	delete(m.risks, id)
	return nil
}

func (m *mockRepo) AddStateChange(_ context.Context, sc *StateChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStateChange != nil {
		return m.failStateChange
	}
	sc.ID = uuid.New()
	cp := *sc
	m.stateChanges = append(m.stateChanges, &cp)
	return nil
}

func (m *mockRepo) GetStateChanges(_ context.Context, notificationID uuid.UUID) ([]*StateChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*StateChange
	for _, sc := range m.stateChanges {
		if sc.NotificationID == notificationID {
			cp := *sc
			out = append(out, &cp)
		}
	}
	return out, nil
}

// -- Fake reference data --

type fakeRefs struct {
	patients     map[uuid.UUID]*reference.Patient
	pathologies  map[uuid.UUID]*reference.Pathology
	countries    map[uuid.UUID]*reference.Country
	subdivisions map[uuid.UUID]*reference.Subdivision
}

func newFakeRefs() *fakeRefs {
	return &fakeRefs{
		patients:     make(map[uuid.UUID]*reference.Patient),
		pathologies:  make(map[uuid.UUID]*reference.Pathology),
		countries:    make(map[uuid.UUID]*reference.Country),
		subdivisions: make(map[uuid.UUID]*reference.Subdivision),
	}
}

func (f *fakeRefs) addPatient(first, last string, dob *time.Time) uuid.UUID {
	p := &reference.Patient{ID: uuid.New(), PUID: "P-" + strings.ToUpper(first), FirstName: first, LastName: last, Sex: "f", DateOfBirth: dob}
	f.patients[p.ID] = p
	return p.ID
}

func (f *fakeRefs) addPathology(code, name string) uuid.UUID {
	p := &reference.Pathology{ID: uuid.New(), Code: code, Name: name}
	f.pathologies[p.ID] = p
	return p.ID
}

func (f *fakeRefs) Patient(_ context.Context, id uuid.UUID) (*reference.Patient, error) {
	if p, ok := f.patients[id]; ok {
		return p, nil
	}
	return nil, apperr.NotFound("patient", id.String())
}

func (f *fakeRefs) Pathology(_ context.Context, id uuid.UUID) (*reference.Pathology, error) {
	if p, ok := f.pathologies[id]; ok {
		return p, nil
	}
	return nil, apperr.NotFound("pathology", id.String())
}

func (f *fakeRefs) Country(_ context.Context, id uuid.UUID) (*reference.Country, error) {
	if c, ok := f.countries[id]; ok {
		return c, nil
	}
	return nil, apperr.NotFound("country", id.String())
}

func (f *fakeRefs) Subdivision(_ context.Context, id uuid.UUID) (*reference.Subdivision, error) {
	if s, ok := f.subdivisions[id]; ok {
		return s, nil
	}
	return nil, apperr.NotFound("subdivision", id.String())
}

// -- Fixture --

// fixedNow is Friday 2024-03-15, noon UTC.
var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	repo    *mockRepo
	refs    *fakeRefs
	patient uuid.UUID
	cholera uuid.UUID
	typhoid uuid.UUID
	fever   uuid.UUID
}

func newFixture(rules RuleSet) *fixture {
	repo := newMockRepo()
	refs := newFakeRefs()
	dob := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	f := &fixture{
		repo:    repo,
		refs:    refs,
		patient: refs.addPatient("Ann", "Lee", &dob),
		cholera: refs.addPathology("A00", "Cholera"),
		typhoid: refs.addPathology("A01", "Typhoid fever"),
		fever:   refs.addPathology("R50", "Fever"),
	}
	f.svc = NewService(repo, refs, mockTransactor{repo: repo}, epiweek.New(epiweek.MMWR), rules)
	f.svc.SetClock(func() time.Time { return fixedNow })
	return f
}

func (f *fixture) newNotification(status Status, diagnosis *uuid.UUID) *Notification {
	return &Notification{
		PatientID:    f.patient,
		Status:       status,
		DateNotified: fixedNow.Add(-time.Hour),
		DiagnosisID:  diagnosis,
	}
}

func ptr[T any](v T) *T { return &v }

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

var errBoom = errors.New("boom")
