package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/surveillance/internal/domain/epiweek"
	"github.com/ehr/surveillance/internal/domain/reference"
	"github.com/ehr/surveillance/internal/platform/apperr"
	"github.com/ehr/surveillance/internal/platform/auth"
	"github.com/ehr/surveillance/internal/platform/db"
	"github.com/ehr/surveillance/internal/platform/metrics"
)

// References resolves the records a notification points at.
type References interface {
	Patient(ctx context.Context, id uuid.UUID) (*reference.Patient, error)
	Pathology(ctx context.Context, id uuid.UUID) (*reference.Pathology, error)
	Country(ctx context.Context, id uuid.UUID) (*reference.Country, error)
	Subdivision(ctx context.Context, id uuid.UUID) (*reference.Subdivision, error)
}

// RuleSet holds the installation-specific validation and numbering rules.
type RuleSet struct {
	RequireDiagnosis bool
	RequireReporter  bool
	// Sequence names the counter that numbers notification codes.
	Sequence string
	// PendingPrefix marks a supplied code as a placeholder to be replaced.
	PendingPrefix string
}

var DefaultRules = RuleSet{Sequence: "notification", PendingPrefix: "TEMP"}

// codeSeparator joins the diagnosis prefix and the sequence number.
const codeSeparator = ":"

// maxCodeDraws bounds how many sequence values a single code assignment
// may skip over when earlier values are already taken by supplied codes.
const maxCodeDraws = 100

// systemActor is recorded on audit entries written without an authenticated user.
const systemActor = "system"

type Service struct {
	repo    Repository
	refs    References
	tx      db.Transactor
	cal     *epiweek.Calendar
	rules   RuleSet
	now     func() time.Time
	metrics *metrics.Collector
	log     zerolog.Logger
}

func NewService(repo Repository, refs References, tx db.Transactor, cal *epiweek.Calendar, rules RuleSet) *Service {
	if rules.Sequence == "" {
		rules.Sequence = DefaultRules.Sequence
	}
	if rules.PendingPrefix == "" {
		rules.PendingPrefix = DefaultRules.PendingPrefix
	}
	return &Service{
		repo:  repo,
		refs:  refs,
		tx:    tx,
		cal:   cal,
		rules: rules,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
}

// SetClock replaces the clock used for future-date checks and audit timestamps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }

func (s *Service) SetLogger(l zerolog.Logger) { s.log = l }

func (s *Service) Rules() RuleSet { return s.rules }

func actor(ctx context.Context) string {
	if id := auth.UserIDFromContext(ctx); id != "" {
		return id
	}
	return systemActor
}

// -- Codes --

// needsCode reports whether code must be replaced by a generated one.
func (s *Service) needsCode(code string) bool {
	code = strings.TrimSpace(code)
	return code == "" || strings.HasPrefix(strings.ToUpper(code), strings.ToUpper(s.rules.PendingPrefix))
}

// composeCode prefixes the sequence number with the diagnosis code, if any.
func composeCode(diagnosisCode, number string) string {
	if diagnosisCode == "" {
		return number
	}
	return diagnosisCode + codeSeparator + number
}

// sequencePart returns the number portion of a generated code.
func sequencePart(code string) string {
	if i := strings.LastIndex(code, codeSeparator); i >= 0 {
		return code[i+len(codeSeparator):]
	}
	return code
}

// drawCode takes sequence values until the composed code is not in use.
func (s *Service) drawCode(ctx context.Context, diagCode string) (string, error) {
	for i := 0; i < maxCodeDraws; i++ {
		v, err := s.repo.NextSequenceValue(ctx, s.rules.Sequence)
		if err != nil {
			return "", err
		}
		code := composeCode(diagCode, strconv.FormatInt(v, 10))
		exists, err := s.repo.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free notification code after %d draws of sequence %q", maxCodeDraws, s.rules.Sequence)
}

// recode re-prefixes an unfixed code with diagCode, drawing a new number when
// the re-prefixed code is already held by another notification.
func (s *Service) recode(ctx context.Context, cur, diagCode string) (string, error) {
	code := composeCode(diagCode, sequencePart(cur))
	if code == cur {
		return code, nil
	}
	exists, err := s.repo.CodeExists(ctx, code)
	if err != nil {
		return "", fmt.Errorf("check code: %w", err)
	}
	if !exists {
		return code, nil
	}
	return s.drawCode(ctx, diagCode)
}

func (s *Service) diagnosisCode(ctx context.Context, id *uuid.UUID) (string, error) {
	if id == nil {
		return "", nil
	}
	p, err := s.refs.Pathology(ctx, *id)
	if err != nil {
		return "", err
	}
	return p.Code, nil
}

// -- Validation --

func (s *Service) validateRequired(n *Notification) error {
	if n.PatientID == uuid.Nil {
		return apperr.Required("patient_id")
	}
	if n.Status == "" {
		return apperr.Required("status")
	}
	if !n.Status.Valid() {
		return apperr.Invalid("status", fmt.Sprintf("%q is not a known status", n.Status))
	}
	if n.DateNotified.IsZero() {
		return apperr.Required("date_notified")
	}
	if s.rules.RequireDiagnosis && n.DiagnosisID == nil {
		return apperr.Required("diagnosis_id")
	}
	if s.rules.RequireReporter && strings.TrimSpace(n.HealthProf) == "" {
		return apperr.Required("healthprof")
	}
	return nil
}

// afterToday reports whether the calendar date of d lies after today in the
// calendar's location. d is read as written, like a DATE column.
func (s *Service) afterToday(d time.Time) bool {
	now := s.now().In(s.cal.Location())
	y, m, dd := now.Date()
	today := time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC).After(today)
}

func (s *Service) notFuture(field string, d *time.Time) error {
	if d != nil && s.afterToday(*d) {
		return apperr.Invalid(field, "is in the future")
	}
	return nil
}

func (s *Service) validateDates(n *Notification) error {
	if n.DateNotified.After(s.now()) {
		return apperr.Invalid("date_notified", "is in the future")
	}
	for _, f := range []struct {
		name string
		d    *time.Time
	}{
		{"date_onset", n.DateOnset},
		{"date_seen", n.DateSeen},
		{"admission_date", n.AdmissionDate},
		{"date_of_death", n.DateOfDeath},
	} {
		if err := s.notFuture(f.name, f.d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkReferences(ctx context.Context, n *Notification) error {
	if _, err := s.refs.Patient(ctx, n.PatientID); err != nil {
		return err
	}
	if n.DiagnosisConfirmedID != nil {
		if _, err := s.refs.Pathology(ctx, *n.DiagnosisConfirmedID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) decorate(n *Notification) *Notification {
	n.EpiWeekOnset = ""
	if n.DateOnset != nil {
		n.EpiWeekOnset = s.cal.OfDate(*n.DateOnset).String()
	}
	return n
}

// -- Lifecycle --

// Create validates n, assigns its code and stores it together with the
// initial state-change entry.
func (s *Service) Create(ctx context.Context, n *Notification) error {
	if err := s.validateRequired(n); err != nil {
		return err
	}
	if err := s.validateDates(n); err != nil {
		return err
	}
	if err := s.checkReferences(ctx, n); err != nil {
		return err
	}
	generated := s.needsCode(n.Code)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.insert(ctx, n)
	})
	if err != nil {
		return err
	}

	s.metrics.NotificationCreated(string(n.Status))
	s.metrics.StatusChanged("", string(n.Status))
	if generated {
		s.metrics.CodeAssigned()
	}
	s.log.Info().
		Str("notification_id", n.ID.String()).
		Str("code", n.Code).
		Str("status", string(n.Status)).
		Bool("generated_code", generated).
		Msg("notification created")
	s.decorate(n)
	return nil
}

// insert assigns the code and writes the record plus its initial audit
// entry. It must run inside a transaction. n is only modified on success.
func (s *Service) insert(ctx context.Context, n *Notification) error {
	now := s.now()
	diagCode, err := s.diagnosisCode(ctx, n.DiagnosisID)
	if err != nil {
		return err
	}

	rec := *n
	rec.CodeFixedAt = nil
	if s.needsCode(rec.Code) {
		rec.Code, err = s.drawCode(ctx, diagCode)
		if err != nil {
			return err
		}
	} else {
		rec.Code = strings.TrimSpace(rec.Code)
		exists, err := s.repo.CodeExists(ctx, rec.Code)
		if err != nil {
			return fmt.Errorf("check code: %w", err)
		}
		if exists {
			return apperr.Duplicate("notification_code_key", rec.Code)
		}
		rec.CodeFixedAt = &now
	}
	if rec.CodeFixedAt == nil && rec.Status.IsEnd() {
		rec.CodeFixedAt = &now
	}

	rec.Active = true
	rec.CreatedBy = actor(ctx)
	if err := s.repo.Create(ctx, &rec); err != nil {
		return err
	}
	err = s.repo.AddStateChange(ctx, &StateChange{
		NotificationID: rec.ID,
		OrigState:      nil,
		TargetState:    rec.Status,
		ChangedBy:      rec.CreatedBy,
		ChangeDate:     now,
	})
	if err != nil {
		return err
	}
	*n = rec
	return nil
}

// Update stores the new field values of n. A status change appends exactly
// one state-change entry in the same transaction as the update.
func (s *Service) Update(ctx context.Context, n *Notification) error {
	var prev Status
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetByIDForUpdate(ctx, n.ID)
		if err != nil {
			return err
		}
		prev = cur.Status
		if n.PatientID != uuid.Nil && n.PatientID != cur.PatientID {
			return apperr.Invalid("patient_id", "cannot be changed")
		}
		n.PatientID = cur.PatientID
		if err := frozenDates(n, cur); err != nil {
			return err
		}
		if n.Status == "" {
			n.Status = cur.Status
		}
		if cur.DiagnosisReadOnly() && !sameID(n.DiagnosisID, cur.DiagnosisID) {
			return apperr.Invalid("diagnosis_id", fmt.Sprintf("is read-only while the case is %s", cur.Status))
		}
		if err := s.validateRequired(n); err != nil {
			return err
		}
		if err := s.validateDates(n); err != nil {
			return err
		}
		if n.DiagnosisID != nil && !sameID(n.DiagnosisID, cur.DiagnosisID) {
			if _, err := s.refs.Pathology(ctx, *n.DiagnosisID); err != nil {
				return err
			}
		}
		if n.DiagnosisConfirmedID != nil && !sameID(n.DiagnosisConfirmedID, cur.DiagnosisConfirmedID) {
			if _, err := s.refs.Pathology(ctx, *n.DiagnosisConfirmedID); err != nil {
				return err
			}
		}

		now := s.now()
		n.CodeFixedAt = cur.CodeFixedAt
		n.Code = cur.Code
		if n.CodeFixedAt == nil {
			diagCode, err := s.diagnosisCode(ctx, n.DiagnosisID)
			if err != nil {
				return err
			}
			if n.Code, err = s.recode(ctx, cur.Code, diagCode); err != nil {
				return err
			}
			if n.Status.IsEnd() {
				n.CodeFixedAt = &now
			}
		}
		n.CreatedBy = cur.CreatedBy
		n.CreatedAt = cur.CreatedAt

		if err := s.repo.Update(ctx, n); err != nil {
			return err
		}
		if n.Status == cur.Status {
			return nil
		}
		orig := cur.Status
		return s.repo.AddStateChange(ctx, &StateChange{
			NotificationID: n.ID,
			OrigState:      &orig,
			TargetState:    n.Status,
			ChangedBy:      actor(ctx),
			ChangeDate:     now,
		})
	})
	if err != nil {
		return err
	}

	if prev != n.Status {
		s.metrics.StatusChanged(string(prev), string(n.Status))
		s.log.Info().
			Str("notification_id", n.ID.String()).
			Str("from", string(prev)).
			Str("to", string(n.Status)).
			Msg("notification status changed")
	}
	s.decorate(n)
	return nil
}

// frozenDates rejects edits to the notification, onset and first-seen dates
// of a saved record. An onset or first-seen date left empty may be filled in.
func frozenDates(n, cur *Notification) error {
	if n.DateNotified.IsZero() {
		n.DateNotified = cur.DateNotified
	}
	if !n.DateNotified.Equal(cur.DateNotified) {
		return apperr.Invalid("date_notified", "cannot be changed once saved")
	}
	if cur.DateOnset != nil && !sameDate(n.DateOnset, cur.DateOnset) {
		return apperr.Invalid("date_onset", "cannot be changed once saved")
	}
	if cur.DateSeen != nil && !sameDate(n.DateSeen, cur.DateSeen) {
		return apperr.Invalid("date_seen", "cannot be changed once saved")
	}
	return nil
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ChangeStatus moves the notification to status, leaving other fields as they are.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, status Status) (*Notification, error) {
	if !status.Valid() {
		return nil, apperr.Invalid("status", fmt.Sprintf("%q is not a known status", status))
	}
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Status = status
	if err := s.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Duplicate copies a notification with its symptoms, specimens, travel and
// risk factors. The copy gets a new code, no confirmed diagnosis and its
// own audit trail.
func (s *Service) Duplicate(ctx context.Context, id uuid.UUID) (*Notification, error) {
	var dup *Notification
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		src, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		clone := *src
		clone.ID = uuid.Nil
		clone.Code = ""
		clone.CodeFixedAt = nil
		clone.DiagnosisConfirmedID = nil
		if err := s.insert(ctx, &clone); err != nil {
			return err
		}
		if err := s.copyChildren(ctx, src.ID, clone.ID); err != nil {
			return fmt.Errorf("copy children of %s: %w", src.ID, err)
		}
		dup = &clone
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.NotificationCreated(string(dup.Status))
	s.metrics.StatusChanged("", string(dup.Status))
	s.metrics.CodeAssigned()
	s.log.Info().
		Str("notification_id", dup.ID.String()).
		Str("source_id", id.String()).
		Str("code", dup.Code).
		Msg("notification duplicated")
	return s.decorate(dup), nil
}

func (s *Service) copyChildren(ctx context.Context, from, to uuid.UUID) error {
	symptoms, err := s.repo.GetSymptoms(ctx, from)
	if err != nil {
		return err
	}
	for _, c := range symptoms {
		cp := *c
		cp.NotificationID = to
		if err := s.repo.AddSymptom(ctx, &cp); err != nil {
			return err
		}
	}
	specimens, err := s.repo.GetSpecimens(ctx, from)
	if err != nil {
		return err
	}
	for _, c := range specimens {
		cp := *c
		cp.NotificationID = to
		if err := s.repo.AddSpecimen(ctx, &cp); err != nil {
			return err
		}
	}
	travel, err := s.repo.GetTravel(ctx, from)
	if err != nil {
		return err
	}
	for _, c := range travel {
		cp := *c
		cp.NotificationID = to
		if err := s.repo.AddTravel(ctx, &cp); err != nil {
			return err
		}
	}
	risks, err := s.repo.GetRiskFactors(ctx, from)
	if err != nil {
		return err
	}
	for _, c := range risks {
		cp := *c
		cp.NotificationID = to
		if err := s.repo.AddRiskFactor(ctx, &cp); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("notification_id", id.String()).Msg("notification deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decorate(n), nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*Notification, error) {
	n, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.decorate(n), nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Notification, int, error) {
	items, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, n := range items {
		s.decorate(n)
	}
	return items, total, nil
}

// Search filters notifications by stored fields. The onset epi-week is
// derived, so it cannot be used as a filter; search by date_onset instead.
func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Notification, int, error) {
	if _, ok := params["epi_week_onset"]; ok {
		return nil, 0, apperr.Invalid("epi_week_onset", "is derived and cannot be filtered; use date_onset")
	}
	items, total, err := s.repo.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, n := range items {
		s.decorate(n)
	}
	return items, total, nil
}

// EncounterDraft carries the encounter details used to prefill a new
// notification.
type EncounterDraft struct {
	PatientID         uuid.UUID
	DateSeen          *time.Time
	DiagnosisID       *uuid.UUID
	HealthProf        string
	ReportingFacility string
}

// FromEncounter returns the notification already filed for the encounter,
// or an unsaved draft prefilled from d. existing tells which one it is.
func (s *Service) FromEncounter(ctx context.Context, encounterID uuid.UUID, d EncounterDraft) (n *Notification, existing bool, err error) {
	n, err = s.repo.GetByEncounter(ctx, encounterID)
	if err == nil {
		return s.decorate(n), true, nil
	}
	if !apperr.IsLookup(err) {
		return nil, false, err
	}
	if d.PatientID == uuid.Nil {
		return nil, false, apperr.Required("patient_id")
	}
	if _, err := s.refs.Patient(ctx, d.PatientID); err != nil {
		return nil, false, err
	}
	enc := encounterID
	return &Notification{
		EncounterID:       &enc,
		PatientID:         d.PatientID,
		Status:            StatusWaiting,
		DateNotified:      s.now().UTC().Truncate(time.Second),
		DateSeen:          d.DateSeen,
		DiagnosisID:       d.DiagnosisID,
		HealthProf:        d.HealthProf,
		ReportingFacility: d.ReportingFacility,
		Active:            true,
	}, false, nil
}

// PatientSummary resolves every patient field of the notification as of now.
func (s *Service) PatientSummary(ctx context.Context, id uuid.UUID) (map[string]interface{}, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.refs.Patient(ctx, n.PatientID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(PatientFieldNames))
	for _, name := range PatientFieldNames {
		v, ok, err := PatientField(p, name, s.now())
		if err != nil {
			return nil, err
		}
		if ok {
			out[name] = v
		}
	}
	return out, nil
}

func (s *Service) StateChanges(ctx context.Context, id uuid.UUID) ([]*StateChange, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetStateChanges(ctx, id)
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
