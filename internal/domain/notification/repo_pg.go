package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/surveillance/internal/domain/casecount"
	"github.com/ehr/surveillance/internal/platform/apperr"
	"github.com/ehr/surveillance/internal/platform/db"
	"github.com/ehr/surveillance/internal/platform/search"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// NewCaseSource exposes reported cases to the case-count aggregator.
func NewCaseSource(pool *pgxpool.Pool) casecount.Source {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const notifCols = `id, code, patient_id, status, date_notified,
	diagnosis_id, diagnosis_confirmed_id, date_onset, date_seen, encounter_id,
	reporting_facility, healthprof, specimen_taken,
	hospital_admission, admission_date, hospital, ward,
	deceased, date_of_death, hx_travel, comments, active,
	code_fixed_at, created_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notification (
			id, code, patient_id, status, date_notified,
			diagnosis_id, diagnosis_confirmed_id, date_onset, date_seen, encounter_id,
			reporting_facility, healthprof, specimen_taken,
			hospital_admission, admission_date, hospital, ward,
			deceased, date_of_death, hx_travel, comments, active,
			code_fixed_at, created_by
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,
			$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24
		)
		RETURNING created_at, updated_at`,
		n.ID, n.Code, n.PatientID, n.Status, n.DateNotified,
		n.DiagnosisID, n.DiagnosisConfirmedID, n.DateOnset, n.DateSeen, n.EncounterID,
		n.ReportingFacility, n.HealthProf, n.SpecimenTaken,
		n.HospitalAdmission, n.AdmissionDate, n.Hospital, n.Ward,
		n.Deceased, n.DateOfDeath, n.HxTravel, n.Comments, n.Active,
		n.CodeFixedAt, n.CreatedBy,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	return apperr.FromPG(err, "notification", n.Code)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := scanNotification(r.conn(ctx).QueryRow(ctx, `SELECT `+notifCols+` FROM notification WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromPG(err, "notification", id.String())
	}
	return n, nil
}

func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := scanNotification(r.conn(ctx).QueryRow(ctx, `SELECT `+notifCols+` FROM notification WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, apperr.FromPG(err, "notification", id.String())
	}
	return n, nil
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*Notification, error) {
	n, err := scanNotification(r.conn(ctx).QueryRow(ctx, `SELECT `+notifCols+` FROM notification WHERE code = $1`, code))
	if err != nil {
		return nil, apperr.FromPG(err, "notification", code)
	}
	return n, nil
}

func (r *repoPG) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Notification, error) {
	n, err := scanNotification(r.conn(ctx).QueryRow(ctx, `
		SELECT `+notifCols+` FROM notification
		WHERE encounter_id = $1 ORDER BY created_at LIMIT 1`, encounterID))
	if err != nil {
		return nil, apperr.FromPG(err, "notification", "encounter "+encounterID.String())
	}
	return n, nil
}

func (r *repoPG) Update(ctx context.Context, n *Notification) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE notification SET
			code=$2, status=$3, date_notified=$4,
			diagnosis_id=$5, diagnosis_confirmed_id=$6, date_onset=$7, date_seen=$8, encounter_id=$9,
			reporting_facility=$10, healthprof=$11, specimen_taken=$12,
			hospital_admission=$13, admission_date=$14, hospital=$15, ward=$16,
			deceased=$17, date_of_death=$18, hx_travel=$19, comments=$20, active=$21,
			code_fixed_at=$22, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		n.ID, n.Code, n.Status, n.DateNotified,
		n.DiagnosisID, n.DiagnosisConfirmedID, n.DateOnset, n.DateSeen, n.EncounterID,
		n.ReportingFacility, n.HealthProf, n.SpecimenTaken,
		n.HospitalAdmission, n.AdmissionDate, n.Hospital, n.Ward,
		n.Deceased, n.DateOfDeath, n.HxTravel, n.Comments, n.Active,
		n.CodeFixedAt,
	).Scan(&n.UpdatedAt)
	return apperr.FromPG(err, "notification", n.ID.String())
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM notification WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("notification", id.String())
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Notification, int, error) {
	return r.Search(ctx, nil, limit, offset)
}

var notificationSearchParams = map[string]search.ParamConfig{
	"patient":       {Type: search.ParamUUID, Column: "patient_id"},
	"status":        {Type: search.ParamExact, Column: "status"},
	"code":          {Type: search.ParamString, Column: "code"},
	"diagnosis":     {Type: search.ParamUUID, Column: "diagnosis_id"},
	"confirmed":     {Type: search.ParamUUID, Column: "diagnosis_confirmed_id"},
	"encounter":     {Type: search.ParamUUID, Column: "encounter_id"},
	"date_notified": {Type: search.ParamDate, Column: "date_notified"},
	"date_onset":    {Type: search.ParamDate, Column: "date_onset"},
	"active":        {Type: search.ParamBool, Column: "active"},
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Notification, int, error) {
	q := search.NewQuery("notification", notifCols)
	if err := q.ApplyParams(params, notificationSearchParams); err != nil {
		return nil, 0, apperr.Invalid("search", err.Error())
	}
	q.OrderBy("date_notified DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(limit, offset), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *repoPG) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM notification WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// NextSequenceValue relies on the row lock taken by the upsert: a second
// caller blocks until the first transaction commits or rolls back.
func (r *repoPG) NextSequenceValue(ctx context.Context, counter string) (int64, error) {
	var v int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO code_sequence (name, next_value, increment) VALUES ($1, 2, 1)
		ON CONFLICT (name) DO UPDATE SET next_value = code_sequence.next_value + code_sequence.increment
		RETURNING next_value - increment`, counter).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("next value of sequence %s: %w", counter, err)
	}
	return v, nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.Code, &n.PatientID, &n.Status, &n.DateNotified,
		&n.DiagnosisID, &n.DiagnosisConfirmedID, &n.DateOnset, &n.DateSeen, &n.EncounterID,
		&n.ReportingFacility, &n.HealthProf, &n.SpecimenTaken,
		&n.HospitalAdmission, &n.AdmissionDate, &n.Hospital, &n.Ward,
		&n.Deceased, &n.DateOfDeath, &n.HxTravel, &n.Comments, &n.Active,
		&n.CodeFixedAt, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Symptoms
func (r *repoPG) AddSymptom(ctx context.Context, s *Symptom) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notification_symptom (id, notification_id, pathology_id, date_onset, comment)
		VALUES ($1,$2,$3,$4,$5) RETURNING created_at`,
		s.ID, s.NotificationID, s.PathologyID, s.DateOnset, s.Comment,
	).Scan(&s.CreatedAt)
}

func (r *repoPG) GetSymptoms(ctx context.Context, notificationID uuid.UUID) ([]*Symptom, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, notification_id, pathology_id, date_onset, comment, created_at
		FROM notification_symptom WHERE notification_id = $1 ORDER BY date_onset NULLS LAST, created_at`, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Symptom
	for rows.Next() {
		var s Symptom
		if err := rows.Scan(&s.ID, &s.NotificationID, &s.PathologyID, &s.DateOnset, &s.Comment, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *repoPG) RemoveSymptom(ctx context.Context, notificationID, id uuid.UUID) error {
	return r.removeChild(ctx, "notification_symptom", "symptom", notificationID, id)
}

// Specimens
const specimenCols = `id, notification_id, specimen_type, date_taken, lab_sent_to,
	test_date, COALESCE(test_result, ''), comment, created_at`

func (r *repoPG) AddSpecimen(ctx context.Context, s *Specimen) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notification_specimen
			(id, notification_id, specimen_type, date_taken, lab_sent_to, test_date, test_result, comment)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8) RETURNING created_at`,
		s.ID, s.NotificationID, s.SpecimenType, s.DateTaken, s.LabSentTo, s.TestDate, string(s.TestResult), s.Comment,
	).Scan(&s.CreatedAt)
}

func (r *repoPG) GetSpecimen(ctx context.Context, notificationID, id uuid.UUID) (*Specimen, error) {
	s, err := scanSpecimen(r.conn(ctx).QueryRow(ctx, `
		SELECT `+specimenCols+` FROM notification_specimen
		WHERE notification_id = $1 AND id = $2`, notificationID, id))
	if err != nil {
		return nil, apperr.FromPG(err, "specimen", id.String())
	}
	return s, nil
}

func (r *repoPG) UpdateSpecimen(ctx context.Context, s *Specimen) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE notification_specimen SET
			specimen_type=$3, date_taken=$4, lab_sent_to=$5, test_date=$6, test_result=NULLIF($7,''), comment=$8
		WHERE notification_id = $1 AND id = $2`,
		s.NotificationID, s.ID, s.SpecimenType, s.DateTaken, s.LabSentTo, s.TestDate, string(s.TestResult), s.Comment,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("specimen", s.ID.String())
	}
	return nil
}

func (r *repoPG) GetSpecimens(ctx context.Context, notificationID uuid.UUID) ([]*Specimen, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+specimenCols+` FROM notification_specimen
		WHERE notification_id = $1 ORDER BY date_taken, created_at`, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Specimen
	for rows.Next() {
		s, err := scanSpecimen(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repoPG) RemoveSpecimen(ctx context.Context, notificationID, id uuid.UUID) error {
	return r.removeChild(ctx, "notification_specimen", "specimen", notificationID, id)
}

func scanSpecimen(row pgx.Row) (*Specimen, error) {
	var s Specimen
	var result string
	if err := row.Scan(&s.ID, &s.NotificationID, &s.SpecimenType, &s.DateTaken, &s.LabSentTo,
		&s.TestDate, &result, &s.Comment, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.TestResult = TestResult(result)
	return &s, nil
}

// Travel history
func (r *repoPG) AddTravel(ctx context.Context, t *TravelHistory) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notification_travel (id, notification_id, country_id, subdivision_id, departure_date, comment)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`,
		t.ID, t.NotificationID, t.CountryID, t.SubdivisionID, t.DepartureDate, t.Comment,
	).Scan(&t.CreatedAt)
}

func (r *repoPG) GetTravel(ctx context.Context, notificationID uuid.UUID) ([]*TravelHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, notification_id, country_id, subdivision_id, departure_date, comment, created_at
		FROM notification_travel WHERE notification_id = $1 ORDER BY departure_date NULLS LAST, created_at`, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TravelHistory
	for rows.Next() {
		var t TravelHistory
		if err := rows.Scan(&t.ID, &t.NotificationID, &t.CountryID, &t.SubdivisionID, &t.DepartureDate, &t.Comment, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *repoPG) RemoveTravel(ctx context.Context, notificationID, id uuid.UUID) error {
	return r.removeChild(ctx, "notification_travel", "travel entry", notificationID, id)
}

// Risk factors
func (r *repoPG) AddRiskFactor(ctx context.Context, rf *RiskFactor) error {
	rf.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notification_risk_factor (id, notification_id, pathology_id, comment)
		VALUES ($1,$2,$3,$4) RETURNING created_at`,
		rf.ID, rf.NotificationID, rf.PathologyID, rf.Comment,
	).Scan(&rf.CreatedAt)
}

func (r *repoPG) GetRiskFactors(ctx context.Context, notificationID uuid.UUID) ([]*RiskFactor, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, notification_id, pathology_id, comment, created_at
		FROM notification_risk_factor WHERE notification_id = $1 ORDER BY created_at`, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RiskFactor
	for rows.Next() {
		var rf RiskFactor
		if err := rows.Scan(&rf.ID, &rf.NotificationID, &rf.PathologyID, &rf.Comment, &rf.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rf)
	}
	return out, rows.Err()
}

func (r *repoPG) RemoveRiskFactor(ctx context.Context, notificationID, id uuid.UUID) error {
	return r.removeChild(ctx, "notification_risk_factor", "risk factor", notificationID, id)
}

// removeChild deletes one row of a child table scoped to its notification.
// table is always a package constant.
func (r *repoPG) removeChild(ctx context.Context, table, entity string, notificationID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE notification_id = $1 AND id = $2`, notificationID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(entity, id.String())
	}
	return nil
}

// State changes
func (r *repoPG) AddStateChange(ctx context.Context, sc *StateChange) error {
	sc.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO notification_state_change (id, notification_id, orig_state, target_state, changed_by, change_date)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sc.ID, sc.NotificationID, sc.OrigState, sc.TargetState, sc.ChangedBy, sc.ChangeDate,
	)
	return err
}

func (r *repoPG) GetStateChanges(ctx context.Context, notificationID uuid.UUID) ([]*StateChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, notification_id, orig_state, target_state, changed_by, change_date
		FROM notification_state_change WHERE notification_id = $1 ORDER BY change_date, seq`, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StateChange
	for rows.Next() {
		var sc StateChange
		if err := rows.Scan(&sc.ID, &sc.NotificationID, &sc.OrigState, &sc.TargetState, &sc.ChangedBy, &sc.ChangeDate); err != nil {
			return nil, err
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// Cases implements casecount.Source. Records without a diagnosis sort last.
func (r *repoPG) Cases(ctx context.Context, from, to time.Time, status string) ([]casecount.Case, error) {
	q := search.NewQuery("notification n LEFT JOIN pathology p ON p.id = n.diagnosis_id",
		"COALESCE(p.name, ''), n.date_onset, n.date_notified")
	q.Add(fmt.Sprintf("n.date_notified >= $%d AND n.date_notified < $%d", q.Idx(), q.Idx()+1), from, to)
	if status != "" {
		q.Add(fmt.Sprintf("n.status = $%d", q.Idx()), status)
	}
	q.OrderBy("p.name NULLS LAST, n.date_onset NULLS LAST, n.date_notified")

	rows, err := r.conn(ctx).Query(ctx, q.SelectSQL(), q.CountArgs()...)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var out []casecount.Case
	for rows.Next() {
		var c casecount.Case
		if err := rows.Scan(&c.Diagnosis, &c.DateOnset, &c.DateNotified); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
