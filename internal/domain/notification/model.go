package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the classification of a notified case.
type Status string

const (
	StatusWaiting        Status = "waiting"
	StatusSuspected      Status = "suspected"
	StatusConfirmed      Status = "confirmed"
	StatusEpiLinked      Status = "epi-linked"
	StatusDiscarded      Status = "discarded"
	StatusNotSuspected   Status = "not-suspected"
	StatusUnclassified   Status = "unclassified"
	StatusCannotClassify Status = "cannot-classify"
	StatusDuplicate      Status = "duplicate"
	StatusInvalid        Status = "invalid"
)

// statuses lists every status in display order.
var statuses = []Status{
	StatusWaiting,
	StatusSuspected,
	StatusConfirmed,
	StatusEpiLinked,
	StatusDiscarded,
	StatusNotSuspected,
	StatusUnclassified,
	StatusCannotClassify,
	StatusDuplicate,
	StatusInvalid,
}

var statusLabels = map[Status]string{
	StatusWaiting:        "Awaiting Classification",
	StatusSuspected:      "Suspected",
	StatusConfirmed:      "Confirmed",
	StatusEpiLinked:      "Confirmed (epidemiological link)",
	StatusDiscarded:      "Discarded (after investigation)",
	StatusNotSuspected:   "Not suspected",
	StatusUnclassified:   "Unclassified",
	StatusCannotClassify: "Cannot be classified",
	StatusDuplicate:      "Discarded (duplicate)",
	StatusInvalid:        "Invalid",
}

// endStates freeze the diagnosis and the symptom list.
var endStates = map[Status]struct{}{
	StatusDiscarded:    {},
	StatusDuplicate:    {},
	StatusConfirmed:    {},
	StatusNotSuspected: {},
}

// Statuses returns all statuses in display order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the human-readable name, or the raw value when unknown.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// LookupStatus returns the label of a raw status value and whether it is known.
func LookupStatus(raw string) (string, bool) {
	s := Status(raw)
	return s.Label(), s.Valid()
}

func (s Status) IsEnd() bool {
	_, ok := endStates[s]
	return ok
}

// Notification is one reported case under surveillance.
type Notification struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	Code                 string     `db:"code" json:"code"`
	PatientID            uuid.UUID  `db:"patient_id" json:"patient_id"`
	Status               Status     `db:"status" json:"status"`
	DateNotified         time.Time  `db:"date_notified" json:"date_notified"`
	DiagnosisID          *uuid.UUID `db:"diagnosis_id" json:"diagnosis_id,omitempty"`
	DiagnosisConfirmedID *uuid.UUID `db:"diagnosis_confirmed_id" json:"diagnosis_confirmed_id,omitempty"`
	DateOnset            *time.Time `db:"date_onset" json:"date_onset,omitempty"`
	DateSeen             *time.Time `db:"date_seen" json:"date_seen,omitempty"`
	EncounterID          *uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	ReportingFacility    string     `db:"reporting_facility" json:"reporting_facility,omitempty"`
	HealthProf           string     `db:"healthprof" json:"healthprof,omitempty"`
	SpecimenTaken        bool       `db:"specimen_taken" json:"specimen_taken"`
	HospitalAdmission    bool       `db:"hospital_admission" json:"hospital_admission"`
	AdmissionDate        *time.Time `db:"admission_date" json:"admission_date,omitempty"`
	Hospital             string     `db:"hospital" json:"hospital,omitempty"`
	Ward                 string     `db:"ward" json:"ward,omitempty"`
	Deceased             bool       `db:"deceased" json:"deceased"`
	DateOfDeath          *time.Time `db:"date_of_death" json:"date_of_death,omitempty"`
	HxTravel             bool       `db:"hx_travel" json:"hx_travel"`
	Comments             string     `db:"comments" json:"comments,omitempty"`
	Active               bool       `db:"active" json:"active"`
	CodeFixedAt          *time.Time `db:"code_fixed_at" json:"code_fixed_at,omitempty"`
	CreatedBy            string     `db:"created_by" json:"created_by"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`

	// EpiWeekOnset is derived from DateOnset and never stored.
	EpiWeekOnset string `db:"-" json:"epi_week_onset,omitempty"`
}

type Symptom struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	NotificationID uuid.UUID  `db:"notification_id" json:"notification_id"`
	PathologyID    uuid.UUID  `db:"pathology_id" json:"pathology_id"`
	DateOnset      *time.Time `db:"date_onset" json:"date_onset,omitempty"`
	Comment        string     `db:"comment" json:"comment,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

type TestResult string

const (
	ResultPositive      TestResult = "positive"
	ResultNegative      TestResult = "negative"
	ResultIndeterminate TestResult = "indeterminate"
)

func (r TestResult) Valid() bool {
	switch r {
	case ResultPositive, ResultNegative, ResultIndeterminate:
		return true
	}
	return false
}

type Specimen struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	NotificationID uuid.UUID  `db:"notification_id" json:"notification_id"`
	SpecimenType   string     `db:"specimen_type" json:"specimen_type"`
	DateTaken      *time.Time `db:"date_taken" json:"date_taken,omitempty"`
	LabSentTo      string     `db:"lab_sent_to" json:"lab_sent_to"`
	TestDate       *time.Time `db:"test_date" json:"test_date,omitempty"`
	TestResult     TestResult `db:"test_result" json:"test_result,omitempty"`
	Comment        string     `db:"comment" json:"comment,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// HasResult reports whether both a test date and a result were entered.
func (s *Specimen) HasResult() bool {
	return s.TestDate != nil && s.TestResult != ""
}

// MarshalJSON adds the derived has_result field.
func (s Specimen) MarshalJSON() ([]byte, error) {
	type plain Specimen
	return json.Marshal(struct {
		plain
		HasResult bool `json:"has_result"`
	}{plain(s), s.HasResult()})
}

type TravelHistory struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	NotificationID uuid.UUID  `db:"notification_id" json:"notification_id"`
	CountryID      uuid.UUID  `db:"country_id" json:"country_id"`
	SubdivisionID  *uuid.UUID `db:"subdivision_id" json:"subdivision_id,omitempty"`
	DepartureDate  *time.Time `db:"departure_date" json:"departure_date,omitempty"`
	Comment        string     `db:"comment" json:"comment,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

type RiskFactor struct {
	ID             uuid.UUID `db:"id" json:"id"`
	NotificationID uuid.UUID `db:"notification_id" json:"notification_id"`
	PathologyID    uuid.UUID `db:"pathology_id" json:"pathology_id"`
	Comment        string    `db:"comment" json:"comment,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// StateChange is one entry of a notification's status audit trail.
// OrigState is nil for the entry written at creation.
type StateChange struct {
	ID             uuid.UUID `db:"id" json:"id"`
	NotificationID uuid.UUID `db:"notification_id" json:"notification_id"`
	OrigState      *Status   `db:"orig_state" json:"orig_state"`
	TargetState    Status    `db:"target_state" json:"target_state"`
	ChangedBy      string    `db:"changed_by" json:"changed_by"`
	ChangeDate     time.Time `db:"change_date" json:"change_date"`
}
