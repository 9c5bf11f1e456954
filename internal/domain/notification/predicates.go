package notification

import (
	"fmt"
	"time"

	"github.com/ehr/surveillance/internal/domain/reference"
)

// Field-dependency rules. Each flag on a notification gates a group of
// dependent fields; forms and validators consult these instead of keeping
// their own copies of the rules.

func (n *Notification) SpecimenFieldsRequired() bool { return n.SpecimenTaken }

func (n *Notification) AdmissionFieldsVisible() bool { return n.HospitalAdmission }

func (n *Notification) DeathFieldsVisible() bool { return n.Deceased }

func (n *Notification) TravelRequired() bool { return n.HxTravel }

func (n *Notification) DiagnosisReadOnly() bool { return n.Status.IsEnd() }

func (n *Notification) SymptomsReadOnly() bool { return n.Status.IsEnd() }

// Rules is the evaluated set of predicates for one notification.
type Rules struct {
	SpecimenFieldsRequired bool `json:"specimen_fields_required"`
	AdmissionFieldsVisible bool `json:"admission_fields_visible"`
	DeathFieldsVisible     bool `json:"death_fields_visible"`
	TravelRequired         bool `json:"travel_required"`
	DiagnosisReadOnly      bool `json:"diagnosis_read_only"`
	SymptomsReadOnly       bool `json:"symptoms_read_only"`
}

func (n *Notification) Rules() Rules {
	return Rules{
		SpecimenFieldsRequired: n.SpecimenFieldsRequired(),
		AdmissionFieldsVisible: n.AdmissionFieldsVisible(),
		DeathFieldsVisible:     n.DeathFieldsVisible(),
		TravelRequired:         n.TravelRequired(),
		DiagnosisReadOnly:      n.DiagnosisReadOnly(),
		SymptomsReadOnly:       n.SymptomsReadOnly(),
	}
}

type patientGetter func(p *reference.Patient, at time.Time) (interface{}, bool)

var patientFields = map[string]patientGetter{
	"name": func(p *reference.Patient, _ time.Time) (interface{}, bool) {
		return p.Name(), p.Name() != ""
	},
	"puid": func(p *reference.Patient, _ time.Time) (interface{}, bool) {
		return p.PUID, p.PUID != ""
	},
	"sex": func(p *reference.Patient, _ time.Time) (interface{}, bool) {
		return p.Sex, p.Sex != ""
	},
	"dob": func(p *reference.Patient, _ time.Time) (interface{}, bool) {
		if p.DateOfBirth == nil {
			return nil, false
		}
		return p.DateOfBirth.Format("2006-01-02"), true
	},
	"age": func(p *reference.Patient, at time.Time) (interface{}, bool) {
		return p.AgeAt(at)
	},
}

// PatientFieldNames lists the fields PatientField resolves.
var PatientFieldNames = []string{"name", "puid", "sex", "dob", "age"}

// PatientField reads one attribute of the patient as of at. ok is false
// when the patient has no value for it; unknown names return an error.
func PatientField(p *reference.Patient, name string, at time.Time) (value interface{}, ok bool, err error) {
	get, found := patientFields[name]
	if !found {
		return nil, false, fmt.Errorf("unknown patient field %q", name)
	}
	value, ok = get(p, at)
	return value, ok, nil
}
