package reference

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pathology is a coded disease, sign or condition (ICD-10).
type Pathology struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Category  string    `db:"category" json:"category,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsSymptom reports whether the code falls in ICD-10 chapter XVIII
// (symptoms, signs and abnormal findings, codes R00-R99).
func (p *Pathology) IsSymptom() bool {
	return strings.HasPrefix(strings.ToUpper(p.Code), "R")
}

type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PUID        string     `db:"puid" json:"puid"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	Sex         string     `db:"sex" json:"sex,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Name returns "First Last", skipping empty parts.
func (p *Patient) Name() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// AgeAt returns the patient's age in whole years on day at. ok is false
// when the date of birth is unknown or lies after at.
func (p *Patient) AgeAt(at time.Time) (years int, ok bool) {
	if p.DateOfBirth == nil || p.DateOfBirth.After(at) {
		return 0, false
	}
	dob := *p.DateOfBirth
	years = at.Year() - dob.Year()
	if at.Month() < dob.Month() || (at.Month() == dob.Month() && at.Day() < dob.Day()) {
		years--
	}
	return years, true
}

var validSex = map[string]bool{"m": true, "f": true, "u": true}

type Country struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Code string    `db:"code" json:"code"`
	Name string    `db:"name" json:"name"`
}

// Subdivision is a parish, state or province of a country.
type Subdivision struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CountryID uuid.UUID `db:"country_id" json:"country_id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
}
