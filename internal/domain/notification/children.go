package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/surveillance/internal/platform/apperr"
)

// -- Symptoms --

func (s *Service) AddSymptom(ctx context.Context, sym *Symptom) error {
	n, err := s.repo.GetByID(ctx, sym.NotificationID)
	if err != nil {
		return err
	}
	if n.SymptomsReadOnly() {
		return apperr.Invalid("symptoms", fmt.Sprintf("are read-only while the case is %s", n.Status))
	}
	if sym.PathologyID == uuid.Nil {
		return apperr.Required("pathology_id")
	}
	p, err := s.refs.Pathology(ctx, sym.PathologyID)
	if err != nil {
		return err
	}
	if !p.IsSymptom() {
		return apperr.Invalid("pathology_id", fmt.Sprintf("%s is not a sign or symptom code", p.Code))
	}
	if err := s.notFuture("date_onset", sym.DateOnset); err != nil {
		return err
	}
	return s.repo.AddSymptom(ctx, sym)
}

func (s *Service) Symptoms(ctx context.Context, notificationID uuid.UUID) ([]*Symptom, error) {
	return s.repo.GetSymptoms(ctx, notificationID)
}

func (s *Service) RemoveSymptom(ctx context.Context, notificationID, id uuid.UUID) error {
	n, err := s.repo.GetByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.SymptomsReadOnly() {
		return apperr.Invalid("symptoms", fmt.Sprintf("are read-only while the case is %s", n.Status))
	}
	return s.repo.RemoveSymptom(ctx, notificationID, id)
}

// -- Specimens --

func (s *Service) validateSpecimen(sp *Specimen) error {
	if strings.TrimSpace(sp.SpecimenType) == "" {
		return apperr.Required("specimen_type")
	}
	if sp.DateTaken == nil {
		return apperr.Required("date_taken")
	}
	if strings.TrimSpace(sp.LabSentTo) == "" {
		return apperr.Required("lab_sent_to")
	}
	if sp.TestResult != "" && !sp.TestResult.Valid() {
		return apperr.Invalid("test_result", "must be positive, negative or indeterminate")
	}
	if err := s.notFuture("date_taken", sp.DateTaken); err != nil {
		return err
	}
	if err := s.notFuture("test_date", sp.TestDate); err != nil {
		return err
	}
	if sp.TestDate != nil && sp.TestDate.Before(*sp.DateTaken) {
		return apperr.Invalid("test_date", "is before the date the specimen was taken")
	}
	return nil
}

// AddSpecimen records a specimen. The notification must be marked as
// having a specimen taken.
func (s *Service) AddSpecimen(ctx context.Context, sp *Specimen) error {
	n, err := s.repo.GetByID(ctx, sp.NotificationID)
	if err != nil {
		return err
	}
	if !n.SpecimenFieldsRequired() {
		return apperr.Invalid("specimen_taken", "must be set before specimens are recorded")
	}
	if err := s.validateSpecimen(sp); err != nil {
		return err
	}
	return s.repo.AddSpecimen(ctx, sp)
}

// UpdateSpecimen replaces a specimen's fields, typically to enter its result.
func (s *Service) UpdateSpecimen(ctx context.Context, sp *Specimen) error {
	if _, err := s.repo.GetSpecimen(ctx, sp.NotificationID, sp.ID); err != nil {
		return err
	}
	if err := s.validateSpecimen(sp); err != nil {
		return err
	}
	return s.repo.UpdateSpecimen(ctx, sp)
}

func (s *Service) Specimens(ctx context.Context, notificationID uuid.UUID) ([]*Specimen, error) {
	return s.repo.GetSpecimens(ctx, notificationID)
}

func (s *Service) RemoveSpecimen(ctx context.Context, notificationID, id uuid.UUID) error {
	return s.repo.RemoveSpecimen(ctx, notificationID, id)
}

// -- Travel history --

func (s *Service) AddTravel(ctx context.Context, t *TravelHistory) error {
	n, err := s.repo.GetByID(ctx, t.NotificationID)
	if err != nil {
		return err
	}
	if !n.TravelRequired() {
		return apperr.Invalid("hx_travel", "must be set before travel is recorded")
	}
	if t.CountryID == uuid.Nil {
		return apperr.Required("country_id")
	}
	if _, err := s.refs.Country(ctx, t.CountryID); err != nil {
		return err
	}
	if t.SubdivisionID != nil {
		sub, err := s.refs.Subdivision(ctx, *t.SubdivisionID)
		if err != nil {
			return err
		}
		if sub.CountryID != t.CountryID {
			return apperr.Invalid("subdivision_id", fmt.Sprintf("%s does not belong to the chosen country", sub.Name))
		}
	}
	if err := s.notFuture("departure_date", t.DepartureDate); err != nil {
		return err
	}
	return s.repo.AddTravel(ctx, t)
}

func (s *Service) Travel(ctx context.Context, notificationID uuid.UUID) ([]*TravelHistory, error) {
	return s.repo.GetTravel(ctx, notificationID)
}

func (s *Service) RemoveTravel(ctx context.Context, notificationID, id uuid.UUID) error {
	return s.repo.RemoveTravel(ctx, notificationID, id)
}

// -- Risk factors --

func (s *Service) AddRiskFactor(ctx context.Context, rf *RiskFactor) error {
	if _, err := s.repo.GetByID(ctx, rf.NotificationID); err != nil {
		return err
	}
	if rf.PathologyID == uuid.Nil {
		return apperr.Required("pathology_id")
	}
	if _, err := s.refs.Pathology(ctx, rf.PathologyID); err != nil {
		return err
	}
	return s.repo.AddRiskFactor(ctx, rf)
}

func (s *Service) RiskFactors(ctx context.Context, notificationID uuid.UUID) ([]*RiskFactor, error) {
	return s.repo.GetRiskFactors(ctx, notificationID)
}

func (s *Service) RemoveRiskFactor(ctx context.Context, notificationID, id uuid.UUID) error {
	return s.repo.RemoveRiskFactor(ctx, notificationID, id)
}
