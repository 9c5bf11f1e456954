package notification

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// GetByIDForUpdate reads the row and locks it until the enclosing
	// transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Notification, error)
	GetByCode(ctx context.Context, code string) (*Notification, error)
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Notification, error)
	Update(ctx context.Context, n *Notification) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Notification, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Notification, int, error)
	CodeExists(ctx context.Context, code string) (bool, error)

	// NextSequenceValue draws the next value of the named counter. Concurrent
	// callers never receive the same value.
	NextSequenceValue(ctx context.Context, counter string) (int64, error)

	// Symptoms
	AddSymptom(ctx context.Context, s *Symptom) error
	GetSymptoms(ctx context.Context, notificationID uuid.UUID) ([]*Symptom, error)
	RemoveSymptom(ctx context.Context, notificationID, id uuid.UUID) error

	// Specimens
	AddSpecimen(ctx context.Context, s *Specimen) error
	GetSpecimen(ctx context.Context, notificationID, id uuid.UUID) (*Specimen, error)
	UpdateSpecimen(ctx context.Context, s *Specimen) error
	GetSpecimens(ctx context.Context, notificationID uuid.UUID) ([]*Specimen, error)
	RemoveSpecimen(ctx context.Context, notificationID, id uuid.UUID) error

	// Travel history
	AddTravel(ctx context.Context, t *TravelHistory) error
	GetTravel(ctx context.Context, notificationID uuid.UUID) ([]*TravelHistory, error)
	RemoveTravel(ctx context.Context, notificationID, id uuid.UUID) error

	// Risk factors
	AddRiskFactor(ctx context.Context, r *RiskFactor) error
	GetRiskFactors(ctx context.Context, notificationID uuid.UUID) ([]*RiskFactor, error)
	RemoveRiskFactor(ctx context.Context, notificationID, id uuid.UUID) error

	// State changes are append-only.
	AddStateChange(ctx context.Context, sc *StateChange) error
	GetStateChanges(ctx context.Context, notificationID uuid.UUID) ([]*StateChange, error)
}
