package reference

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Pathologies
	CreatePathology(ctx context.Context, p *Pathology) error
	GetPathology(ctx context.Context, id uuid.UUID) (*Pathology, error)
	GetPathologyByCode(ctx context.Context, code string) (*Pathology, error)
	SearchPathologies(ctx context.Context, params map[string]string, limit, offset int) ([]*Pathology, int, error)

	// Patients
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)

	// Countries and subdivisions
	CreateCountry(ctx context.Context, c *Country) error
	GetCountry(ctx context.Context, id uuid.UUID) (*Country, error)
	ListCountries(ctx context.Context) ([]*Country, error)
	CreateSubdivision(ctx context.Context, s *Subdivision) error
	GetSubdivision(ctx context.Context, id uuid.UUID) (*Subdivision, error)
	ListSubdivisions(ctx context.Context, countryID uuid.UUID) ([]*Subdivision, error)
}
