package reference

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/surveillance/internal/platform/apperr"
	"github.com/ehr/surveillance/internal/platform/cache"
	"github.com/ehr/surveillance/internal/platform/metrics"
)

// pathologyTTL bounds how long a cached pathology may be served after an
// edit to the code table.
const pathologyTTL = time.Hour

type Service struct {
	repo    Repository
	kv      cache.KV
	metrics *metrics.Collector
	log     zerolog.Logger
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, log: zerolog.Nop()}
}

// SetCache enables read-through caching of pathology lookups.
func (s *Service) SetCache(kv cache.KV) { s.kv = kv }

func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }

func (s *Service) SetLogger(l zerolog.Logger) { s.log = l }

func (s *Service) CreatePathology(ctx context.Context, p *Pathology) error {
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	if p.Code == "" {
		return apperr.Required("code")
	}
	if strings.TrimSpace(p.Name) == "" {
		return apperr.Required("name")
	}
	return s.repo.CreatePathology(ctx, p)
}

// Pathology returns the pathology with the given id, consulting the cache
// first when one is configured. Cache failures degrade to a repository read.
func (s *Service) Pathology(ctx context.Context, id uuid.UUID) (*Pathology, error) {
	key := "pathology:" + id.String()
	if s.kv != nil {
		var p Pathology
		err := cache.GetJSON(ctx, s.kv, key, &p)
		if err == nil {
			s.metrics.CacheLookup(true)
			return &p, nil
		}
		s.metrics.CacheLookup(false)
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn().Err(err).Str("key", key).Msg("pathology cache read failed")
		}
	}

	p, err := s.repo.GetPathology(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.kv != nil {
		if err := cache.SetJSON(ctx, s.kv, key, p, pathologyTTL); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("pathology cache write failed")
		}
	}
	return p, nil
}

func (s *Service) PathologyByCode(ctx context.Context, code string) (*Pathology, error) {
	return s.repo.GetPathologyByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) SearchPathologies(ctx context.Context, params map[string]string, limit, offset int) ([]*Pathology, int, error) {
	return s.repo.SearchPathologies(ctx, params, limit, offset)
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if strings.TrimSpace(p.PUID) == "" {
		return apperr.Required("puid")
	}
	if strings.TrimSpace(p.FirstName) == "" && strings.TrimSpace(p.LastName) == "" {
		return apperr.Required("name")
	}
	p.Sex = strings.ToLower(p.Sex)
	if p.Sex != "" && !validSex[p.Sex] {
		return apperr.Invalid("sex", "must be m, f or u")
	}
	if p.DateOfBirth != nil && p.DateOfBirth.After(time.Now()) {
		return apperr.Invalid("date_of_birth", "is in the future")
	}
	return s.repo.CreatePatient(ctx, p)
}

func (s *Service) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

func (s *Service) SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.SearchPatients(ctx, params, limit, offset)
}

func (s *Service) CreateCountry(ctx context.Context, c *Country) error {
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	if c.Code == "" {
		return apperr.Required("code")
	}
	if c.Name == "" {
		return apperr.Required("name")
	}
	return s.repo.CreateCountry(ctx, c)
}

func (s *Service) Country(ctx context.Context, id uuid.UUID) (*Country, error) {
	return s.repo.GetCountry(ctx, id)
}

func (s *Service) Countries(ctx context.Context) ([]*Country, error) {
	return s.repo.ListCountries(ctx)
}

func (s *Service) CreateSubdivision(ctx context.Context, sub *Subdivision) error {
	if sub.CountryID == uuid.Nil {
		return apperr.Required("country_id")
	}
	if sub.Name == "" {
		return apperr.Required("name")
	}
	if _, err := s.repo.GetCountry(ctx, sub.CountryID); err != nil {
		return err
	}
	return s.repo.CreateSubdivision(ctx, sub)
}

func (s *Service) Subdivision(ctx context.Context, id uuid.UUID) (*Subdivision, error) {
	return s.repo.GetSubdivision(ctx, id)
}

func (s *Service) Subdivisions(ctx context.Context, countryID uuid.UUID) ([]*Subdivision, error) {
	if _, err := s.repo.GetCountry(ctx, countryID); err != nil {
		return nil, err
	}
	return s.repo.ListSubdivisions(ctx, countryID)
}
