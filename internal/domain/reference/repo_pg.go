package reference

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

// Pathologies

const pathologyCols = `id, code, name, category, created_at`

var pathologySearchParams = map[string]search.ParamConfig{
	"code":     {Type: search.ParamString, Column: "code"},
	"name":     {Type: search.ParamString, Column: "name"},
	"category": {Type: search.ParamExact, Column: "category"},
}

func (r *repoPG) CreatePathology(ctx context.Context, p *Pathology) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pathology (id, code, name, category)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		p.ID, p.Code, p.Name, p.Category,
	).Scan(&p.CreatedAt)
	return apperr.FromPG(err, "pathology", p.Code)
}

func (r *repoPG) GetPathology(ctx context.Context, id uuid.UUID) (*Pathology, error) {
	p, err := scanPathology(r.conn(ctx).QueryRow(ctx, `SELECT `+pathologyCols+` FROM pathology WHERE id = $1`, id))
	return p, apperr.FromPG(err, "pathology", id.String())
}

func (r *repoPG) GetPathologyByCode(ctx context.Context, code string) (*Pathology, error) {
	p, err := scanPathology(r.conn(ctx).QueryRow(ctx, `SELECT `+pathologyCols+` FROM pathology WHERE code = $1`, code))
	return p, apperr.FromPG(err, "pathology", code)
}

func (r *repoPG) SearchPathologies(ctx context.Context, params map[string]string, limit, offset int) ([]*Pathology, int, error) {
	q := search.NewQuery("pathology", pathologyCols)
	if err := q.ApplyParams(params, pathologySearchParams); err != nil {
		return nil, 0, apperr.Invalid("search", err.Error())
	}
	q.OrderBy("code")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(limit, offset), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Pathology
	for rows.Next() {
		p, err := scanPathology(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func scanPathology(row pgx.Row) (*Pathology, error) {
	var p Pathology
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Patients

const patientCols = `id, puid, first_name, last_name, sex, date_of_birth, created_at`

var patientSearchParams = map[string]search.ParamConfig{
	"puid":       {Type: search.ParamExact, Column: "puid"},
	"first_name": {Type: search.ParamString, Column: "first_name"},
	"last_name":  {Type: search.ParamString, Column: "last_name"},
	"sex":        {Type: search.ParamExact, Column: "sex"},
	"birthdate":  {Type: search.ParamDate, Column: "date_of_birth"},
}

func (r *repoPG) CreatePatient(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, puid, first_name, last_name, sex, date_of_birth)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		p.ID, p.PUID, p.FirstName, p.LastName, p.Sex, p.DateOfBirth,
	).Scan(&p.CreatedAt)
	return apperr.FromPG(err, "patient", p.PUID)
}

func (r *repoPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	return p, apperr.FromPG(err, "patient", id.String())
}

func (r *repoPG) SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	q := search.NewQuery("patient", patientCols)
	if err := q.ApplyParams(params, patientSearchParams); err != nil {
		return nil, 0, apperr.Invalid("search", err.Error())
	}
	q.OrderBy("last_name, first_name")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(limit, offset), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.PUID, &p.FirstName, &p.LastName, &p.Sex, &p.DateOfBirth, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Countries and subdivisions

func (r *repoPG) CreateCountry(ctx context.Context, c *Country) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO country (id, code, name) VALUES ($1,$2,$3)`, c.ID, c.Code, c.Name)
	return apperr.FromPG(err, "country", c.Code)
}

func (r *repoPG) GetCountry(ctx context.Context, id uuid.UUID) (*Country, error) {
	var c Country
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, code, name FROM country WHERE id = $1`, id).Scan(&c.ID, &c.Code, &c.Name)
	if err != nil {
		return nil, apperr.FromPG(err, "country", id.String())
	}
	return &c, nil
}

func (r *repoPG) ListCountries(ctx context.Context) ([]*Country, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, code, name FROM country ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Country
	for rows.Next() {
		var c Country
		if err := rows.Scan(&c.ID, &c.Code, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateSubdivision(ctx context.Context, s *Subdivision) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO subdivision (id, country_id, code, name) VALUES ($1,$2,$3,$4)`,
		s.ID, s.CountryID, s.Code, s.Name,
	)
	return apperr.FromPG(err, "subdivision", s.Code)
}

func (r *repoPG) GetSubdivision(ctx context.Context, id uuid.UUID) (*Subdivision, error) {
	var s Subdivision
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, country_id, code, name FROM subdivision WHERE id = $1`, id).
		Scan(&s.ID, &s.CountryID, &s.Code, &s.Name)
	if err != nil {
		return nil, apperr.FromPG(err, "subdivision", id.String())
	}
	return &s, nil
}

func (r *repoPG) ListSubdivisions(ctx context.Context, countryID uuid.UUID) ([]*Subdivision, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, country_id, code, name FROM subdivision WHERE country_id = $1 ORDER BY name`, countryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subdivision
	for rows.Next() {
		var s Subdivision
		if err := rows.Scan(&s.ID, &s.CountryID, &s.Code, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
