package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anesth/preop/internal/platform/apperr"
	"github.com/anesth/preop/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, identifier, family_name, given_name, birth_date, sex, phone, email, created_at, updated_at`

var searchParams = map[string]db.SearchParam{
	"identifier": {Match: db.MatchExact, Column: "identifier"},
	"family":     {Match: db.MatchContains, Column: "family_name"},
	"given":      {Match: db.MatchContains, Column: "given_name"},
	"birthdate":  {Match: db.MatchExact, Column: "birth_date"},
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, identifier, family_name, given_name, birth_date, sex, phone, email)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		p.ID, p.Identifier, p.FamilyName, p.GivenName, p.BirthDate, p.Sex, p.Phone, p.Email,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) GetByIdentifier(ctx context.Context, identifier string) (*Patient, error) {
	return scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE identifier = $1 AND deleted_at IS NULL`, identifier))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			identifier=$2, family_name=$3, given_name=$4, birth_date=$5, sex=$6, phone=$7, email=$8,
			updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING created_at, updated_at`,
		p.ID, p.Identifier, p.FamilyName, p.GivenName, p.BirthDate, p.Sex, p.Phone, p.Email,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patient SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return r.Search(ctx, nil, limit, offset)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	qb := db.NewSearchQuery("patient", patientCols)
	qb.Add("deleted_at IS NULL")
	if name := params["name"]; name != "" {
		qb.Add(fmt.Sprintf(`(family_name ILIKE $%d ESCAPE '\' OR given_name ILIKE $%d ESCAPE '\')`, qb.Idx(), qb.Idx()), db.ContainsPattern(name))
	}
	qb.ApplyParams(params, searchParams)
	qb.OrderBy("family_name, given_name")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func scanRow(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Identifier, &p.FamilyName, &p.GivenName, &p.BirthDate,
		&p.Sex, &p.Phone, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return apperr.ErrNotFound
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		return fmt.Errorf("%w: patient identifier already in use", apperr.ErrConflict)
	}
	return err
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
