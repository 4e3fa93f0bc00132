package assessment

import (
	"context"
	"encoding/json"
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

const assessmentCols = `id, patient_id, status, data, created_by, finalized_by, finalized_at, created_at, updated_at`

var searchParams = map[string]db.SearchParam{
	"status":        {Match: db.MatchExact, Column: "status"},
	"day_admission": {Match: db.MatchExact, Column: "day_admission"},
	"asa_class":     {Match: db.MatchExact, Column: "asa_class"},
	"identifier":    {Match: db.MatchExact, Column: "patient_identifier"},
	"name":          {Match: db.MatchContains, Column: "patient_name"},
	"from":          {Match: db.MatchFrom, Column: "consultation_date"},
	"to":            {Match: db.MatchTo, Column: "consultation_date"},
}

var sortParams = map[string]db.SearchParam{
	"date":        {Column: "consultation_date"},
	"updated":     {Column: "updated_at"},
	"name":        {Column: "patient_name"},
	"stop_bang":   {Column: "stop_bang_score"},
	"lee":         {Column: "lee_score"},
	"postop_pain": {Column: "postop_pain_score"},
}

// columns returns the values copied out of the record for filtering.
func columns(a *Assessment) []interface{} {
	d := a.Record.Derived
	p := a.Record.Patient
	var consultation interface{}
	if t, ok := ParseDate(p.ConsultationDate); ok {
		consultation = t
	}
	name := p.FamilyName
	if p.GivenName != "" {
		name += " " + p.GivenName
	}
	return []interface{}{
		p.Identifier, name, consultation, a.Record.Anesthesia.ASAClass,
		d.StopBang.Score, d.Apfel.Score, d.Lee.Score, d.PostopPain.Score, string(d.DayAdmission),
	}
}

func (r *repoPG) Create(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	data, err := json.Marshal(a.Record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	args := append([]interface{}{a.ID, a.PatientID, a.Status, data, a.CreatedBy}, columns(a)...)
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO assessment (id, patient_id, status, data, created_by,
			patient_identifier, patient_name, consultation_date, asa_class,
			stop_bang_score, apfel_score, lee_score, postop_pain_score, day_admission)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`, args...,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+assessmentCols+` FROM assessment WHERE id = $1 AND deleted_at IS NULL`, id))
}

// Update rewrites an assessment that is still a draft. A finalized or
// deleted row is left untouched and reported as apperr.ErrNotFound.
func (r *repoPG) Update(ctx context.Context, a *Assessment) error {
	data, err := json.Marshal(a.Record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	args := append([]interface{}{a.ID, a.PatientID, a.Status, data, a.FinalizedBy, a.FinalizedAt}, columns(a)...)
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE assessment SET
			patient_id=$2, status=$3, data=$4, finalized_by=$5, finalized_at=$6,
			patient_identifier=$7, patient_name=$8, consultation_date=$9, asa_class=$10,
			stop_bang_score=$11, apfel_score=$12, lee_score=$13, postop_pain_score=$14, day_admission=$15,
			updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL AND status = 'draft'
		RETURNING created_at, updated_at`, args...,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE assessment SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Assessment, int, error) {
	return r.Search(ctx, nil, limit, offset)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	return r.Search(ctx, map[string]string{"patient": patientID.String()}, limit, offset)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Assessment, int, error) {
	qb := db.NewSearchQuery("assessment", assessmentCols)
	qb.Add("deleted_at IS NULL")
	if p := params["patient"]; p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, 0, apperr.Validation("invalid patient id")
		}
		qb.Add(fmt.Sprintf("patient_id = $%d", qb.Idx()), id)
	}
	qb.ApplyParams(params, searchParams)
	qb.ApplySort(params["sort"], "updated_at DESC", sortParams)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Assessment
	for rows.Next() {
		a, err := scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func scanRow(row pgx.Row) (*Assessment, error) {
	var a Assessment
	var data []byte
	err := row.Scan(&a.ID, &a.PatientID, &a.Status, &data, &a.CreatedBy,
		&a.FinalizedBy, &a.FinalizedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(data, &a.Record); err != nil {
		return nil, fmt.Errorf("decode assessment %s: %w", a.ID, err)
	}
	return &a, nil
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return apperr.ErrNotFound
	case errors.As(err, &pgErr) && pgErr.Code == "23503":
		return apperr.Validation("unknown patient")
	}
	return err
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
