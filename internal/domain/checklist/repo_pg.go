package checklist

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

const checklistCols = `id, patient_id, assessment_id, intervention_label, intervention_date, room, coordinator,
	data, status, created_by, created_at, updated_at`

var searchParams = map[string]db.SearchParam{
	"status":       {Match: db.MatchExact, Column: "status"},
	"room":         {Match: db.MatchExact, Column: "room"},
	"intervention": {Match: db.MatchContains, Column: "intervention_label"},
	"from":         {Match: db.MatchFrom, Column: "intervention_date"},
	"to":           {Match: db.MatchTo, Column: "intervention_date"},
}

func (r *repoPG) Create(ctx context.Context, c *Checklist) error {
	c.ID = uuid.New()
	data, err := json.Marshal(c.Phases)
	if err != nil {
		return fmt.Errorf("encode phases: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO checklist (id, patient_id, assessment_id, intervention_label, intervention_date,
			room, coordinator, data, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientID, c.AssessmentID, c.InterventionLabel, c.InterventionDate,
		c.Room, c.Coordinator, data, c.Status, c.CreatedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Checklist, error) {
	return scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+checklistCols+` FROM checklist WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) Update(ctx context.Context, c *Checklist) error {
	data, err := json.Marshal(c.Phases)
	if err != nil {
		return fmt.Errorf("encode phases: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE checklist SET
			patient_id=$2, assessment_id=$3, intervention_label=$4, intervention_date=$5,
			room=$6, coordinator=$7, data=$8, status=$9, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING created_by, created_at, updated_at`,
		c.ID, c.PatientID, c.AssessmentID, c.InterventionLabel, c.InterventionDate,
		c.Room, c.Coordinator, data, c.Status,
	).Scan(&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE checklist SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Checklist, int, error) {
	return r.Search(ctx, map[string]string{"patient": patientID.String()}, limit, offset)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Checklist, int, error) {
	qb := db.NewSearchQuery("checklist", checklistCols)
	qb.Add("deleted_at IS NULL")
	for _, name := range []string{"patient", "assessment"} {
		v := params[name]
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, 0, apperr.Validation("invalid %s id", name)
		}
		qb.Add(fmt.Sprintf("%s_id = $%d", name, qb.Idx()), id)
	}
	qb.ApplyParams(params, searchParams)
	qb.OrderBy("intervention_date DESC NULLS LAST, created_at DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Checklist
	for rows.Next() {
		c, err := scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func scanRow(row pgx.Row) (*Checklist, error) {
	var c Checklist
	var data []byte
	err := row.Scan(&c.ID, &c.PatientID, &c.AssessmentID, &c.InterventionLabel, &c.InterventionDate,
		&c.Room, &c.Coordinator, &data, &c.Status, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(data, &c.Phases); err != nil {
		return nil, fmt.Errorf("decode checklist %s: %w", c.ID, err)
	}
	c.Derive()
	return &c, nil
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return apperr.ErrNotFound
	case errors.As(err, &pgErr) && pgErr.Code == "23503":
		return apperr.Validation("unknown patient or assessment")
	}
	return err
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
