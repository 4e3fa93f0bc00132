package documents

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

const documentCols = `id, patient_id, assessment_id, kind, status, title, data, author, created_at, updated_at`

var searchParams = map[string]db.SearchParam{
	"kind":   {Match: db.MatchExact, Column: "kind"},
	"status": {Match: db.MatchExact, Column: "status"},
	"title":  {Match: db.MatchContains, Column: "title"},
}

func encode(d *Document) ([]byte, error) {
	var body interface{}
	switch d.Kind {
	case KindConsent:
		body = d.Consent
	case KindReport:
		body = d.Report
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.Kind, err)
	}
	return data, nil
}

func decode(d *Document, data []byte) error {
	var err error
	switch d.Kind {
	case KindConsent:
		d.Consent = &Consent{}
		err = json.Unmarshal(data, d.Consent)
	case KindReport:
		d.Report = &Report{}
		err = json.Unmarshal(data, d.Report)
	}
	if err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

func (r *repoPG) Create(ctx context.Context, d *Document) error {
	d.ID = uuid.New()
	data, err := encode(d)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO document (id, patient_id, assessment_id, kind, status, title, data, author)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		d.ID, d.PatientID, d.AssessmentID, d.Kind, d.Status, d.Title, data, d.Author,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	return scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+documentCols+` FROM document WHERE id = $1 AND deleted_at IS NULL`, id))
}

// Update never changes the kind of a document.
func (r *repoPG) Update(ctx context.Context, d *Document) error {
	data, err := encode(d)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE document SET
			patient_id=$2, assessment_id=$3, status=$4, title=$5, data=$6, updated_at=NOW()
		WHERE id = $1 AND kind = $7 AND deleted_at IS NULL
		RETURNING author, created_at, updated_at`,
		d.ID, d.PatientID, d.AssessmentID, d.Status, d.Title, data, d.Kind,
	).Scan(&d.Author, &d.CreatedAt, &d.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE document SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Document, int, error) {
	return r.Search(ctx, map[string]string{"patient": patientID.String()}, limit, offset)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Document, int, error) {
	qb := db.NewSearchQuery("document", documentCols)
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
	qb.OrderBy("updated_at DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Document
	for rows.Next() {
		d, err := scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func scanRow(row pgx.Row) (*Document, error) {
	var d Document
	var data []byte
	err := row.Scan(&d.ID, &d.PatientID, &d.AssessmentID, &d.Kind, &d.Status, &d.Title,
		&data, &d.Author, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := decode(&d, data); err != nil {
		return nil, err
	}
	return &d, nil
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
