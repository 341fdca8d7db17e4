package upload

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facstrack/facstrack/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== UploadedFile Repository ===========

type fileRepoPG struct{ pool *pgxpool.Pool }

func NewFileRepoPG(pool *pgxpool.Pool) FileRepository {
	return &fileRepoPG{pool: pool}
}

func (r *fileRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const fileCols = `id, name, uploaded_by, description, row_count, content,
	valid_syntax, valid_model, state, notes, created_at, updated_at`

func scanFile(row pgx.Row) (*UploadedFile, error) {
	var f UploadedFile
	err := row.Scan(&f.ID, &f.Name, &f.UploadedBy, &f.Description, &f.RowCount, &f.Content,
		&f.ValidSyntax, &f.ValidModel, &f.State, &f.Notes, &f.CreatedAt, &f.UpdatedAt)
	return &f, err
}

func (r *fileRepoPG) Create(ctx context.Context, f *UploadedFile) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.State == "" {
		f.State = StateUploaded
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO uploaded_file (id, name, uploaded_by, description, row_count, content,
			valid_syntax, valid_model, state, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		f.ID, f.Name, f.UploadedBy, f.Description, f.RowCount, f.Content,
		f.ValidSyntax, f.ValidModel, f.State, f.Notes)
	return err
}

func (r *fileRepoPG) Update(ctx context.Context, f *UploadedFile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE uploaded_file SET row_count=$2, valid_syntax=$3, valid_model=$4,
			state=$5, notes=$6, updated_at=NOW()
		WHERE id = $1`,
		f.ID, f.RowCount, f.ValidSyntax, f.ValidModel, f.State, f.Notes)
	return err
}

func (r *fileRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*UploadedFile, error) {
	return scanFile(r.conn(ctx).QueryRow(ctx, `SELECT `+fileCols+` FROM uploaded_file WHERE id = $1`, id))
}

func (r *fileRepoPG) List(ctx context.Context, limit, offset int) ([]*UploadedFile, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM uploaded_file`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+fileCols+` FROM uploaded_file ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*UploadedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, rows.Err()
}

// =========== ValidationEntry Repository ===========

type entryRepoPG struct{ pool *pgxpool.Pool }

func NewEntryRepoPG(pool *pgxpool.Pool) EntryRepository {
	return &entryRepoPG{pool: pool}
}

func (r *entryRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *entryRepoPG) Create(ctx context.Context, e *ValidationEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO validation_entry (id, file_id, entry_type, validation_type, key, value)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.FileID, e.EntryType, e.ValidationType, e.Key, e.Value)
	return err
}

func (r *entryRepoPG) ListByFile(ctx context.Context, fileID uuid.UUID) ([]*ValidationEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, file_id, entry_type, validation_type, key, value, created_at
		FROM validation_entry WHERE file_id = $1 ORDER BY created_at, id`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ValidationEntry
	for rows.Next() {
		var e ValidationEntry
		if err := rows.Scan(&e.ID, &e.FileID, &e.EntryType, &e.ValidationType, &e.Key, &e.Value, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}
