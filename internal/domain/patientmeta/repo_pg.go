package patientmeta

import (
	"context"
	"errors"

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

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Metadata Key Repository ===========

type keyRepoPG struct{ pool *pgxpool.Pool }

func NewKeyRepoPG(pool *pgxpool.Pool) KeyRepository {
	return &keyRepoPG{pool: pool}
}

const keyCols = `id, name, description, notes, created_at, updated_at`

func scanKey(row pgx.Row) (*MetadataKey, error) {
	var k MetadataKey
	err := row.Scan(&k.ID, &k.Name, &k.Description, &k.Notes, &k.CreatedAt, &k.UpdatedAt)
	return &k, err
}

func (r *keyRepoPG) GetOrCreate(ctx context.Context, name, description string) (*MetadataKey, bool, error) {
	c := conn(ctx, r.pool)
	k, err := scanKey(c.QueryRow(ctx, `
		INSERT INTO patient_metadata_dict (id, name, description, notes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
		RETURNING `+keyCols, uuid.New(), name, description, dynamicKeyNotes))
	if err == nil {
		return k, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	k, err = scanKey(c.QueryRow(ctx, `SELECT `+keyCols+` FROM patient_metadata_dict WHERE name = $1`, name))
	return k, false, err
}

func (r *keyRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patient_metadata_dict`).Scan(&n)
	return n, err
}

func (r *keyRepoPG) List(ctx context.Context, limit, offset int) ([]*MetadataKey, int, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+keyCols+` FROM patient_metadata_dict ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MetadataKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, k)
	}
	return items, total, rows.Err()
}

// =========== Metadata Repository ===========

type metadataRepoPG struct{ pool *pgxpool.Pool }

func NewMetadataRepoPG(pool *pgxpool.Pool) MetadataRepository {
	return &metadataRepoPG{pool: pool}
}

func (r *metadataRepoPG) Upsert(ctx context.Context, patientID, keyID uuid.UUID, value string) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient_metadata (id, patient_id, metadata_key_id, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (patient_id, metadata_key_id) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		uuid.New(), patientID, keyID, value)
	return err
}

func (r *metadataRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Metadata, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, patient_id, metadata_key_id, value, created_at, updated_at
		FROM patient_metadata WHERE patient_id = $1`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Metadata
	for rows.Next() {
		var m Metadata
		if err := rows.Scan(&m.ID, &m.PatientID, &m.KeyID, &m.Value, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

func (r *metadataRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patient_metadata`).Scan(&n)
	return n, err
}
