package panelresult

import (
	"context"
	"errors"
	"time"

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

// =========== Gating Strategy Repository ===========

type gatingStrategyRepoPG struct{ pool *pgxpool.Pool }

func NewGatingStrategyRepoPG(pool *pgxpool.Pool) GatingStrategyRepository {
	return &gatingStrategyRepoPG{pool: pool}
}

func (r *gatingStrategyRepoPG) GetOrCreate(ctx context.Context, name string) (*GatingStrategy, bool, error) {
	c := conn(ctx, r.pool)
	var s GatingStrategy
	err := c.QueryRow(ctx, `
		INSERT INTO gating_strategy (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name, description, created_at, updated_at`, uuid.New(), name).
		Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	if err == nil {
		return &s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	err = c.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM gating_strategy WHERE name = $1`, name).
		Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	return &s, false, err
}

// =========== Processed Sample Repository ===========

type sampleRepoPG struct{ pool *pgxpool.Pool }

func NewSampleRepoPG(pool *pgxpool.Pool) SampleRepository {
	return &sampleRepoPG{pool: pool}
}

const sampleCols = `id, patient_id, clinical_sample_id, biobank_id, date_acquired,
	bleed_time, processed_time, blood_volume_ml, volume_frozen_ml, created_at, updated_at`

func scanSample(row pgx.Row) (*ProcessedSample, error) {
	var s ProcessedSample
	err := row.Scan(&s.ID, &s.PatientID, &s.ClinicalSampleID, &s.BiobankID, &s.DateAcquired,
		&s.BleedTime, &s.ProcessedTime, &s.BloodVolumeML, &s.VolumeFrozenML, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *sampleRepoPG) GetOrCreate(ctx context.Context, clinicalSampleID string, patientID uuid.UUID) (*ProcessedSample, bool, error) {
	c := conn(ctx, r.pool)
	s, err := scanSample(c.QueryRow(ctx, `
		INSERT INTO processed_sample (id, patient_id, clinical_sample_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (clinical_sample_id) DO NOTHING
		RETURNING `+sampleCols, uuid.New(), patientID, clinicalSampleID))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	s, err = scanSample(c.QueryRow(ctx,
		`SELECT `+sampleCols+` FROM processed_sample WHERE clinical_sample_id = $1`, clinicalSampleID))
	return s, false, err
}

func (r *sampleRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM processed_sample`).Scan(&n)
	return n, err
}

func (r *sampleRepoPG) List(ctx context.Context, limit, offset int) ([]*ProcessedSample, int, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+sampleCols+` FROM processed_sample ORDER BY clinical_sample_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ProcessedSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// =========== Data Processing Repository ===========

type dataProcessingRepoPG struct{ pool *pgxpool.Pool }

func NewDataProcessingRepoPG(pool *pgxpool.Pool) DataProcessingRepository {
	return &dataProcessingRepoPG{pool: pool}
}

func (r *dataProcessingRepoPG) GetOrCreate(ctx context.Context, fcsFileName string, panelID uuid.UUID) (*DataProcessing, bool, error) {
	c := conn(ctx, r.pool)
	var dp DataProcessing
	err := c.QueryRow(ctx, `
		INSERT INTO data_processing (id, panel_id, fcs_file_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (fcs_file_name, panel_id) DO NOTHING
		RETURNING id, panel_id, fcs_file_name, created_at, updated_at`,
		uuid.New(), panelID, fcsFileName).
		Scan(&dp.ID, &dp.PanelID, &dp.FCSFileName, &dp.CreatedAt, &dp.UpdatedAt)
	if err == nil {
		return &dp, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	err = c.QueryRow(ctx, `
		SELECT id, panel_id, fcs_file_name, created_at, updated_at
		FROM data_processing WHERE fcs_file_name = $1 AND panel_id = $2`, fcsFileName, panelID).
		Scan(&dp.ID, &dp.PanelID, &dp.FCSFileName, &dp.CreatedAt, &dp.UpdatedAt)
	return &dp, false, err
}

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

const resultCols = `id, processed_sample_id, panel_id, gating_strategy_id, data_processing_id,
	uploaded_file_id, created_at, updated_at`

func scanResult(row pgx.Row) (*Result, error) {
	var res Result
	err := row.Scan(&res.ID, &res.ProcessedSampleID, &res.PanelID, &res.GatingStrategyID,
		&res.DataProcessingID, &res.UploadedFileID, &res.CreatedAt, &res.UpdatedAt)
	return &res, err
}

func (r *resultRepoPG) GetOrCreate(ctx context.Context, res *Result) (bool, error) {
	c := conn(ctx, r.pool)
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	created, err := scanResult(c.QueryRow(ctx, `
		INSERT INTO result (id, processed_sample_id, panel_id, gating_strategy_id, data_processing_id, uploaded_file_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (processed_sample_id, panel_id, gating_strategy_id, data_processing_id) DO NOTHING
		RETURNING `+resultCols,
		res.ID, res.ProcessedSampleID, res.PanelID, res.GatingStrategyID, res.DataProcessingID, res.UploadedFileID))
	if err == nil {
		*res = *created
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	existing, err := scanResult(c.QueryRow(ctx, `
		SELECT `+resultCols+` FROM result
		WHERE processed_sample_id = $1 AND panel_id = $2 AND gating_strategy_id = $3 AND data_processing_id = $4`,
		res.ProcessedSampleID, res.PanelID, res.GatingStrategyID, res.DataProcessingID))
	if err != nil {
		return false, err
	}
	*res = *existing
	return false, nil
}

func (r *resultRepoPG) SetUploadedFile(ctx context.Context, resultID, fileID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE result SET uploaded_file_id = $2, updated_at = NOW() WHERE id = $1`, resultID, fileID)
	return err
}

func (r *resultRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM result`).Scan(&n)
	return n, err
}

// =========== Value Repository ===========

type valueRepoPG struct{ pool *pgxpool.Pool }

func NewValueRepoPG(pool *pgxpool.Pool) ValueRepository {
	return &valueRepoPG{pool: pool}
}

func (r *valueRepoPG) UpsertNumeric(ctx context.Context, resultID, parameterID uuid.UUID, value float64) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO numeric_value (id, result_id, parameter_id, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (result_id, parameter_id) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		uuid.New(), resultID, parameterID, value)
	return err
}

func (r *valueRepoPG) UpsertText(ctx context.Context, resultID, parameterID uuid.UUID, value string) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO text_value (id, result_id, parameter_id, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (result_id, parameter_id) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		uuid.New(), resultID, parameterID, value)
	return err
}

func (r *valueRepoPG) UpsertDate(ctx context.Context, resultID, parameterID uuid.UUID, value time.Time) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO date_value (id, result_id, parameter_id, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (result_id, parameter_id) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		uuid.New(), resultID, parameterID, value)
	return err
}

func (r *valueRepoPG) count(ctx context.Context, table string) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, err
}

func (r *valueRepoPG) CountNumeric(ctx context.Context) (int, error) { return r.count(ctx, "numeric_value") }
func (r *valueRepoPG) CountText(ctx context.Context) (int, error)    { return r.count(ctx, "text_value") }
func (r *valueRepoPG) CountDate(ctx context.Context) (int, error)    { return r.count(ctx, "date_value") }
