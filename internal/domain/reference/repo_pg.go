package reference

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

// =========== Panel Repository ===========

type panelRepoPG struct{ pool *pgxpool.Pool }

func NewPanelRepoPG(pool *pgxpool.Pool) PanelRepository {
	return &panelRepoPG{pool: pool}
}

func (r *panelRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const panelCols = `id, name, created_at, updated_at`

func scanPanel(row pgx.Row) (*Panel, error) {
	var p Panel
	err := row.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *panelRepoPG) GetOrCreate(ctx context.Context, name string) (*Panel, bool, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO panel (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
		RETURNING `+panelCols, uuid.New(), name)
	p, err := scanPanel(row)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	p, err = r.GetByName(ctx, name)
	return p, false, err
}

func (r *panelRepoPG) GetByName(ctx context.Context, name string) (*Panel, error) {
	p, err := scanPanel(r.conn(ctx).QueryRow(ctx, `SELECT `+panelCols+` FROM panel WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *panelRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM panel`).Scan(&n)
	return n, err
}

func (r *panelRepoPG) List(ctx context.Context, limit, offset int) ([]*Panel, int, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+panelCols+` FROM panel ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Panel
	for rows.Next() {
		p, err := scanPanel(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Parameter Repository ===========

type parameterRepoPG struct{ pool *pgxpool.Pool }

func NewParameterRepoPG(pool *pgxpool.Pool) ParameterRepository {
	return &parameterRepoPG{pool: pool}
}

func (r *parameterRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const parameterCols = `id, panel_id, data_type, internal_name, public_name, description,
	is_reference_parameter, gating_hierarchy, unit, ancestral_population,
	population_for_counts, created_at, updated_at`

func scanParameter(row pgx.Row) (*Parameter, error) {
	var p Parameter
	err := row.Scan(&p.ID, &p.PanelID, &p.DataType, &p.InternalName, &p.PublicName, &p.Description,
		&p.IsReferenceParameter, &p.GatingHierarchy, &p.Unit, &p.AncestralPopulation,
		&p.PopulationForCounts, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *parameterRepoPG) GetOrCreate(ctx context.Context, p *Parameter) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO parameter (id, panel_id, data_type, internal_name, public_name, description,
			is_reference_parameter, gating_hierarchy, unit, ancestral_population, population_for_counts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (gating_hierarchy) DO NOTHING
		RETURNING `+parameterCols,
		p.ID, p.PanelID, p.DataType, p.InternalName, p.PublicName, p.Description,
		p.IsReferenceParameter, p.GatingHierarchy, p.Unit, p.AncestralPopulation, p.PopulationForCounts)
	created, err := scanParameter(row)
	if err == nil {
		*p = *created
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	existing, err := r.GetByHierarchy(ctx, p.GatingHierarchy)
	if err != nil {
		return false, err
	}
	*p = *existing
	return false, nil
}

func (r *parameterRepoPG) Update(ctx context.Context, p *Parameter) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE parameter SET data_type=$2, internal_name=$3, public_name=$4, description=$5,
			is_reference_parameter=$6, unit=$7, ancestral_population=$8,
			population_for_counts=$9, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.DataType, p.InternalName, p.PublicName, p.Description,
		p.IsReferenceParameter, p.Unit, p.AncestralPopulation, p.PopulationForCounts)
	return err
}

func (r *parameterRepoPG) GetByHierarchy(ctx context.Context, gatingHierarchy string) (*Parameter, error) {
	p, err := scanParameter(r.conn(ctx).QueryRow(ctx,
		`SELECT `+parameterCols+` FROM parameter WHERE gating_hierarchy = $1`, gatingHierarchy))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *parameterRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM parameter`).Scan(&n)
	return n, err
}

func (r *parameterRepoPG) ListByPanel(ctx context.Context, panelID uuid.UUID, limit, offset int) ([]*Parameter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM parameter WHERE panel_id = $1`, panelID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+parameterCols+` FROM parameter WHERE panel_id = $1 ORDER BY gating_hierarchy LIMIT $2 OFFSET $3`,
		panelID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Parameter
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
