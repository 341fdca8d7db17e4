package reference

import (
	"context"

	"github.com/google/uuid"
)

type PanelRepository interface {
	// GetOrCreate returns the panel with the given (already uppercased)
	// name, creating it if absent.
	GetOrCreate(ctx context.Context, name string) (*Panel, bool, error)
	// GetByName returns ErrNotFound when the panel is not in the
	// dictionary.
	GetByName(ctx context.Context, name string) (*Panel, error)
	List(ctx context.Context, limit, offset int) ([]*Panel, int, error)
	Count(ctx context.Context) (int, error)
}

type ParameterRepository interface {
	// GetOrCreate inserts p if no parameter with its gating hierarchy
	// exists; otherwise it loads the existing row into p. The caller
	// decides whether to follow up with Update.
	GetOrCreate(ctx context.Context, p *Parameter) (bool, error)
	Update(ctx context.Context, p *Parameter) error
	// GetByHierarchy returns ErrNotFound when the parameter is
	// unregistered.
	GetByHierarchy(ctx context.Context, gatingHierarchy string) (*Parameter, error)
	ListByPanel(ctx context.Context, panelID uuid.UUID, limit, offset int) ([]*Parameter, int, error)
	Count(ctx context.Context) (int, error)
}
