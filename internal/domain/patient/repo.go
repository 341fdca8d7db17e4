package patient

import (
	"context"
)

type Repository interface {
	// GetOrCreate returns the patient with the given business key,
	// creating it if absent. The second return reports whether a row
	// was created.
	GetOrCreate(ctx context.Context, patientID string) (*Patient, bool, error)
	GetByPatientID(ctx context.Context, patientID string) (*Patient, error)
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}
