package patientmeta

import (
	"context"

	"github.com/google/uuid"
)

type KeyRepository interface {
	// GetOrCreate registers a metadata key by its lower-cased name.
	// Description and notes are set on creation only; reruns leave the
	// existing row untouched.
	GetOrCreate(ctx context.Context, name, description string) (*MetadataKey, bool, error)
	List(ctx context.Context, limit, offset int) ([]*MetadataKey, int, error)
	Count(ctx context.Context) (int, error)
}

type MetadataRepository interface {
	// Upsert writes a patient's value for a key, overwriting any prior
	// value; unique on (patient, key).
	Upsert(ctx context.Context, patientID, keyID uuid.UUID, value string) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Metadata, error)
	Count(ctx context.Context) (int, error)
}
