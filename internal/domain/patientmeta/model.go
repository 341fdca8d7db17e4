package patientmeta

import (
	"time"

	"github.com/google/uuid"
)

// Notes stamped on metadata keys registered from an uploaded file.
const dynamicKeyNotes = "Dynamically added"

// MetadataKey is one dynamically registered metadata dictionary entry.
// Name is the lower-cased column name; Description keeps the original
// spelling from the first file that introduced the column.
type MetadataKey struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Notes       string    `db:"notes" json:"notes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Metadata is one patient's value for one metadata key; unique on
// (patient, key) so re-uploads overwrite instead of duplicating.
type Metadata struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	KeyID     uuid.UUID `db:"metadata_key_id" json:"metadata_key_id"`
	Value     string    `db:"value" json:"value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
