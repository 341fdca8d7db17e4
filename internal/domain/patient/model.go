package patient

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Patient is an anonymized study subject. The business key is the
// pseudonymous patient_id ("p" followed by digits, e.g. "p005"); patients
// are created lazily on first reference from any uploaded row and never
// deleted by the ingestion pipeline.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID string    `db:"patient_id" json:"patient_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

var patientIDPattern = regexp.MustCompile(`^[pP]\d+$`)

// ValidID reports whether id has the expected pseudonymous shape.
func ValidID(id string) bool {
	return patientIDPattern.MatchString(id)
}
