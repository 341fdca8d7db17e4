package reference

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a panel or parameter is absent from the
// reference dictionary.
var ErrNotFound = errors.New("reference: not found")

// DataType tags a parameter with the typed-value table its observations
// land in.
type DataType string

const (
	DataTypePanelNumeric   DataType = "PanelNumeric"
	DataTypeSampleNumeric  DataType = "SampleNumeric"
	DataTypeDerivedNumeric DataType = "DerivedNumeric"
	DataTypeText           DataType = "Text"
	DataTypeDate           DataType = "Date"
	DataTypeDerived        DataType = "Derived"
	DataTypeOther          DataType = "Other"
)

// Panel is a named flow-cytometry assay protocol. Names are uppercased
// on load and used as the stable lookup key.
type Panel struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Parameter is one measurable quantity within a panel, identified by its
// gating hierarchy (slash-delimited population path plus metric suffix).
type Parameter struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	PanelID              uuid.UUID `db:"panel_id" json:"panel_id"`
	DataType             DataType  `db:"data_type" json:"data_type"`
	InternalName         string    `db:"internal_name" json:"internal_name"`
	PublicName           string    `db:"public_name" json:"public_name"`
	Description          string    `db:"description" json:"description"`
	IsReferenceParameter bool      `db:"is_reference_parameter" json:"is_reference_parameter"`
	GatingHierarchy      string    `db:"gating_hierarchy" json:"gating_hierarchy"`
	Unit                 string    `db:"unit" json:"unit"`
	AncestralPopulation  string    `db:"ancestral_population" json:"ancestral_population"`
	PopulationForCounts  string    `db:"population_for_counts" json:"population_for_counts"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Pseudo-parameter names. Every panel owns one parameter per name,
// capturing processing metadata that rides along with the gating output.
const (
	PseudoBatch         = "batch"
	PseudoDateProcessed = "date_processed"
	PseudoOperator1     = "operator_1"
	PseudoOperator2     = "operator_2"
	PseudoComments      = "comments"
)

type pseudoSpec struct {
	DataType    DataType
	Description string
}

var pseudoParameters = map[string]pseudoSpec{
	PseudoBatch:         {DataTypeSampleNumeric, "Batch panel processed under"},
	PseudoDateProcessed: {DataTypeDate, "Date panel processed"},
	PseudoOperator1:     {DataTypeSampleNumeric, "Code for primary operator during processing"},
	PseudoOperator2:     {DataTypeSampleNumeric, "Code for second operator during processing"},
	PseudoComments:      {DataTypeText, "Comments associated with processing the panel"},
}

// PseudoNames returns the pseudo-parameter names in a stable order.
func PseudoNames() []string {
	return []string{PseudoBatch, PseudoDateProcessed, PseudoOperator1, PseudoOperator2, PseudoComments}
}

// PseudoHierarchy synthesizes the gating-hierarchy key of a panel's
// pseudo-parameter, e.g. "P5_batch".
func PseudoHierarchy(panelName, pseudoName string) string {
	return panelName + "_" + pseudoName
}
