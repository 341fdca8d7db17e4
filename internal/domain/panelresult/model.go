package panelresult

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GatingStrategy labels how a result's populations were gated (e.g.
// "Automatically Gated", "manual"). Supplied by the caller of an upload,
// never inferred from file contents.
type GatingStrategy struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ProcessedSample is one blood sample processed for cytometry, keyed by
// its clinical sample id ("p<patient>n<sample>", e.g. "p005n01").
// The physical-sample fields are not supplied by panel-result files and
// stay null until a sample-manifest import fills them.
type ProcessedSample struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	ClinicalSampleID string     `db:"clinical_sample_id" json:"clinical_sample_id"`
	BiobankID        string     `db:"biobank_id" json:"biobank_id"`
	DateAcquired     *time.Time `db:"date_acquired" json:"date_acquired"`
	BleedTime        *time.Time `db:"bleed_time" json:"bleed_time"`
	ProcessedTime    *time.Time `db:"processed_time" json:"processed_time"`
	BloodVolumeML    *float64   `db:"blood_volume_ml" json:"blood_volume_ml"`
	VolumeFrozenML   *float64   `db:"volume_frozen_ml" json:"volume_frozen_ml"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// DataProcessing is one physical instrument run, keyed by the FCS file
// it produced within a panel.
type DataProcessing struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PanelID     uuid.UUID `db:"panel_id" json:"panel_id"`
	FCSFileName string    `db:"fcs_file_name" json:"fcs_file_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Result joins one processed sample, panel, gating strategy and
// instrument run; unique on that 4-tuple. It owns the typed observation
// rows and remembers the upload that produced or last touched it.
type Result struct {
	ID                uuid.UUID `db:"id" json:"id"`
	ProcessedSampleID uuid.UUID `db:"processed_sample_id" json:"processed_sample_id"`
	PanelID           uuid.UUID `db:"panel_id" json:"panel_id"`
	GatingStrategyID  uuid.UUID `db:"gating_strategy_id" json:"gating_strategy_id"`
	DataProcessingID  uuid.UUID `db:"data_processing_id" json:"data_processing_id"`
	UploadedFileID    uuid.UUID `db:"uploaded_file_id" json:"uploaded_file_id"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// NumericValue is one numeric observation; unique on (result, parameter)
// so re-uploads overwrite instead of duplicating.
type NumericValue struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ResultID    uuid.UUID `db:"result_id" json:"result_id"`
	ParameterID uuid.UUID `db:"parameter_id" json:"parameter_id"`
	Value       float64   `db:"value" json:"value"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// TextValue is one free-text observation; unique on (result, parameter).
type TextValue struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ResultID    uuid.UUID `db:"result_id" json:"result_id"`
	ParameterID uuid.UUID `db:"parameter_id" json:"parameter_id"`
	Value       string    `db:"value" json:"value"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DateValue is one date observation; unique on (result, parameter).
type DateValue struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ResultID    uuid.UUID `db:"result_id" json:"result_id"`
	ParameterID uuid.UUID `db:"parameter_id" json:"parameter_id"`
	Value       time.Time `db:"value" json:"value"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

var sampleIDPattern = regexp.MustCompile(`^[pP]\d+n`)

// ValidSampleID reports whether id has the clinical-sample shape:
// patient prefix, "n" separator, at least four characters overall.
func ValidSampleID(id string) bool {
	return len(id) >= 4 && sampleIDPattern.MatchString(id)
}

// PatientIDFromSample extracts the patient prefix of a clinical sample
// id ("p005n01" -> "p005"). The second return is false when the id does
// not have the expected shape.
func PatientIDFromSample(id string) (string, bool) {
	if !ValidSampleID(id) {
		return "", false
	}
	i := strings.Index(id, "n")
	return id[:i], true
}

// Suffixes identifying derived parameters, which are auto-registered at
// upload time instead of requiring a prior reference-data load.
const (
	derivedCountSuffix = "Count_back"
	derivedFreqSuffix  = "freq"
)

// DerivedParameter reports whether a column name denotes a derived
// parameter and, if so, the unit to register it with.
func DerivedParameter(column string) (unit string, ok bool) {
	switch {
	case strings.HasSuffix(column, derivedFreqSuffix):
		return "Derived frequency", true
	case strings.HasSuffix(column, derivedCountSuffix):
		return "Derived count", true
	}
	return "", false
}
