package upload

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity of a validation finding.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
	SeverityFatal Severity = "FATAL"
)

// Kind separates structural (syntax) findings from business-rule (model)
// findings.
type Kind string

const (
	KindSyntax Kind = "SYNTAX"
	KindModel  Kind = "MODEL"
)

// ValidationEntry is one diagnostic produced while validating or
// uploading a file. Value carries the offending names or a single
// descriptive message.
type ValidationEntry struct {
	ID             uuid.UUID `db:"id" json:"id"`
	FileID         uuid.UUID `db:"file_id" json:"file_id"`
	EntryType      Severity  `db:"entry_type" json:"entry_type"`
	ValidationType Kind      `db:"validation_type" json:"validation_type"`
	Key            string    `db:"key" json:"key"`
	Value          []string  `db:"value" json:"value"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Blocking reports whether this finding must stop an upload.
func (e *ValidationEntry) Blocking() bool {
	return e.EntryType == SeverityError || e.EntryType == SeverityFatal
}

// FileState tracks a file through the two-phase validate/confirm
// workflow.
type FileState string

const (
	StateUploaded      FileState = "uploaded"
	StateSyntaxChecked FileState = "syntax_checked"
	StateModelChecked  FileState = "model_checked"
	StateCommitted     FileState = "committed"
	StateRolledBack    FileState = "rolled_back"
)

// fileStateTransitions defines the legal workflow moves. Dry runs may
// repeat; a rolled-back upload may be retried.
var fileStateTransitions = map[FileState][]FileState{
	StateUploaded:      {StateSyntaxChecked},
	StateSyntaxChecked: {StateModelChecked, StateCommitted, StateRolledBack},
	StateModelChecked:  {StateModelChecked, StateCommitted, StateRolledBack},
	StateRolledBack:    {StateModelChecked, StateCommitted},
	StateCommitted:     {},
}

// ValidateTransition checks whether moving from one state to another is
// legal in the upload workflow.
func ValidateTransition(from, to FileState) error {
	allowed, ok := fileStateTransitions[from]
	if !ok {
		return fmt.Errorf("unknown file state: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid file state transition from %s to %s", from, to)
}

// UploadedFile records one ingestion attempt. ValidSyntax and ValidModel
// summarize the structural and business-rule outcomes for the caller;
// State is the authoritative workflow position.
type UploadedFile struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	UploadedBy  string    `db:"uploaded_by" json:"uploaded_by"`
	Description string    `db:"description" json:"description"`
	RowCount    int       `db:"row_count" json:"row_count"`
	Content     []byte    `db:"content" json:"-"`
	ValidSyntax bool      `db:"valid_syntax" json:"valid_syntax"`
	ValidModel  bool      `db:"valid_model" json:"valid_model"`
	State       FileState `db:"state" json:"state"`
	Notes       string    `db:"notes" json:"notes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// TransitionTo moves the file to the next workflow state, rejecting
// illegal moves.
func (f *UploadedFile) TransitionTo(next FileState) error {
	if err := ValidateTransition(f.State, next); err != nil {
		return err
	}
	f.State = next
	return nil
}
