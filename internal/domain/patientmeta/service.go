package patientmeta

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facstrack/facstrack/internal/domain/patient"
	"github.com/facstrack/facstrack/internal/domain/upload"
	"github.com/facstrack/facstrack/internal/platform/db"
	"github.com/facstrack/facstrack/internal/platform/metrics"
	"github.com/facstrack/facstrack/internal/platform/tabular"
)

const (
	fileKind   = "patient_metadata"
	colPatient = "patient"
)

var naMarkers = map[string]struct{}{
	"":    {},
	"na":  {},
	"n/a": {},
	"nan": {},
}

func skippableValue(raw string) bool {
	_, ok := naMarkers[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// PatientFile is one patient-metadata file staged for upload.
type PatientFile struct {
	table *tabular.Table
	file  *upload.UploadedFile
}

// File exposes the persisted upload record backing this staged file.
func (f *PatientFile) File() *upload.UploadedFile { return f.file }

// Report summarizes one patient-metadata upload.
type Report struct {
	RowsProcessed  int                       `json:"rows_processed"`
	RowsWithIssues int                       `json:"rows_with_issues"`
	Validation     []*upload.ValidationEntry `json:"validation"`
}

// Service ingests patient-metadata files: every non-patient column is a
// dynamically registered metadata key, every cell a per-patient value.
type Service struct {
	patients patient.Repository
	keys     KeyRepository
	metadata MetadataRepository
	files    upload.FileRepository
	entries  upload.EntryRepository
	tx       db.Transactor
	metrics  *metrics.Collector
	log      zerolog.Logger
}

func NewService(patients patient.Repository, keys KeyRepository, metadata MetadataRepository,
	files upload.FileRepository, entries upload.EntryRepository, tx db.Transactor,
	collector *metrics.Collector, log zerolog.Logger) *Service {
	return &Service{
		patients: patients, keys: keys, metadata: metadata,
		files: files, entries: entries, tx: tx, metrics: collector, log: log,
	}
}

// NewPatientFile stages an uploaded patient-metadata file.
func (s *Service) NewPatientFile(ctx context.Context, name, uploadedBy, description string, r io.Reader) (*PatientFile, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	table, err := tabular.Read(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse upload: %w", err)
	}

	file := &upload.UploadedFile{
		ID:          uuid.New(),
		Name:        name,
		UploadedBy:  uploadedBy,
		Description: description,
		RowCount:    table.RowCount(),
		Content:     content,
		State:       upload.StateUploaded,
	}
	if err := s.files.Create(ctx, file); err != nil {
		return nil, fmt.Errorf("record upload: %w", err)
	}
	return &PatientFile{table: table, file: file}, nil
}

// PatientFileFromStored rebuilds a staged file from its persisted record.
func (s *Service) PatientFileFromStored(ctx context.Context, id uuid.UUID) (*PatientFile, error) {
	file, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	table, err := tabular.Read(bytes.NewReader(file.Content))
	if err != nil {
		return nil, fmt.Errorf("parse stored upload: %w", err)
	}
	return &PatientFile{table: table, file: file}, nil
}

// Validate checks the single structural requirement: a patient column.
func (s *Service) Validate(ctx context.Context, pf *PatientFile) ([]*upload.ValidationEntry, error) {
	var found []*upload.ValidationEntry
	validSyntax := true

	if !pf.table.HasColumn(colPatient) {
		found = append(found, &upload.ValidationEntry{
			ID:             uuid.New(),
			FileID:         pf.file.ID,
			EntryType:      upload.SeverityFatal,
			ValidationType: upload.KindSyntax,
			Key:            "required_columns_missing",
			Value:          []string{colPatient},
		})
		validSyntax = false
	}

	for _, e := range found {
		if err := s.entries.Create(ctx, e); err != nil {
			return nil, fmt.Errorf("record validation entry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.ValidationEntriesTotal.WithLabelValues(string(e.EntryType)).Inc()
		}
	}

	pf.file.ValidSyntax = validSyntax
	if pf.file.State == upload.StateUploaded {
		if err := pf.file.TransitionTo(upload.StateSyntaxChecked); err != nil {
			return nil, err
		}
	}
	if err := s.files.Update(ctx, pf.file); err != nil {
		return nil, fmt.Errorf("update upload record: %w", err)
	}
	return found, nil
}

// Upload registers every non-patient column as a metadata key, then
// writes each row's values. Rows with an unusable patient id are skipped
// with a WARN finding; blank and NA cells are skipped silently. Present
// values overwrite prior ones without type validation.
func (s *Service) Upload(ctx context.Context, pf *PatientFile, dryRun bool) (*Report, error) {
	target := upload.StateCommitted
	if dryRun {
		target = upload.StateModelChecked
	}
	if err := upload.ValidateTransition(pf.file.State, target); err != nil {
		return nil, err
	}
	if !pf.table.HasColumn(colPatient) {
		return nil, fmt.Errorf("required column %q missing", colPatient)
	}

	var issues []*upload.ValidationEntry
	rowIssues := make(map[int]struct{})

	err := s.tx.RunInTx(ctx, dryRun, func(ctx context.Context) error {
		var metaCols []string
		keys := make(map[string]*MetadataKey)
		for _, col := range pf.table.Columns() {
			if col == colPatient {
				continue
			}
			name := strings.ToLower(col)
			key, _, err := s.keys.GetOrCreate(ctx, name, col)
			if err != nil {
				return fmt.Errorf("register metadata key %s: %w", name, err)
			}
			metaCols = append(metaCols, col)
			keys[col] = key
		}

		for row := 0; row < pf.table.RowCount(); row++ {
			patientID := strings.TrimSpace(pf.table.Cell(row, colPatient))
			if patientID == "" || (patientID[0] != 'p' && patientID[0] != 'P') {
				issues = append(issues, &upload.ValidationEntry{
					ID:             uuid.New(),
					FileID:         pf.file.ID,
					EntryType:      upload.SeverityWarn,
					ValidationType: upload.KindModel,
					Key:            fmt.Sprintf("row_%d_%s", row+2, colPatient),
					Value:          []string{fmt.Sprintf("invalid patient id %q", patientID)},
				})
				rowIssues[row] = struct{}{}
				continue
			}

			pat, _, err := s.patients.GetOrCreate(ctx, patientID)
			if err != nil {
				return fmt.Errorf("get or create patient %s: %w", patientID, err)
			}
			for _, col := range metaCols {
				raw := strings.TrimSpace(pf.table.Cell(row, col))
				if skippableValue(raw) {
					continue
				}
				if err := s.metadata.Upsert(ctx, pat.ID, keys[col].ID, raw); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if !dryRun {
			if terr := pf.file.TransitionTo(upload.StateRolledBack); terr == nil {
				_ = s.files.Update(ctx, pf.file)
			}
		}
		if s.metrics != nil {
			s.metrics.FilesIngestedTotal.WithLabelValues(fileKind, "failed").Inc()
		}
		return nil, err
	}

	for _, e := range issues {
		if err := s.entries.Create(ctx, e); err != nil {
			return nil, fmt.Errorf("record upload issue: %w", err)
		}
		if s.metrics != nil {
			s.metrics.ValidationEntriesTotal.WithLabelValues(string(e.EntryType)).Inc()
		}
	}
	pf.file.ValidModel = len(issues) == 0
	if err := pf.file.TransitionTo(target); err != nil {
		return nil, err
	}
	if err := s.files.Update(ctx, pf.file); err != nil {
		return nil, fmt.Errorf("update upload record: %w", err)
	}

	outcome := "committed"
	if dryRun {
		outcome = "dry_run"
	}
	if s.metrics != nil {
		s.metrics.FilesIngestedTotal.WithLabelValues(fileKind, outcome).Inc()
		s.metrics.RowsProcessedTotal.WithLabelValues(fileKind).Add(float64(pf.table.RowCount()))
		s.metrics.RowsWithIssuesTotal.WithLabelValues(fileKind).Add(float64(len(rowIssues)))
	}
	s.log.Info().
		Str("file", pf.file.Name).
		Bool("dry_run", dryRun).
		Int("rows", pf.table.RowCount()).
		Int("rows_with_issues", len(rowIssues)).
		Msg("patient-metadata file uploaded")

	return &Report{
		RowsProcessed:  pf.table.RowCount(),
		RowsWithIssues: len(rowIssues),
		Validation:     issues,
	}, nil
}
