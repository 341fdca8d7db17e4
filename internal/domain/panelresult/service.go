package panelresult

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facstrack/facstrack/internal/config"
	"github.com/facstrack/facstrack/internal/domain/patient"
	"github.com/facstrack/facstrack/internal/domain/reference"
	"github.com/facstrack/facstrack/internal/domain/upload"
	"github.com/facstrack/facstrack/internal/platform/db"
	"github.com/facstrack/facstrack/internal/platform/metrics"
	"github.com/facstrack/facstrack/internal/platform/tabular"
)

const fileKind = "panel_result"

// Columns every panel-result file must carry.
const (
	colFilename = "filename"
	colPanel    = "Panel"
	colSample   = "Clinical_sample"
)

// Static columns feeding the pseudo-parameters. Absent static columns
// are tolerated; the affected fields are simply never written.
const (
	colBatch    = "batch"
	colOperator = "Operator name"
	colComments = "Comments"
	colDate     = "Date"
)

var (
	requiredColumns = []string{colFilename, colPanel, colSample}
	staticColumns   = []string{colBatch, colOperator, colComments, colDate}
)

func reservedColumn(name string) bool {
	for _, c := range requiredColumns {
		if name == c {
			return true
		}
	}
	for _, c := range staticColumns {
		if name == c {
			return true
		}
	}
	return false
}

// SampleFile is one panel-result file staged for validation and upload.
// Construction parses the content; a structurally unreadable file never
// becomes a SampleFile.
type SampleFile struct {
	table          *tabular.Table
	file           *upload.UploadedFile
	gatingStrategy string
}

// File exposes the persisted upload record backing this staged file.
func (f *SampleFile) File() *upload.UploadedFile { return f.file }

// Report summarizes one upload invocation.
type Report struct {
	RowsProcessed  int                       `json:"rows_processed"`
	RowsWithIssues int                       `json:"rows_with_issues"`
	Validation     []*upload.ValidationEntry `json:"validation"`
}

// Deps collects the service's collaborators.
type Deps struct {
	Patients            patient.Repository
	Panels              reference.PanelRepository
	Parameters          reference.ParameterRepository
	Strategies          GatingStrategyRepository
	Samples             SampleRepository
	Processing          DataProcessingRepository
	Results             ResultRepository
	Values              ValueRepository
	Files               upload.FileRepository
	Entries             upload.EntryRepository
	Tx                  db.Transactor
	Metrics             *metrics.Collector
	Log                 zerolog.Logger
	UnknownColumnPolicy string
}

// Service is the panel-result ingestion engine: it stages files,
// validates them against the parameter dictionary, and maps rows into
// normalized result and value records.
type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	if deps.UnknownColumnPolicy == "" {
		deps.UnknownColumnPolicy = config.UnknownColumnWarn
	}
	return &Service{deps: deps}
}

// NewSampleFile stages an uploaded panel-result file: the raw content is
// retained on the persisted record so a later confirm step can replay it.
func (s *Service) NewSampleFile(ctx context.Context, name, uploadedBy, description, gatingStrategy string, r io.Reader) (*SampleFile, error) {
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
	if err := s.deps.Files.Create(ctx, file); err != nil {
		return nil, fmt.Errorf("record upload: %w", err)
	}
	return &SampleFile{table: table, file: file, gatingStrategy: gatingStrategy}, nil
}

// SampleFileFromStored rebuilds a staged file from its persisted record,
// for the confirm step of the two-phase workflow.
func (s *Service) SampleFileFromStored(ctx context.Context, id uuid.UUID, gatingStrategy string) (*SampleFile, error) {
	file, err := s.deps.Files.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	table, err := tabular.Read(bytes.NewReader(file.Content))
	if err != nil {
		return nil, fmt.Errorf("parse stored upload: %w", err)
	}
	return &SampleFile{table: table, file: file, gatingStrategy: gatingStrategy}, nil
}

// Validate runs the structural and dictionary checks against a staged
// file. Every check runs; findings are persisted and returned in check
// order. Business data is never touched.
func (s *Service) Validate(ctx context.Context, sf *SampleFile) ([]*upload.ValidationEntry, error) {
	var found []*upload.ValidationEntry
	validSyntax := true

	addEntry := func(severity upload.Severity, kind upload.Kind, key string, value []string) {
		found = append(found, &upload.ValidationEntry{
			ID:             uuid.New(),
			FileID:         sf.file.ID,
			EntryType:      severity,
			ValidationType: kind,
			Key:            key,
			Value:          value,
		})
	}

	// 1. Required columns. Without these no row can be addressed.
	var missingRequired []string
	for _, col := range requiredColumns {
		if !sf.table.HasColumn(col) {
			missingRequired = append(missingRequired, col)
		}
	}
	if len(missingRequired) > 0 {
		addEntry(upload.SeverityFatal, upload.KindSyntax, "required_columns_missing", missingRequired)
		validSyntax = false
	}

	// 2. Static columns. Missing ones leave the matching pseudo-values
	// null per row but do not block ingestion.
	var missingStatic []string
	for _, col := range staticColumns {
		if !sf.table.HasColumn(col) {
			missingStatic = append(missingStatic, col)
		}
	}
	if len(missingStatic) > 0 {
		addEntry(upload.SeverityError, upload.KindSyntax, "static_columns_missing", missingStatic)
		validSyntax = false
	}

	// 3. Panel uniqueness. One file describes one panel's run.
	var panelValues []string
	if sf.table.HasColumn(colPanel) {
		panelValues = sf.table.Distinct(colPanel)
		if len(panelValues) != 1 {
			value := append([]string{fmt.Sprintf("expected exactly 1 panel, found %d", len(panelValues))}, panelValues...)
			addEntry(upload.SeverityFatal, upload.KindSyntax, "unique_panel_error", value)
			validSyntax = false
		}
	}

	// 4. Panel existence against the dictionary.
	var unknownPanels []string
	for _, v := range panelValues {
		name := strings.ToUpper(strings.TrimSpace(v))
		if _, err := s.deps.Panels.GetByName(ctx, name); err != nil {
			if !errors.Is(err, reference.ErrNotFound) {
				return nil, err
			}
			unknownPanels = append(unknownPanels, name)
		}
	}
	if len(unknownPanels) > 0 {
		addEntry(upload.SeverityWarn, upload.KindModel, "unknown_panel_error", unknownPanels)
	}

	// 5. Columns not in the dictionary. Derived parameters are
	// registered at upload time; anything else is dropped, or blocks
	// the file entirely under the reject policy.
	derived, unregistered, err := s.classifyUnknownColumns(ctx, sf.table)
	if err != nil {
		return nil, err
	}
	if len(derived) > 0 {
		addEntry(upload.SeverityInfo, upload.KindModel, "unregistered_derived_parameters", derived)
	}
	if len(unregistered) > 0 {
		severity := upload.SeverityWarn
		if s.deps.UnknownColumnPolicy == config.UnknownColumnReject {
			severity = upload.SeverityError
			validSyntax = false
		}
		addEntry(severity, upload.KindModel, "unregistered_parameters", unregistered)
	}

	for _, e := range found {
		if err := s.deps.Entries.Create(ctx, e); err != nil {
			return nil, fmt.Errorf("record validation entry: %w", err)
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.ValidationEntriesTotal.WithLabelValues(string(e.EntryType)).Inc()
		}
	}

	sf.file.ValidSyntax = validSyntax
	if sf.file.State == upload.StateUploaded {
		if err := sf.file.TransitionTo(upload.StateSyntaxChecked); err != nil {
			return nil, err
		}
	}
	if err := s.deps.Files.Update(ctx, sf.file); err != nil {
		return nil, fmt.Errorf("update upload record: %w", err)
	}

	s.deps.Log.Info().
		Str("file", sf.file.Name).
		Int("findings", len(found)).
		Bool("valid_syntax", validSyntax).
		Msg("panel-result file validated")
	return found, nil
}

type paramColumn struct {
	column string
	param  *reference.Parameter
}

// Upload maps every row of a staged file into normalized records inside
// one transaction. With dryRun the transaction is rolled back at the end
// regardless of outcome, but the report and its findings are kept so a
// reviewer can inspect them before committing. Rows fail independently:
// a bad row is skipped with a WARN finding and the rest proceed.
func (s *Service) Upload(ctx context.Context, sf *SampleFile, dryRun bool) (*Report, error) {
	target := upload.StateCommitted
	if dryRun {
		target = upload.StateModelChecked
	}
	if err := upload.ValidateTransition(sf.file.State, target); err != nil {
		return nil, err
	}
	for _, col := range requiredColumns {
		if !sf.table.HasColumn(col) {
			return nil, fmt.Errorf("required column %q missing", col)
		}
	}
	panelValues := sf.table.Distinct(colPanel)
	if len(panelValues) != 1 {
		return nil, fmt.Errorf("expected exactly 1 panel, found %d", len(panelValues))
	}
	panelName := strings.ToUpper(strings.TrimSpace(panelValues[0]))
	if s.deps.UnknownColumnPolicy == config.UnknownColumnReject {
		_, unregistered, err := s.classifyUnknownColumns(ctx, sf.table)
		if err != nil {
			return nil, err
		}
		if len(unregistered) > 0 {
			return nil, fmt.Errorf("unregistered columns rejected by policy: %s", strings.Join(unregistered, ", "))
		}
	}

	var issues []*upload.ValidationEntry
	rowIssues := make(map[int]struct{})
	addIssue := func(row int, field, msg string) {
		issues = append(issues, &upload.ValidationEntry{
			ID:             uuid.New(),
			FileID:         sf.file.ID,
			EntryType:      upload.SeverityWarn,
			ValidationType: upload.KindModel,
			// Row numbers are reported as file line numbers; the header
			// is line 1.
			Key:   fmt.Sprintf("row_%d_%s", row+2, field),
			Value: []string{msg},
		})
		rowIssues[row] = struct{}{}
	}

	err := s.deps.Tx.RunInTx(ctx, dryRun, func(ctx context.Context) error {
		panel, err := s.deps.Panels.GetByName(ctx, panelName)
		if err != nil {
			if errors.Is(err, reference.ErrNotFound) {
				return fmt.Errorf("panel %q is not in the reference dictionary", panelName)
			}
			return err
		}
		strategy, _, err := s.deps.Strategies.GetOrCreate(ctx, sf.gatingStrategy)
		if err != nil {
			return fmt.Errorf("get or create gating strategy: %w", err)
		}

		paramCols, err := s.resolveParameterColumns(ctx, sf.table, panel)
		if err != nil {
			return err
		}
		pseudo, err := s.resolvePseudoParameters(ctx, panel)
		if err != nil {
			return err
		}

		for row := 0; row < sf.table.RowCount(); row++ {
			sampleID := strings.TrimSpace(sf.table.Cell(row, colSample))
			if !ValidSampleID(sampleID) {
				addIssue(row, colSample, fmt.Sprintf("invalid sample id %q", sampleID))
				continue
			}
			fcsFileName := strings.TrimSpace(sf.table.Cell(row, colFilename))
			if !strings.Contains(fcsFileName, sampleID) {
				addIssue(row, colFilename, fmt.Sprintf("filename %q does not contain sample id %q", fcsFileName, sampleID))
				continue
			}

			patientID, _ := PatientIDFromSample(sampleID)
			pat, _, err := s.deps.Patients.GetOrCreate(ctx, patientID)
			if err != nil {
				return fmt.Errorf("get or create patient %s: %w", patientID, err)
			}
			sample, _, err := s.deps.Samples.GetOrCreate(ctx, sampleID, pat.ID)
			if err != nil {
				return fmt.Errorf("get or create sample %s: %w", sampleID, err)
			}
			dp, _, err := s.deps.Processing.GetOrCreate(ctx, fcsFileName, panel.ID)
			if err != nil {
				return fmt.Errorf("get or create data processing %s: %w", fcsFileName, err)
			}

			result := &Result{
				ProcessedSampleID: sample.ID,
				PanelID:           panel.ID,
				GatingStrategyID:  strategy.ID,
				DataProcessingID:  dp.ID,
				UploadedFileID:    sf.file.ID,
			}
			if _, err := s.deps.Results.GetOrCreate(ctx, result); err != nil {
				return fmt.Errorf("get or create result for %s: %w", sampleID, err)
			}
			if err := s.deps.Results.SetUploadedFile(ctx, result.ID, sf.file.ID); err != nil {
				return err
			}

			for _, pc := range paramCols {
				cell := tabular.Coerce(sf.table.Cell(row, pc.column), tabular.Numeric)
				if cell.Status != tabular.OK {
					addIssue(row, pc.column, fmt.Sprintf("value %q is not numeric", cell.Raw))
					continue
				}
				if err := s.deps.Values.UpsertNumeric(ctx, result.ID, pc.param.ID, cell.Number); err != nil {
					return err
				}
			}

			if sf.table.HasColumn(colBatch) {
				cell := tabular.Coerce(sf.table.Cell(row, colBatch), tabular.Numeric)
				if cell.Status != tabular.OK {
					addIssue(row, colBatch, fmt.Sprintf("value %q is not numeric", cell.Raw))
				} else if err := s.deps.Values.UpsertNumeric(ctx, result.ID, pseudo[reference.PseudoBatch].ID, cell.Number); err != nil {
					return err
				}
			}
			if sf.table.HasColumn(colOperator) {
				cell := tabular.Coerce(sf.table.Cell(row, colOperator), tabular.Numeric)
				if cell.Status != tabular.OK {
					addIssue(row, colOperator, fmt.Sprintf("value %q is not a numeric operator code", cell.Raw))
				} else if err := s.deps.Values.UpsertNumeric(ctx, result.ID, pseudo[reference.PseudoOperator1].ID, cell.Number); err != nil {
					return err
				}
			}
			if sf.table.HasColumn(colDate) {
				cell := tabular.Coerce(sf.table.Cell(row, colDate), tabular.Date)
				if cell.Status != tabular.OK {
					addIssue(row, colDate, fmt.Sprintf("value %q is not a date", cell.Raw))
				} else if err := s.deps.Values.UpsertDate(ctx, result.ID, pseudo[reference.PseudoDateProcessed].ID, cell.Date); err != nil {
					return err
				}
			}
			if sf.table.HasColumn(colComments) {
				// Comments are optional: blank or "nan" cells are skipped
				// without a finding.
				raw := strings.TrimSpace(sf.table.Cell(row, colComments))
				if raw != "" && !strings.EqualFold(raw, "nan") {
					if err := s.deps.Values.UpsertText(ctx, result.ID, pseudo[reference.PseudoComments].ID, raw); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		if !dryRun {
			if terr := sf.file.TransitionTo(upload.StateRolledBack); terr == nil {
				_ = s.deps.Files.Update(ctx, sf.file)
			}
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.FilesIngestedTotal.WithLabelValues(fileKind, "failed").Inc()
		}
		return nil, err
	}

	// Findings and flags outlive the rollback of a dry run: they are the
	// record the reviewer inspects before committing.
	for _, e := range issues {
		if err := s.deps.Entries.Create(ctx, e); err != nil {
			return nil, fmt.Errorf("record upload issue: %w", err)
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.ValidationEntriesTotal.WithLabelValues(string(e.EntryType)).Inc()
		}
	}
	sf.file.ValidModel = len(issues) == 0
	if err := sf.file.TransitionTo(target); err != nil {
		return nil, err
	}
	if err := s.deps.Files.Update(ctx, sf.file); err != nil {
		return nil, fmt.Errorf("update upload record: %w", err)
	}

	outcome := "committed"
	if dryRun {
		outcome = "dry_run"
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.FilesIngestedTotal.WithLabelValues(fileKind, outcome).Inc()
		s.deps.Metrics.RowsProcessedTotal.WithLabelValues(fileKind).Add(float64(sf.table.RowCount()))
		s.deps.Metrics.RowsWithIssuesTotal.WithLabelValues(fileKind).Add(float64(len(rowIssues)))
	}
	s.deps.Log.Info().
		Str("file", sf.file.Name).
		Str("panel", panelName).
		Bool("dry_run", dryRun).
		Int("rows", sf.table.RowCount()).
		Int("rows_with_issues", len(rowIssues)).
		Msg("panel-result file uploaded")

	return &Report{
		RowsProcessed:  sf.table.RowCount(),
		RowsWithIssues: len(rowIssues),
		Validation:     issues,
	}, nil
}

// classifyUnknownColumns splits the non-reserved columns absent from the
// dictionary into derived parameters (auto-registered at upload) and
// unregistered ones (dropped, or rejected under the reject policy).
func (s *Service) classifyUnknownColumns(ctx context.Context, table *tabular.Table) (derived, unregistered []string, err error) {
	for _, col := range table.Columns() {
		if reservedColumn(col) {
			continue
		}
		if _, err := s.deps.Parameters.GetByHierarchy(ctx, col); err == nil {
			continue
		} else if !errors.Is(err, reference.ErrNotFound) {
			return nil, nil, err
		}
		if _, ok := DerivedParameter(col); ok {
			derived = append(derived, col)
		} else {
			unregistered = append(unregistered, col)
		}
	}
	return derived, unregistered, nil
}

// resolveParameterColumns maps each non-reserved column to its dictionary
// parameter, auto-registering derived parameters on the way. Columns that
// are neither registered nor derived are dropped here; validation already
// reported them.
func (s *Service) resolveParameterColumns(ctx context.Context, table *tabular.Table, panel *reference.Panel) ([]paramColumn, error) {
	var cols []paramColumn
	for _, col := range table.Columns() {
		if reservedColumn(col) {
			continue
		}
		p, err := s.deps.Parameters.GetByHierarchy(ctx, col)
		if err == nil {
			cols = append(cols, paramColumn{column: col, param: p})
			continue
		}
		if !errors.Is(err, reference.ErrNotFound) {
			return nil, err
		}
		unit, ok := DerivedParameter(col)
		if !ok {
			continue
		}
		p = &reference.Parameter{
			PanelID:         panel.ID,
			GatingHierarchy: col,
			InternalName:    col,
			PublicName:      col,
			Unit:            unit,
			DataType:        reference.DataTypePanelNumeric,
		}
		if _, err := s.deps.Parameters.GetOrCreate(ctx, p); err != nil {
			return nil, fmt.Errorf("register derived parameter %s: %w", col, err)
		}
		cols = append(cols, paramColumn{column: col, param: p})
	}
	return cols, nil
}

// resolvePseudoParameters looks up the panel's pseudo-parameters fed by
// the static columns. operator_2 has no source column in this file
// format and is never populated here.
func (s *Service) resolvePseudoParameters(ctx context.Context, panel *reference.Panel) (map[string]*reference.Parameter, error) {
	out := make(map[string]*reference.Parameter, 4)
	for _, name := range []string{reference.PseudoBatch, reference.PseudoOperator1, reference.PseudoDateProcessed, reference.PseudoComments} {
		p, err := s.deps.Parameters.GetByHierarchy(ctx, reference.PseudoHierarchy(panel.Name, name))
		if err != nil {
			return nil, fmt.Errorf("pseudo-parameter %s for panel %s: %w", name, panel.Name, err)
		}
		out[name] = p
	}
	return out, nil
}
