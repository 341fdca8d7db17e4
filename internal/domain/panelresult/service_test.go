package panelresult

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facstrack/facstrack/internal/config"
	"github.com/facstrack/facstrack/internal/domain/patient"
	"github.com/facstrack/facstrack/internal/domain/reference"
	"github.com/facstrack/facstrack/internal/domain/upload"
)

// =========== In-memory store and mocks ===========

// store backs every mock repository so the mock transactor can snapshot
// and restore business data around a dry run.
type store struct {
	patients   map[string]*patient.Patient
	panels     map[string]*reference.Panel
	params     map[string]*reference.Parameter
	strategies map[string]*GatingStrategy
	samples    map[string]*ProcessedSample
	processing map[string]*DataProcessing
	results    map[string]*Result
	numeric    map[string]float64
	text       map[string]string
	dates      map[string]time.Time
	files      map[uuid.UUID]*upload.UploadedFile
	entries    []*upload.ValidationEntry
}

func newStore() *store {
	return &store{
		patients:   make(map[string]*patient.Patient),
		panels:     make(map[string]*reference.Panel),
		params:     make(map[string]*reference.Parameter),
		strategies: make(map[string]*GatingStrategy),
		samples:    make(map[string]*ProcessedSample),
		processing: make(map[string]*DataProcessing),
		results:    make(map[string]*Result),
		numeric:    make(map[string]float64),
		text:       make(map[string]string),
		dates:      make(map[string]time.Time),
		files:      make(map[uuid.UUID]*upload.UploadedFile),
	}
}

func clonePtrMap[K comparable, V any](in map[K]*V) map[K]*V {
	out := make(map[K]*V, len(in))
	for k, v := range in {
		c := *v
		out[k] = &c
	}
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// snapshot covers the business data written inside a transaction; file
// records and validation entries are persisted outside it.
func (st *store) snapshot() *store {
	return &store{
		patients:   clonePtrMap(st.patients),
		panels:     clonePtrMap(st.panels),
		params:     clonePtrMap(st.params),
		strategies: clonePtrMap(st.strategies),
		samples:    clonePtrMap(st.samples),
		processing: clonePtrMap(st.processing),
		results:    clonePtrMap(st.results),
		numeric:    cloneMap(st.numeric),
		text:       cloneMap(st.text),
		dates:      cloneMap(st.dates),
	}
}

func (st *store) restore(snap *store) {
	st.patients = snap.patients
	st.panels = snap.panels
	st.params = snap.params
	st.strategies = snap.strategies
	st.samples = snap.samples
	st.processing = snap.processing
	st.results = snap.results
	st.numeric = snap.numeric
	st.text = snap.text
	st.dates = snap.dates
}

type mockTx struct{ st *store }

func (m mockTx) RunInTx(ctx context.Context, dryRun bool, fn func(context.Context) error) error {
	snap := m.st.snapshot()
	err := fn(ctx)
	if err != nil || dryRun {
		m.st.restore(snap)
	}
	return err
}

type mockPatientRepo struct{ st *store }

func (m mockPatientRepo) GetOrCreate(ctx context.Context, patientID string) (*patient.Patient, bool, error) {
	if p, ok := m.st.patients[patientID]; ok {
		return p, false, nil
	}
	p := &patient.Patient{ID: uuid.New(), PatientID: patientID}
	m.st.patients[patientID] = p
	return p, true, nil
}

func (m mockPatientRepo) GetByPatientID(ctx context.Context, patientID string) (*patient.Patient, error) {
	if p, ok := m.st.patients[patientID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("patient %s not found", patientID)
}

func (m mockPatientRepo) Count(ctx context.Context) (int, error) { return len(m.st.patients), nil }

func (m mockPatientRepo) List(ctx context.Context, limit, offset int) ([]*patient.Patient, int, error) {
	return nil, len(m.st.patients), nil
}

type mockPanelRepo struct{ st *store }

func (m mockPanelRepo) GetOrCreate(ctx context.Context, name string) (*reference.Panel, bool, error) {
	if p, ok := m.st.panels[name]; ok {
		return p, false, nil
	}
	p := &reference.Panel{ID: uuid.New(), Name: name}
	m.st.panels[name] = p
	return p, true, nil
}

func (m mockPanelRepo) GetByName(ctx context.Context, name string) (*reference.Panel, error) {
	if p, ok := m.st.panels[name]; ok {
		return p, nil
	}
	return nil, reference.ErrNotFound
}

func (m mockPanelRepo) List(ctx context.Context, limit, offset int) ([]*reference.Panel, int, error) {
	return nil, len(m.st.panels), nil
}

func (m mockPanelRepo) Count(ctx context.Context) (int, error) { return len(m.st.panels), nil }

type mockParameterRepo struct{ st *store }

func (m mockParameterRepo) GetOrCreate(ctx context.Context, p *reference.Parameter) (bool, error) {
	if existing, ok := m.st.params[p.GatingHierarchy]; ok {
		*p = *existing
		return false, nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stored := *p
	m.st.params[p.GatingHierarchy] = &stored
	return true, nil
}

func (m mockParameterRepo) Update(ctx context.Context, p *reference.Parameter) error {
	stored := *p
	m.st.params[p.GatingHierarchy] = &stored
	return nil
}

func (m mockParameterRepo) GetByHierarchy(ctx context.Context, gatingHierarchy string) (*reference.Parameter, error) {
	if p, ok := m.st.params[gatingHierarchy]; ok {
		return p, nil
	}
	return nil, reference.ErrNotFound
}

func (m mockParameterRepo) ListByPanel(ctx context.Context, panelID uuid.UUID, limit, offset int) ([]*reference.Parameter, int, error) {
	return nil, 0, nil
}

func (m mockParameterRepo) Count(ctx context.Context) (int, error) { return len(m.st.params), nil }

type mockStrategyRepo struct{ st *store }

func (m mockStrategyRepo) GetOrCreate(ctx context.Context, name string) (*GatingStrategy, bool, error) {
	if s, ok := m.st.strategies[name]; ok {
		return s, false, nil
	}
	s := &GatingStrategy{ID: uuid.New(), Name: name}
	m.st.strategies[name] = s
	return s, true, nil
}

type mockSampleRepo struct{ st *store }

func (m mockSampleRepo) GetOrCreate(ctx context.Context, clinicalSampleID string, patientID uuid.UUID) (*ProcessedSample, bool, error) {
	if s, ok := m.st.samples[clinicalSampleID]; ok {
		return s, false, nil
	}
	s := &ProcessedSample{ID: uuid.New(), PatientID: patientID, ClinicalSampleID: clinicalSampleID}
	m.st.samples[clinicalSampleID] = s
	return s, true, nil
}

func (m mockSampleRepo) Count(ctx context.Context) (int, error) { return len(m.st.samples), nil }

func (m mockSampleRepo) List(ctx context.Context, limit, offset int) ([]*ProcessedSample, int, error) {
	return nil, len(m.st.samples), nil
}

type mockProcessingRepo struct{ st *store }

func (m mockProcessingRepo) GetOrCreate(ctx context.Context, fcsFileName string, panelID uuid.UUID) (*DataProcessing, bool, error) {
	key := fcsFileName + "|" + panelID.String()
	if dp, ok := m.st.processing[key]; ok {
		return dp, false, nil
	}
	dp := &DataProcessing{ID: uuid.New(), PanelID: panelID, FCSFileName: fcsFileName}
	m.st.processing[key] = dp
	return dp, true, nil
}

type mockResultRepo struct{ st *store }

func resultKey(r *Result) string {
	return strings.Join([]string{
		r.ProcessedSampleID.String(), r.PanelID.String(),
		r.GatingStrategyID.String(), r.DataProcessingID.String(),
	}, "|")
}

func (m mockResultRepo) GetOrCreate(ctx context.Context, r *Result) (bool, error) {
	key := resultKey(r)
	if existing, ok := m.st.results[key]; ok {
		*r = *existing
		return false, nil
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	stored := *r
	m.st.results[key] = &stored
	return true, nil
}

func (m mockResultRepo) SetUploadedFile(ctx context.Context, resultID, fileID uuid.UUID) error {
	for _, r := range m.st.results {
		if r.ID == resultID {
			r.UploadedFileID = fileID
		}
	}
	return nil
}

func (m mockResultRepo) Count(ctx context.Context) (int, error) { return len(m.st.results), nil }

type mockValueRepo struct{ st *store }

func valueKey(resultID, parameterID uuid.UUID) string {
	return resultID.String() + "|" + parameterID.String()
}

func (m mockValueRepo) UpsertNumeric(ctx context.Context, resultID, parameterID uuid.UUID, value float64) error {
	m.st.numeric[valueKey(resultID, parameterID)] = value
	return nil
}

func (m mockValueRepo) UpsertText(ctx context.Context, resultID, parameterID uuid.UUID, value string) error {
	m.st.text[valueKey(resultID, parameterID)] = value
	return nil
}

func (m mockValueRepo) UpsertDate(ctx context.Context, resultID, parameterID uuid.UUID, value time.Time) error {
	m.st.dates[valueKey(resultID, parameterID)] = value
	return nil
}

func (m mockValueRepo) CountNumeric(ctx context.Context) (int, error) { return len(m.st.numeric), nil }
func (m mockValueRepo) CountText(ctx context.Context) (int, error)    { return len(m.st.text), nil }
func (m mockValueRepo) CountDate(ctx context.Context) (int, error)    { return len(m.st.dates), nil }

type mockFileRepo struct{ st *store }

func (m mockFileRepo) Create(ctx context.Context, f *upload.UploadedFile) error {
	m.st.files[f.ID] = f
	return nil
}

func (m mockFileRepo) Update(ctx context.Context, f *upload.UploadedFile) error {
	m.st.files[f.ID] = f
	return nil
}

func (m mockFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*upload.UploadedFile, error) {
	if f, ok := m.st.files[id]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("file %s not found", id)
}

func (m mockFileRepo) List(ctx context.Context, limit, offset int) ([]*upload.UploadedFile, int, error) {
	return nil, len(m.st.files), nil
}

type mockEntryRepo struct{ st *store }

func (m *mockEntryRepo) Create(ctx context.Context, e *upload.ValidationEntry) error {
	m.st.entries = append(m.st.entries, e)
	return nil
}

func (m *mockEntryRepo) ListByFile(ctx context.Context, fileID uuid.UUID) ([]*upload.ValidationEntry, error) {
	var out []*upload.ValidationEntry
	for _, e := range m.st.entries {
		if e.FileID == fileID {
			out = append(out, e)
		}
	}
	return out, nil
}

// =========== Fixtures ===========

const panelCSV = `filename,Panel,Clinical_sample,batch,Operator name,Comments,Date,P5/CD3 | Count,P5/CD4 | Count
p005n01_p5.fcs,p5,p005n01,1,Alice,Slight clumping,2024-03-01,123.5,88.1
p033n01_p5.fcs,p5,p033n01,1,Bob,,2024-03-01,200,150.2
p033n01_p5_rerun.fcs,p5,p033n01,2,Cara,nan,notadate,180,140
`

func newTestService(policy string) (*Service, *store) {
	st := newStore()
	svc := NewService(Deps{
		Patients:            mockPatientRepo{st},
		Panels:              mockPanelRepo{st},
		Parameters:          mockParameterRepo{st},
		Strategies:          mockStrategyRepo{st},
		Samples:             mockSampleRepo{st},
		Processing:          mockProcessingRepo{st},
		Results:             mockResultRepo{st},
		Values:              mockValueRepo{st},
		Files:               mockFileRepo{st},
		Entries:             &mockEntryRepo{st},
		Tx:                  mockTx{st},
		Log:                 zerolog.Nop(),
		UnknownColumnPolicy: policy,
	})
	return svc, st
}

// seedDictionary registers panel P5 with its pseudo-parameters and the
// two numeric parameters used by the fixtures.
func seedDictionary(st *store) {
	panel := &reference.Panel{ID: uuid.New(), Name: "P5"}
	st.panels["P5"] = panel

	pseudo := map[string]reference.DataType{
		reference.PseudoBatch:         reference.DataTypeSampleNumeric,
		reference.PseudoDateProcessed: reference.DataTypeDate,
		reference.PseudoOperator1:     reference.DataTypeSampleNumeric,
		reference.PseudoOperator2:     reference.DataTypeSampleNumeric,
		reference.PseudoComments:      reference.DataTypeText,
	}
	for name, dt := range pseudo {
		h := reference.PseudoHierarchy("P5", name)
		st.params[h] = &reference.Parameter{ID: uuid.New(), PanelID: panel.ID, GatingHierarchy: h, DataType: dt}
	}
	for _, h := range []string{"P5/CD3 | Count", "P5/CD4 | Count"} {
		st.params[h] = &reference.Parameter{
			ID: uuid.New(), PanelID: panel.ID, GatingHierarchy: h,
			DataType: reference.DataTypePanelNumeric,
		}
	}
}

func stageFile(t *testing.T, svc *Service, csv string) *SampleFile {
	t.Helper()
	sf, err := svc.NewSampleFile(context.Background(), "results.csv", "tester", "", "Automatically Gated", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("stage file: %v", err)
	}
	return sf
}

func entriesByKey(entries []*upload.ValidationEntry, key string) []*upload.ValidationEntry {
	var out []*upload.ValidationEntry
	for _, e := range entries {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out
}

// =========== Validation tests ===========

func TestValidate_Clean(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	sf := stageFile(t, svc, panelCSV)

	entries, err := svc.Validate(context.Background(), sf)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no findings, got %d: %+v", len(entries), entries)
	}
	if !sf.File().ValidSyntax {
		t.Error("expected valid_syntax true")
	}
	if sf.File().State != upload.StateSyntaxChecked {
		t.Errorf("expected syntax_checked, got %s", sf.File().State)
	}
}

func TestValidate_MissingRequiredColumn(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)

	csv := strings.Replace(panelCSV, "Clinical_sample", "Sample", 1)
	sf := stageFile(t, svc, csv)

	entries, err := svc.Validate(context.Background(), sf)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	// The renamed column also shows up as unregistered; the required
	// check itself must yield exactly one FATAL finding.
	fatal := entriesByKey(entries, "required_columns_missing")
	if len(fatal) != 1 {
		t.Fatalf("expected 1 required_columns_missing entry, got %d", len(fatal))
	}
	if fatal[0].EntryType != upload.SeverityFatal {
		t.Errorf("expected FATAL, got %s", fatal[0].EntryType)
	}
	if len(fatal[0].Value) != 1 || fatal[0].Value[0] != "Clinical_sample" {
		t.Errorf("expected value [Clinical_sample], got %v", fatal[0].Value)
	}
	if sf.File().ValidSyntax {
		t.Error("expected valid_syntax false")
	}
}

func TestValidate_MissingStaticColumn(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)

	csv := `filename,Panel,Clinical_sample,batch,Operator name,Date,P5/CD3 | Count,P5/CD4 | Count
p005n01_p5.fcs,p5,p005n01,1,7,2024-03-01,123.5,88.1
`
	sf := stageFile(t, svc, csv)

	entries, err := svc.Validate(context.Background(), sf)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 finding, got %d: %+v", len(entries), entries)
	}
	e := entries[0]
	if e.Key != "static_columns_missing" || e.EntryType != upload.SeverityError {
		t.Errorf("unexpected entry: %+v", e)
	}
	if len(e.Value) != 1 || e.Value[0] != "Comments" {
		t.Errorf("expected value [Comments], got %v", e.Value)
	}

	// Non-fatal: upload still runs, skipping the comments field.
	report, err := svc.Upload(context.Background(), sf, false)
	if err != nil {
		t.Fatalf("upload after static-column error: %v", err)
	}
	if report.RowsProcessed != 1 {
		t.Errorf("expected 1 row processed, got %d", report.RowsProcessed)
	}
	if len(st.text) != 0 {
		t.Errorf("expected no text values without a Comments column, got %d", len(st.text))
	}
}

func TestValidate_MultiplePanels(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)

	csv := strings.Replace(panelCSV, "p033n01_p5.fcs,p5", "p033n01_p5.fcs,p6", 1)
	sf := stageFile(t, svc, csv)

	entries, err := svc.Validate(context.Background(), sf)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	fatal := entriesByKey(entries, "unique_panel_error")
	if len(fatal) != 1 {
		t.Fatalf("expected 1 unique_panel_error entry, got %d", len(fatal))
	}
	if fatal[0].EntryType != upload.SeverityFatal {
		t.Errorf("expected FATAL, got %s", fatal[0].EntryType)
	}
	if sf.File().ValidSyntax {
		t.Error("expected valid_syntax false")
	}
}

func TestValidate_UnknownPanel(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)

	csv := strings.ReplaceAll(panelCSV, ",p5,", ",p9,")
	sf := stageFile(t, svc, csv)

	entries, err := svc.Validate(context.Background(), sf)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	warn := entriesByKey(entries, "unknown_panel_error")
	if len(warn) != 1 {
		t.Fatalf("expected 1 unknown_panel_error entry, got %d", len(warn))
	}
	if warn[0].EntryType != upload.SeverityWarn {
		t.Errorf("expected WARN, got %s", warn[0].EntryType)
	}
	if len(warn[0].Value) != 1 || warn[0].Value[0] != "P9" {
		t.Errorf("expected value [P9], got %v", warn[0].Value)
	}
	// Unknown panel alone does not downgrade the structural verdict.
	if !sf.File().ValidSyntax {
		t.Error("expected valid_syntax true")
	}
}

func TestValidate_UnregisteredColumns(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)

	csv := `filename,Panel,Clinical_sample,batch,Operator name,Comments,Date,P5/CD3 | Count,P5/CD8 freq,Mystery | Count
p005n01_p5.fcs,p5,p005n01,1,7,,2024-03-01,123.5,0.42,9
`
	sf := stageFile(t, svc, csv)

	entries, err := svc.Validate(context.Background(), sf)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	derived := entriesByKey(entries, "unregistered_derived_parameters")
	if len(derived) != 1 || derived[0].EntryType != upload.SeverityInfo {
		t.Fatalf("expected 1 INFO derived entry, got %+v", derived)
	}
	if len(derived[0].Value) != 1 || derived[0].Value[0] != "P5/CD8 freq" {
		t.Errorf("expected [P5/CD8 freq], got %v", derived[0].Value)
	}
	unreg := entriesByKey(entries, "unregistered_parameters")
	if len(unreg) != 1 || unreg[0].EntryType != upload.SeverityWarn {
		t.Fatalf("expected 1 WARN unregistered entry, got %+v", unreg)
	}
	if len(unreg[0].Value) != 1 || unreg[0].Value[0] != "Mystery | Count" {
		t.Errorf("expected [Mystery | Count], got %v", unreg[0].Value)
	}
}

func TestValidate_UnregisteredColumnsRejectPolicy(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnReject)
	seedDictionary(st)

	csv := `filename,Panel,Clinical_sample,batch,Operator name,Comments,Date,Mystery | Count
p005n01_p5.fcs,p5,p005n01,1,7,,2024-03-01,9
`
	sf := stageFile(t, svc, csv)

	entries, err := svc.Validate(context.Background(), sf)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	unreg := entriesByKey(entries, "unregistered_parameters")
	if len(unreg) != 1 {
		t.Fatalf("expected 1 unregistered entry, got %d", len(unreg))
	}
	if unreg[0].EntryType != upload.SeverityError {
		t.Errorf("expected ERROR under reject policy, got %s", unreg[0].EntryType)
	}
	if !unreg[0].Blocking() {
		t.Error("expected finding to block under reject policy")
	}
	if sf.File().ValidSyntax {
		t.Error("expected valid_syntax false under reject policy")
	}
}

func TestUpload_RejectPolicyBlocksUnregisteredColumns(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnReject)
	seedDictionary(st)
	ctx := context.Background()

	csv := `filename,Panel,Clinical_sample,batch,Operator name,Comments,Date,Mystery | Count
p005n01_p5.fcs,p5,p005n01,1,7,,2024-03-01,9
`
	sf := stageFile(t, svc, csv)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}

	_, err := svc.Upload(ctx, sf, false)
	if err == nil {
		t.Fatal("expected upload to be refused under reject policy")
	}
	if !strings.Contains(err.Error(), "Mystery | Count") {
		t.Errorf("expected error to name the rejected column, got %v", err)
	}
	if len(st.results) != 0 || len(st.numeric) != 0 {
		t.Error("rejected upload must not write results")
	}

	// The same file passes under the default policy.
	warnSvc, warnSt := newTestService(config.UnknownColumnWarn)
	seedDictionary(warnSt)
	sf2 := stageFile(t, warnSvc, csv)
	if _, err := warnSvc.Validate(ctx, sf2); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := warnSvc.Upload(ctx, sf2, false); err != nil {
		t.Fatalf("upload under warn policy: %v", err)
	}
	if len(warnSt.results) != 1 {
		t.Errorf("expected 1 result under warn policy, got %d", len(warnSt.results))
	}
}

// =========== Upload tests ===========

func TestUpload_EndToEnd(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	ctx := context.Background()

	sf := stageFile(t, svc, panelCSV)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}
	report, err := svc.Upload(ctx, sf, false)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if report.RowsProcessed != 3 {
		t.Errorf("expected 3 rows processed, got %d", report.RowsProcessed)
	}
	// Non-numeric operator names on every row, plus one bad date.
	if report.RowsWithIssues != 3 {
		t.Errorf("expected 3 rows with issues, got %d", report.RowsWithIssues)
	}
	if len(report.Validation) != 4 {
		t.Errorf("expected 4 upload findings, got %d: %+v", len(report.Validation), report.Validation)
	}

	if len(st.patients) != 2 {
		t.Errorf("expected 2 patients, got %d", len(st.patients))
	}
	if len(st.samples) != 2 {
		t.Errorf("expected 2 samples, got %d", len(st.samples))
	}
	if len(st.results) != 3 {
		t.Errorf("expected 3 results, got %d", len(st.results))
	}
	// 2 parameter columns x 3 rows + 3 batch values.
	if len(st.numeric) != 9 {
		t.Errorf("expected 9 numeric values, got %d", len(st.numeric))
	}
	if len(st.dates) != 2 {
		t.Errorf("expected 2 date values, got %d", len(st.dates))
	}
	if len(st.text) != 1 {
		t.Errorf("expected 1 text value, got %d", len(st.text))
	}

	if sf.File().State != upload.StateCommitted {
		t.Errorf("expected committed, got %s", sf.File().State)
	}
	if sf.File().ValidModel {
		t.Error("expected valid_model false when issues were found")
	}
	for _, r := range st.results {
		if r.UploadedFileID != sf.File().ID {
			t.Error("result not stamped with uploading file")
		}
	}
}

func TestUpload_CleanFileSetsValidModel(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	ctx := context.Background()

	csv := `filename,Panel,Clinical_sample,batch,Operator name,Comments,Date,P5/CD3 | Count,P5/CD4 | Count
p005n01_p5.fcs,p5,p005n01,1,7,Fine,2024-03-01,123.5,88.1
`
	sf := stageFile(t, svc, csv)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}
	report, err := svc.Upload(ctx, sf, false)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if report.RowsWithIssues != 0 {
		t.Errorf("expected 0 rows with issues, got %d", report.RowsWithIssues)
	}
	if !sf.File().ValidModel {
		t.Error("expected valid_model true for a clean file")
	}
	// 2 parameters + batch + operator code.
	if len(st.numeric) != 4 {
		t.Errorf("expected 4 numeric values, got %d", len(st.numeric))
	}
}

func TestUpload_BadSampleID(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	ctx := context.Background()

	csv := `filename,Panel,Clinical_sample,batch,Operator name,Comments,Date,P5/CD3 | Count,P5/CD4 | Count
x9_p5.fcs,p5,x9,1,7,,2024-03-01,123.5,88.1
`
	sf := stageFile(t, svc, csv)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}
	report, err := svc.Upload(ctx, sf, false)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if report.RowsWithIssues != 1 {
		t.Errorf("expected 1 row with issues, got %d", report.RowsWithIssues)
	}
	if len(report.Validation) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(report.Validation))
	}
	e := report.Validation[0]
	if e.EntryType != upload.SeverityWarn {
		t.Errorf("expected WARN, got %s", e.EntryType)
	}
	if !strings.Contains(e.Key, "Clinical_sample") || !strings.Contains(e.Key, "row_2") {
		t.Errorf("finding should name the row and field, got key %q", e.Key)
	}
	if len(st.results) != 0 || len(st.numeric) != 0 || len(st.samples) != 0 {
		t.Error("row with bad sample id must create nothing")
	}
}

func TestUpload_FilenameMismatch(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	ctx := context.Background()

	csv := `filename,Panel,Clinical_sample,batch,Operator name,Comments,Date,P5/CD3 | Count,P5/CD4 | Count
other_sample.fcs,p5,p005n01,1,7,,2024-03-01,123.5,88.1
`
	sf := stageFile(t, svc, csv)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}
	report, err := svc.Upload(ctx, sf, false)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if report.RowsWithIssues != 1 {
		t.Errorf("expected 1 row with issues, got %d", report.RowsWithIssues)
	}
	if len(st.results) != 0 {
		t.Error("mismatched filename must not create a result")
	}
}

func TestUpload_ReuploadOverwrites(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	ctx := context.Background()

	sf := stageFile(t, svc, panelCSV)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := svc.Upload(ctx, sf, false); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	numeric, dates, text := len(st.numeric), len(st.dates), len(st.text)

	// Second upload of the same data with one changed cell.
	changed := strings.Replace(panelCSV, "123.5", "999.9", 1)
	sf2 := stageFile(t, svc, changed)
	if _, err := svc.Validate(ctx, sf2); err != nil {
		t.Fatalf("validate second: %v", err)
	}
	if _, err := svc.Upload(ctx, sf2, false); err != nil {
		t.Fatalf("second upload: %v", err)
	}

	if len(st.numeric) != numeric || len(st.dates) != dates || len(st.text) != text {
		t.Errorf("re-upload must not grow value tables: numeric %d->%d, dates %d->%d, text %d->%d",
			numeric, len(st.numeric), dates, len(st.dates), text, len(st.text))
	}
	if len(st.results) != 3 {
		t.Errorf("expected 3 results after re-upload, got %d", len(st.results))
	}

	var found bool
	for _, v := range st.numeric {
		if v == 999.9 {
			found = true
		}
	}
	if !found {
		t.Error("expected re-upload to overwrite with the new value")
	}
	for _, v := range st.numeric {
		if v == 123.5 {
			t.Error("stale value survived the overwrite")
		}
	}
}

func TestUpload_DryRunHasNoSideEffects(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	ctx := context.Background()

	sf := stageFile(t, svc, panelCSV)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}
	dryReport, err := svc.Upload(ctx, sf, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}

	if len(st.patients) != 0 || len(st.samples) != 0 || len(st.results) != 0 ||
		len(st.numeric) != 0 || len(st.dates) != 0 || len(st.text) != 0 {
		t.Error("dry run must leave business tables empty")
	}
	if sf.File().State != upload.StateModelChecked {
		t.Errorf("expected model_checked after dry run, got %s", sf.File().State)
	}
	// The findings survive the rollback for the reviewer.
	if len(dryReport.Validation) == 0 {
		t.Error("expected dry-run findings")
	}

	commitReport, err := svc.Upload(ctx, sf, false)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if commitReport.RowsWithIssues != dryReport.RowsWithIssues {
		t.Errorf("dry run reported %d rows with issues, commit %d",
			dryReport.RowsWithIssues, commitReport.RowsWithIssues)
	}
	if len(st.results) != 3 {
		t.Errorf("expected 3 results after commit, got %d", len(st.results))
	}
	if sf.File().State != upload.StateCommitted {
		t.Errorf("expected committed, got %s", sf.File().State)
	}
}

func TestUpload_RequiresValidationFirst(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)

	sf := stageFile(t, svc, panelCSV)
	if _, err := svc.Upload(context.Background(), sf, false); err == nil {
		t.Error("expected error uploading a file that was never validated")
	}
}

func TestUpload_UnknownPanelFails(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	ctx := context.Background()

	csv := strings.ReplaceAll(panelCSV, ",p5,", ",p9,")
	sf := stageFile(t, svc, csv)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := svc.Upload(ctx, sf, false); err == nil {
		t.Fatal("expected error for unknown panel")
	}
	if sf.File().State != upload.StateRolledBack {
		t.Errorf("expected rolled_back, got %s", sf.File().State)
	}
	if len(st.results) != 0 {
		t.Error("failed upload must not leave results behind")
	}
}

func TestUpload_DerivedParameterAutoRegistration(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	ctx := context.Background()

	csv := `filename,Panel,Clinical_sample,batch,Operator name,Comments,Date,P5/CD8 freq,P5/CD8 Count_back
p005n01_p5.fcs,p5,p005n01,1,7,,2024-03-01,0.42,512
`
	sf := stageFile(t, svc, csv)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := svc.Upload(ctx, sf, false); err != nil {
		t.Fatalf("upload: %v", err)
	}

	freq, ok := st.params["P5/CD8 freq"]
	if !ok {
		t.Fatal("expected derived freq parameter registered")
	}
	if freq.Unit != "Derived frequency" {
		t.Errorf("expected unit 'Derived frequency', got %q", freq.Unit)
	}
	if freq.DataType != reference.DataTypePanelNumeric {
		t.Errorf("expected PanelNumeric, got %s", freq.DataType)
	}
	count, ok := st.params["P5/CD8 Count_back"]
	if !ok {
		t.Fatal("expected derived count parameter registered")
	}
	if count.Unit != "Derived count" {
		t.Errorf("expected unit 'Derived count', got %q", count.Unit)
	}
	// 2 derived + batch + operator code.
	if len(st.numeric) != 4 {
		t.Errorf("expected 4 numeric values, got %d", len(st.numeric))
	}
}

func TestUpload_MissingStaticColumnsTolerated(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	ctx := context.Background()

	csv := `filename,Panel,Clinical_sample,P5/CD3 | Count
p005n01_p5.fcs,p5,p005n01,123.5
`
	sf := stageFile(t, svc, csv)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}
	report, err := svc.Upload(ctx, sf, false)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if report.RowsWithIssues != 0 {
		t.Errorf("expected 0 rows with issues, got %d", report.RowsWithIssues)
	}
	if len(st.numeric) != 1 {
		t.Errorf("expected 1 numeric value, got %d", len(st.numeric))
	}
	if len(st.dates) != 0 || len(st.text) != 0 {
		t.Error("absent static columns must not produce values")
	}
}

func TestSampleFileFromStored(t *testing.T) {
	svc, st := newTestService(config.UnknownColumnWarn)
	seedDictionary(st)
	ctx := context.Background()

	sf := stageFile(t, svc, panelCSV)
	if _, err := svc.Validate(ctx, sf); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := svc.Upload(ctx, sf, true); err != nil {
		t.Fatalf("dry run: %v", err)
	}

	// Confirm step rebuilds the staged file from the stored content.
	restored, err := svc.SampleFileFromStored(ctx, sf.File().ID, "Automatically Gated")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := svc.Upload(ctx, restored, false); err != nil {
		t.Fatalf("commit restored: %v", err)
	}
	if len(st.results) != 3 {
		t.Errorf("expected 3 results, got %d", len(st.results))
	}
	if restored.File().State != upload.StateCommitted {
		t.Errorf("expected committed, got %s", restored.File().State)
	}
}
