package reference

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/facstrack/facstrack/internal/platform/db"
	"github.com/facstrack/facstrack/internal/platform/tabular"
)

// Columns expected in a panel/parameter reference file.
const (
	colPanel               = "panel"
	colGatingHierarchy     = "gating hierarchy"
	colMarkerString        = "marker string"
	colPublicName          = "public_population_name"
	colUnit                = "presented on webpage as"
	colAncestralPopulation = "ancestral population"
	colPopulationForCounts = "population for counts"
)

// Loader populates the Panel/Parameter dictionary from a reference file.
// It must run before any panel-result upload: the upload engine resolves
// parameter columns against the dictionary this produces.
type Loader struct {
	panels PanelRepository
	params ParameterRepository
	tx     db.Transactor
	log    zerolog.Logger
}

func NewLoader(panels PanelRepository, params ParameterRepository, tx db.Transactor, log zerolog.Logger) *Loader {
	return &Loader{panels: panels, params: params, tx: tx, log: log}
}

// Load reads one reference file and upserts its panels and parameters in
// a single transaction. Rerunning with the same file changes nothing;
// rerunning with a superset adds the new rows and overwrites descriptive
// fields of rows that reappear.
func (l *Loader) Load(ctx context.Context, r io.Reader) error {
	table, err := tabular.Read(r)
	if err != nil {
		return fmt.Errorf("parse reference file: %w", err)
	}
	for _, col := range []string{colPanel, colGatingHierarchy} {
		if !table.HasColumn(col) {
			return fmt.Errorf("reference file missing column %q", col)
		}
	}

	return l.tx.RunInTx(ctx, false, func(ctx context.Context) error {
		// Distinct panel names, uppercased and sorted for a
		// deterministic creation order.
		seen := make(map[string]struct{})
		var panelNames []string
		for row := 0; row < table.RowCount(); row++ {
			name := strings.ToUpper(strings.TrimSpace(table.Cell(row, colPanel)))
			if name == "" {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				panelNames = append(panelNames, name)
			}
		}
		sort.Strings(panelNames)

		panels := make(map[string]*Panel, len(panelNames))
		for _, name := range panelNames {
			panel, created, err := l.panels.GetOrCreate(ctx, name)
			if err != nil {
				return fmt.Errorf("get or create panel %s: %w", name, err)
			}
			panels[name] = panel
			if created {
				l.log.Info().Str("panel", name).Msg("panel created")
			}
			if err := l.ensurePseudoParameters(ctx, panel); err != nil {
				return err
			}
		}

		for row := 0; row < table.RowCount(); row++ {
			panelName := strings.ToUpper(strings.TrimSpace(table.Cell(row, colPanel)))
			panel, ok := panels[panelName]
			if !ok {
				continue
			}
			param := &Parameter{
				PanelID:         panel.ID,
				GatingHierarchy: strings.TrimSpace(table.Cell(row, colGatingHierarchy)),
			}
			if param.GatingHierarchy == "" {
				continue
			}
			if _, err := l.params.GetOrCreate(ctx, param); err != nil {
				return fmt.Errorf("get or create parameter %s: %w", param.GatingHierarchy, err)
			}
			// Descriptive fields always take the latest file's values:
			// the reference file is the source of truth and the last
			// load wins.
			param.InternalName = table.Cell(row, colMarkerString)
			param.PublicName = table.Cell(row, colPublicName)
			param.Unit = table.Cell(row, colUnit)
			param.AncestralPopulation = table.Cell(row, colAncestralPopulation)
			param.PopulationForCounts = table.Cell(row, colPopulationForCounts)
			param.DataType = DataTypePanelNumeric
			param.IsReferenceParameter = false
			if err := l.params.Update(ctx, param); err != nil {
				return fmt.Errorf("update parameter %s: %w", param.GatingHierarchy, err)
			}
		}

		l.log.Info().Int("panels", len(panelNames)).Int("rows", table.RowCount()).Msg("reference data loaded")
		return nil
	})
}

// ensurePseudoParameters creates the five per-panel pseudo-parameters.
// Existing pseudo-parameters keep their data type and description: only
// newly created rows are populated from the fixed table.
func (l *Loader) ensurePseudoParameters(ctx context.Context, panel *Panel) error {
	for _, name := range PseudoNames() {
		spec := pseudoParameters[name]
		param := &Parameter{
			PanelID:         panel.ID,
			GatingHierarchy: PseudoHierarchy(panel.Name, name),
			DataType:        spec.DataType,
			Description:     spec.Description,
		}
		if _, err := l.params.GetOrCreate(ctx, param); err != nil {
			return fmt.Errorf("get or create pseudo-parameter %s: %w", param.GatingHierarchy, err)
		}
	}
	return nil
}
