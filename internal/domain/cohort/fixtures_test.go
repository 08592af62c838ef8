package cohort

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cohort/cohort/internal/platform/dialect"
)

func newTestCompiler(t *testing.T, d dialect.Dialect) *Compiler {
	t.Helper()
	opts, err := NewOptions(Options{})
	require.NoError(t, err)
	c, err := NewCompiler(opts, d)
	require.NoError(t, err)
	return c
}

func diagnosis(idx int, code string) PanelItem {
	return PanelItem{
		Index: idx,
		Concept: Concept{
			ID:               uuid.New(),
			UIDisplayName:    "Diagnosis " + code,
			SQLSetFrom:       "dbo.condition_occurrence",
			SQLSetWhere:      "@.condition_code = '" + code + "'",
			SQLFieldDate:     "@.condition_start_date",
			IsEncounterBased: true,
		},
	}
}

func female(idx int) PanelItem {
	return PanelItem{
		Index: idx,
		Concept: Concept{
			ID:          uuid.New(),
			SQLSetFrom:  "dbo.person",
			SQLSetWhere: "@.gender_source_value = 'F'",
		},
	}
}

func deceased(idx int) PanelItem {
	return PanelItem{
		Index:   idx,
		Concept: Concept{ID: uuid.New(), SQLSetFrom: "dbo.death"},
	}
}

func hba1c(idx int, nf *NumericFilter) PanelItem {
	return PanelItem{
		Index: idx,
		Concept: Concept{
			ID:               uuid.New(),
			SQLSetFrom:       "dbo.measurement",
			SQLSetWhere:      "@.measurement_code = '4548-4'",
			SQLFieldDate:     "@.measurement_date",
			SQLFieldNumeric:  "@.value_as_number",
			IsEncounterBased: true,
			IsNumeric:        true,
		},
		NumericFilter: nf,
	}
}

func procedure(idx int, code string) PanelItem {
	pi := diagnosis(idx, code)
	pi.Concept.SQLSetFrom = "dbo.procedure_occurrence"
	pi.Concept.SQLSetWhere = "@.procedure_code = '" + code + "'"
	pi.Concept.SQLFieldDate = "@.procedure_date"
	pi.Concept.SQLFieldEvent = "@.procedure_occurrence_id"
	pi.Concept.IsEventBased = true
	return pi
}

func include(idx int, items ...PanelItem) SubPanel {
	return SubPanel{Index: idx, IncludeSubPanel: true, PanelItems: items}
}

func exclude(idx int, items ...PanelItem) SubPanel {
	return SubPanel{Index: idx, PanelItems: items}
}

func then(sp SubPanel, st SequenceType, inc int, unit DateIncrementType) SubPanel {
	sp.JoinSequence = &JoinSequence{SequenceType: st, Increment: inc, DateIncrementType: unit}
	return sp
}

func simplePanel(idx int, subs ...SubPanel) Panel {
	return Panel{Index: idx, Type: PanelSimple, IncludePanel: true, SubPanels: subs}
}

func sequencePanel(idx int, subs ...SubPanel) Panel {
	return Panel{Index: idx, Type: PanelSequence, IncludePanel: true, SubPanels: subs}
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func specificWindow(start, end *time.Time) *DateFilter {
	return &DateFilter{
		Start: DateBoundary{Type: DateSpecific, Date: start},
		End:   DateBoundary{Type: DateSpecific, Date: end},
	}
}
