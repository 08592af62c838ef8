package cohort

import (
	"fmt"
	"strings"
)

// Output column names shared by every compiled statement.
const (
	ColPersonID    = "PersonId"
	ColEncounterID = "EncounterId"
	ColDate        = "Date"
	ColEventID     = "EventId"
	ColNumeric     = "ValueNumeric"
	ColSalt        = "Salt"
	ColQueryID     = "QueryId"
	ColExported    = "Exported"
	ColCount       = "Cnt"
)

// QueryIDParam is the bound parameter carrying a cached cohort's query id.
const QueryIDParam = "queryid"

// Options binds the compiler to one clinical data warehouse. It is passed by
// value and never modified after NewOptions.
type Options struct {
	FieldPersonID    string
	FieldEncounterID string
	AliasPlaceholder string
	AppDB            string
	CohortTable      string
}

// DefaultOptions returns bindings for an OMOP-style warehouse.
func DefaultOptions() Options {
	return Options{
		FieldPersonID:    "person_id",
		FieldEncounterID: "visit_occurrence_id",
		AliasPlaceholder: "@",
		CohortTable:      "app.cohort",
	}
}

// NewOptions fills empty fields from DefaultOptions and validates the result.
func NewOptions(o Options) (Options, error) {
	def := DefaultOptions()
	if o.FieldPersonID == "" {
		o.FieldPersonID = def.FieldPersonID
	}
	if o.FieldEncounterID == "" {
		o.FieldEncounterID = def.FieldEncounterID
	}
	if o.AliasPlaceholder == "" {
		o.AliasPlaceholder = def.AliasPlaceholder
	}
	if o.CohortTable == "" {
		o.CohortTable = def.CohortTable
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

func (o Options) Validate() error {
	for name, v := range map[string]string{
		"FieldPersonID":    o.FieldPersonID,
		"FieldEncounterID": o.FieldEncounterID,
		"CohortTable":      o.CohortTable,
	} {
		if strings.TrimSpace(v) == "" || strings.ContainsAny(v, " ;'\"") {
			return fmt.Errorf("%w: %s %q", ErrInvalidOptions, name, v)
		}
	}
	if strings.TrimSpace(o.AliasPlaceholder) == "" || strings.Contains(o.AliasPlaceholder, "'") {
		return fmt.Errorf("%w: AliasPlaceholder %q", ErrInvalidOptions, o.AliasPlaceholder)
	}
	return nil
}

// CohortTableName is the fully qualified cached-cohort table.
func (o Options) CohortTableName() string {
	if o.AppDB == "" {
		return o.CohortTable
	}
	return o.AppDB + "." + o.CohortTable
}
