package dataset

import (
	"github.com/google/uuid"

	"github.com/cohort/cohort/internal/domain/cohort"
)

// Query is administrator-authored dataset SQL, such as a demographics
// extract. SQLStatement must project a PersonId column plus every name in
// Columns.
type Query struct {
	ID               uuid.UUID `json:"id" yaml:"id"`
	Name             string    `json:"name" yaml:"name"`
	SQLStatement     string    `json:"sql_statement,omitempty" yaml:"sql_statement,omitempty"`
	SQLFieldDate     string    `json:"sql_field_date,omitempty" yaml:"sql_field_date,omitempty"`
	IsEncounterBased bool      `json:"is_encounter_based" yaml:"is_encounter_based"`
	Columns          []string  `json:"columns" yaml:"columns"`
}

// Public returns q without its SQL, as listed to non-admins.
func (q Query) Public() Query {
	q.SQLStatement, q.SQLFieldDate = "", ""
	return q
}

// Request selects the rows to extract for a saved cohort: either a concept
// or a dataset query, optionally bounded by a date window. Non-admins name
// a catalog dataset by DatasetID and a catalog concept by its id; only
// admins may send an inline Dataset or concept SQL.
type Request struct {
	QueryID   uuid.UUID          `json:"query_id" yaml:"query_id"`
	Concept   *cohort.PanelItem  `json:"concept,omitempty" yaml:"concept,omitempty"`
	DatasetID uuid.UUID          `json:"dataset_id,omitempty" yaml:"dataset_id,omitempty"`
	Dataset   *Query             `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	Window    *cohort.DateFilter `json:"window,omitempty" yaml:"window,omitempty"`
}

// Statement is compiled dataset SQL. It binds one named parameter,
// cohort.QueryIDParam.
type Statement struct {
	SQL     string   `json:"sql"`
	Columns []string `json:"columns"`
}

// Result is an executed extract.
type Result struct {
	QueryID uuid.UUID                `json:"query_id"`
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
}
