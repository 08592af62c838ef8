package cohort

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// PanelType selects how a panel's subpanels are combined.
type PanelType string

const (
	PanelSimple   PanelType = "simple"
	PanelSequence PanelType = "sequence"
)

// SequenceType is the temporal relationship between consecutive subpanels of
// a sequence panel.
type SequenceType string

const (
	SequenceEncounter        SequenceType = "encounter"
	SequenceEvent            SequenceType = "event"
	SequencePlusMinus        SequenceType = "plus_minus"
	SequenceWithinFollowing  SequenceType = "within_following"
	SequenceAnytimeFollowing SequenceType = "anytime_following"
)

// DateIncrementType is the unit of a date offset, or Specific/Now for
// boundaries that are not offsets.
type DateIncrementType string

const (
	DateSpecific DateIncrementType = "specific"
	DateNow      DateIncrementType = "now"
	DateMinute   DateIncrementType = "minute"
	DateHour     DateIncrementType = "hour"
	DateDay      DateIncrementType = "day"
	DateWeek     DateIncrementType = "week"
	DateMonth    DateIncrementType = "month"
	DateYear     DateIncrementType = "year"
)

// NumericOp is the comparison applied by a NumericFilter.
type NumericOp string

const (
	NumericGT      NumericOp = "GT"
	NumericGTE     NumericOp = "GTE"
	NumericLT      NumericOp = "LT"
	NumericLTE     NumericOp = "LTE"
	NumericEQ      NumericOp = "EQ"
	NumericBetween NumericOp = "BETWEEN"
)

// Concept is an administrator-authored clinical fact definition. The SQL
// fields are trusted fragments embedded verbatim; occurrences of the alias
// placeholder are bound to the compiled statement's alias.
type Concept struct {
	ID               uuid.UUID `json:"id" yaml:"id"`
	UniversalID      string    `json:"universal_id,omitempty" yaml:"universal_id,omitempty"`
	UIDisplayName    string    `json:"ui_display_name,omitempty" yaml:"ui_display_name,omitempty"`
	SQLSetFrom       string    `json:"sql_set_from,omitempty" yaml:"sql_set_from,omitempty"`
	SQLSetWhere      string    `json:"sql_set_where,omitempty" yaml:"sql_set_where,omitempty"`
	SQLFieldDate     string    `json:"sql_field_date,omitempty" yaml:"sql_field_date,omitempty"`
	SQLFieldEvent    string    `json:"sql_field_event,omitempty" yaml:"sql_field_event,omitempty"`
	SQLFieldNumeric  string    `json:"sql_field_numeric,omitempty" yaml:"sql_field_numeric,omitempty"`
	IsEncounterBased bool      `json:"is_encounter_based" yaml:"is_encounter_based"`
	IsEventBased     bool      `json:"is_event_based" yaml:"is_event_based"`
	IsNumeric        bool      `json:"is_numeric" yaml:"is_numeric"`

	// Specializations lists the refinements a catalog concept offers.
	Specializations []Specialization `json:"specializations,omitempty" yaml:"specializations,omitempty"`
}

// HasSQL reports whether c carries any SQL fragment of its own.
func (c *Concept) HasSQL() bool {
	for _, text := range []string{c.SQLSetFrom, c.SQLSetWhere, c.SQLFieldDate, c.SQLFieldEvent, c.SQLFieldNumeric} {
		if text != "" {
			return true
		}
	}
	for _, s := range c.Specializations {
		if s.SQLSetWhere != "" {
			return true
		}
	}
	return false
}

// Public returns c without its SQL fragments, as shown to non-admins.
func (c Concept) Public() Concept {
	c.SQLSetFrom, c.SQLSetWhere, c.SQLFieldDate, c.SQLFieldEvent, c.SQLFieldNumeric = "", "", "", "", ""
	specs := make([]Specialization, len(c.Specializations))
	for i, s := range c.Specializations {
		s.SQLSetWhere = ""
		specs[i] = s
	}
	c.Specializations = specs
	return c
}

// Specialization narrows a concept with an additional raw predicate.
type Specialization struct {
	ID            uuid.UUID `json:"id" yaml:"id"`
	UIDisplayText string    `json:"ui_display_text,omitempty" yaml:"ui_display_text,omitempty"`
	SQLSetWhere   string    `json:"sql_set_where,omitempty" yaml:"sql_set_where,omitempty"`
}

type NumericFilter struct {
	Op     NumericOp `json:"op" yaml:"op"`
	Values []float64 `json:"values" yaml:"values"`
}

type PanelItem struct {
	Index           int              `json:"index" yaml:"index"`
	Concept         Concept          `json:"concept" yaml:"concept"`
	NumericFilter   *NumericFilter   `json:"numeric_filter,omitempty" yaml:"numeric_filter,omitempty"`
	Specializations []Specialization `json:"specializations,omitempty" yaml:"specializations,omitempty"`
}

// CountFilter requires a minimum number of distinct dates.
type CountFilter struct {
	MinimumCount int `json:"minimum_count" yaml:"minimum_count"`
}

// JoinSequence relates a subpanel to the current anchor of its sequence.
type JoinSequence struct {
	SequenceType      SequenceType      `json:"sequence_type" yaml:"sequence_type"`
	Increment         int               `json:"increment,omitempty" yaml:"increment,omitempty"`
	DateIncrementType DateIncrementType `json:"date_increment_type,omitempty" yaml:"date_increment_type,omitempty"`
}

// SubPanel is an OR group of panel items. IncludeSubPanel defaults to true
// when absent from JSON or YAML input; false marks an exclusion step.
type SubPanel struct {
	Index           int           `json:"index" yaml:"index"`
	IncludeSubPanel bool          `json:"include_subpanel" yaml:"include_subpanel"`
	CountFilter     *CountFilter  `json:"count_filter,omitempty" yaml:"count_filter,omitempty"`
	JoinSequence    *JoinSequence `json:"join_sequence,omitempty" yaml:"join_sequence,omitempty"`
	PanelItems      []PanelItem   `json:"panel_items" yaml:"panel_items"`
}

func (s *SubPanel) UnmarshalJSON(b []byte) error {
	type raw SubPanel
	r := raw{IncludeSubPanel: true}
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	*s = SubPanel(r)
	return nil
}

func (s *SubPanel) UnmarshalYAML(n *yaml.Node) error {
	type raw SubPanel
	r := raw{IncludeSubPanel: true}
	if err := n.Decode(&r); err != nil {
		return err
	}
	*s = SubPanel(r)
	return nil
}

// DateBoundary is one end of a date window: an absolute timestamp
// (Specific), the current time (Now), or Now shifted by Increment units.
type DateBoundary struct {
	Type      DateIncrementType `json:"type" yaml:"type"`
	Increment int               `json:"increment,omitempty" yaml:"increment,omitempty"`
	Date      *time.Time        `json:"date,omitempty" yaml:"date,omitempty"`
}

type DateFilter struct {
	Start DateBoundary `json:"start" yaml:"start"`
	End   DateBoundary `json:"end" yaml:"end"`
}

// Panel is a top-level query step. IncludePanel defaults to true when absent;
// false excludes the panel's patients from the cohort.
type Panel struct {
	Index        int         `json:"index" yaml:"index"`
	Type         PanelType   `json:"type" yaml:"type"`
	IncludePanel bool        `json:"include_panel" yaml:"include_panel"`
	DateFilter   *DateFilter `json:"date_filter,omitempty" yaml:"date_filter,omitempty"`
	SubPanels    []SubPanel  `json:"subpanels" yaml:"subpanels"`
}

func (p *Panel) UnmarshalJSON(b []byte) error {
	type raw Panel
	r := raw{IncludePanel: true}
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	*p = Panel(r)
	return nil
}

func (p *Panel) UnmarshalYAML(n *yaml.Node) error {
	type raw Panel
	r := raw{IncludePanel: true}
	if err := n.Decode(&r); err != nil {
		return err
	}
	*p = Panel(r)
	return nil
}

// IsSequence reports whether the panel is a temporal sequence.
func (p *Panel) IsSequence() bool { return p.Type == PanelSequence }

// MatchesEvents reports whether any step of a sequence panel joins on
// EventId, in which case every step must project it.
func (p *Panel) MatchesEvents() bool {
	if !p.IsSequence() {
		return false
	}
	for i := 1; i < len(p.SubPanels); i++ {
		if js := p.SubPanels[i].JoinSequence; js != nil && js.SequenceType == SequenceEvent {
			return true
		}
	}
	return false
}

// Query is a complete cohort definition.
type Query struct {
	Panels []Panel `json:"panels" yaml:"panels"`
}

// SavedQuery is a compiled query stored in the application database
// together with the cohort it produced.
type SavedQuery struct {
	ID           uuid.UUID       `json:"id"`
	Owner        string          `json:"owner"`
	Definition   json.RawMessage `json:"definition"`
	SQL          string          `json:"sql"`
	Dialect      string          `json:"dialect"`
	PatientCount int64           `json:"patient_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Member is one patient of a cached cohort. Salt is a per-row random value
// carried into dataset extracts so exported rows cannot be joined on PersonID.
type Member struct {
	PersonID string    `json:"person_id"`
	Salt     uuid.UUID `json:"salt"`
	Exported bool      `json:"exported"`
}
