package cohort

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var forbiddenKeyword = regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|TRUNCATE|EXEC|EXECUTE|MERGE|GRANT|REVOKE|CREATE)\b`)

// ValidateConceptSQL rejects administrator SQL containing data-modifying
// keywords, statement separators or comments outside string literals.
func ValidateConceptSQL(text string) error {
	code := stripLiterals(text)
	if m := forbiddenKeyword.FindString(code); m != "" {
		return fmt.Errorf("%w: %s", ErrForbiddenKeyword, strings.ToUpper(m))
	}
	for _, tok := range []string{";", "--", "/*"} {
		if strings.Contains(code, tok) {
			return fmt.Errorf("%w: %q", ErrForbiddenKeyword, tok)
		}
	}
	return nil
}

// stripLiterals blanks the contents of single-quoted literals, honouring the
// doubled-quote escape.
func stripLiterals(text string) string {
	var b strings.Builder
	in := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch == '\'' {
			if in && i+1 < len(text) && text[i+1] == '\'' {
				i++
				continue
			}
			in = !in
			b.WriteByte(ch)
			continue
		}
		if in {
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// Validator checks a query definition against the modeling rules the
// compiler relies on, reporting every violation it finds.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// Validate returns nil or the joined list of violations.
func (v *Validator) Validate(q *Query) error {
	if q == nil || len(q.Panels) == 0 {
		return ErrEmptyQuery
	}
	var errs []error
	include := false
	panels := make(map[int]bool, len(q.Panels))
	for i := range q.Panels {
		p := &q.Panels[i]
		if panels[p.Index] {
			errs = append(errs, fmt.Errorf("panel %d: duplicate index", p.Index))
		}
		panels[p.Index] = true
		include = include || p.IncludePanel
		errs = append(errs, v.panel(p)...)
	}
	if !include {
		errs = append(errs, ErrNoInclusionPanel)
	}
	return errors.Join(errs...)
}

func (v *Validator) panel(p *Panel) []error {
	var errs []error
	wrap := func(err error) { errs = append(errs, fmt.Errorf("panel %d: %w", p.Index, err)) }

	if p.Index < 0 {
		wrap(ErrNegativeIndex)
	}
	switch p.Type {
	case PanelSimple, PanelSequence, "":
	default:
		wrap(fmt.Errorf("%w: %q", ErrUnknownPanelType, p.Type))
	}
	if len(p.SubPanels) == 0 {
		wrap(ErrEmptyPanel)
		return errs
	}
	if p.DateFilter != nil {
		if _, err := DateExpression(p.DateFilter.Start, false); err != nil {
			wrap(err)
		}
		if _, err := DateExpression(p.DateFilter.End, true); err != nil {
			wrap(err)
		}
	}

	include := false
	subs := make(map[int]bool, len(p.SubPanels))
	for i := range p.SubPanels {
		sp := &p.SubPanels[i]
		if subs[sp.Index] {
			wrap(fmt.Errorf("subpanel %d: duplicate index", sp.Index))
		}
		subs[sp.Index] = true
		include = include || sp.IncludeSubPanel
		for _, err := range v.subPanel(p, sp, i) {
			wrap(fmt.Errorf("subpanel %d: %w", sp.Index, err))
		}
	}
	if !include {
		wrap(ErrNoInclusionSubPanel)
	}
	if p.IsSequence() && !p.SubPanels[0].IncludeSubPanel {
		wrap(ErrExcludedAnchor)
	}
	return errs
}

func (v *Validator) subPanel(p *Panel, sp *SubPanel, pos int) []error {
	var errs []error
	if sp.Index < 0 {
		errs = append(errs, ErrNegativeIndex)
	}
	if len(sp.PanelItems) == 0 {
		errs = append(errs, ErrEmptySubPanel)
	}
	if sp.CountFilter != nil && sp.CountFilter.MinimumCount < 1 {
		errs = append(errs, fmt.Errorf("count filter minimum %d must be positive", sp.CountFilter.MinimumCount))
	}

	if p.IsSequence() && pos > 0 {
		if sp.JoinSequence == nil {
			errs = append(errs, ErrMissingJoinSequence)
		} else if err := validateJoinSequence(sp.JoinSequence); err != nil {
			errs = append(errs, err)
		}
	}
	needsEvent := p.MatchesEvents()

	items := make(map[int]bool, len(sp.PanelItems))
	for i := range sp.PanelItems {
		pi := &sp.PanelItems[i]
		if items[pi.Index] {
			errs = append(errs, fmt.Errorf("item %d: duplicate index", pi.Index))
		}
		items[pi.Index] = true
		for _, err := range v.item(pi) {
			errs = append(errs, fmt.Errorf("item %d: %w", pi.Index, err))
		}
		c := &pi.Concept
		if p.IsSequence() && !c.IsEncounterBased {
			errs = append(errs, fmt.Errorf("item %d: %w", pi.Index, ErrSequenceNeedsEncounter))
		}
		if needsEvent && (!c.IsEventBased || strings.TrimSpace(c.SQLFieldEvent) == "") {
			errs = append(errs, fmt.Errorf("item %d: %w", pi.Index, ErrEventFieldRequired))
		}
		if sp.CountFilter != nil && !c.IsEncounterBased {
			errs = append(errs, fmt.Errorf("item %d: %w", pi.Index, ErrCountFilterNeedsDate))
		}
	}
	return errs
}

func validateJoinSequence(js *JoinSequence) error {
	switch js.SequenceType {
	case SequenceEncounter, SequenceEvent, SequenceAnytimeFollowing:
		return nil
	case SequencePlusMinus, SequenceWithinFollowing:
		if _, ok := unitOf(js.DateIncrementType); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDateIncrement, js.DateIncrementType)
		}
		if js.Increment <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidIncrement, js.Increment)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownSequenceType, js.SequenceType)
}

func (v *Validator) item(pi *PanelItem) []error {
	var errs []error
	if pi.Index < 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrNegativeIndex, pi.Index))
	}
	c := &pi.Concept
	if strings.TrimSpace(c.SQLSetFrom) == "" {
		errs = append(errs, fmt.Errorf("%w: sql_set_from", ErrMissingConceptField))
	}
	if c.IsEncounterBased && strings.TrimSpace(c.SQLFieldDate) == "" {
		errs = append(errs, fmt.Errorf("%w: sql_field_date", ErrMissingConceptField))
	}
	if c.IsNumeric && strings.TrimSpace(c.SQLFieldNumeric) == "" {
		errs = append(errs, fmt.Errorf("%w: sql_field_numeric", ErrMissingConceptField))
	}
	for _, text := range []string{c.SQLSetFrom, c.SQLSetWhere, c.SQLFieldDate, c.SQLFieldEvent, c.SQLFieldNumeric} {
		if err := ValidateConceptSQL(text); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range pi.Specializations {
		if err := ValidateConceptSQL(s.SQLSetWhere); err != nil {
			errs = append(errs, fmt.Errorf("specialization %s: %w", s.ID, err))
		}
	}

	if nf := pi.NumericFilter; nf != nil {
		if !c.IsNumeric {
			errs = append(errs, fmt.Errorf("%w: concept is not numeric", ErrInvalidNumericFilter))
		}
		want := 1
		switch nf.Op {
		case NumericGT, NumericGTE, NumericLT, NumericLTE, NumericEQ:
		case NumericBetween:
			want = 2
		default:
			errs = append(errs, fmt.Errorf("%w: unknown operator %q", ErrInvalidNumericFilter, nf.Op))
		}
		if len(nf.Values) != want {
			errs = append(errs, fmt.Errorf("%w: %s takes %d value(s), got %d", ErrInvalidNumericFilter, nf.Op, want, len(nf.Values)))
		}
		if nf.Op == NumericBetween && len(nf.Values) == 2 && nf.Values[0] > nf.Values[1] {
			errs = append(errs, fmt.Errorf("%w: between bounds are reversed", ErrInvalidNumericFilter))
		}
	}
	return errs
}

// ValidateItem checks a single panel item outside of any query, as used
// for dataset extraction.
func (v *Validator) ValidateItem(pi *PanelItem) error {
	return errors.Join(v.item(pi)...)
}

// ValidateConcept checks a catalog concept and every specialization it
// offers.
func (v *Validator) ValidateConcept(c *Concept) error {
	errs := v.item(&PanelItem{Concept: *c})
	for _, s := range c.Specializations {
		if strings.TrimSpace(s.SQLSetWhere) == "" {
			errs = append(errs, fmt.Errorf("specialization %s: %w: sql_set_where", s.ID, ErrMissingConceptField))
			continue
		}
		if err := ValidateConceptSQL(s.SQLSetWhere); err != nil {
			errs = append(errs, fmt.Errorf("specialization %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}
