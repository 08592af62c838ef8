package cohort

import (
	"fmt"

	"github.com/cohort/cohort/internal/platform/dialect"
	"github.com/cohort/cohort/internal/platform/sqlset"
)

// Compiler turns query definitions into statement trees for one dialect.
// It holds no per-query state and is safe for concurrent use.
type Compiler struct {
	opts    Options
	dialect dialect.Dialect
	aliases dialect.AliasPrefixes
}

// NewCompiler validates opts and binds them to d.
func NewCompiler(opts Options, d dialect.Dialect) (*Compiler, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil dialect", ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Compiler{opts: opts, dialect: d, aliases: d.Aliases()}, nil
}

func (c *Compiler) Options() Options         { return c.opts }
func (c *Compiler) Dialect() dialect.Dialect { return c.dialect }

func (c *Compiler) items(proj projection, withEvent bool) *itemCompiler {
	return &itemCompiler{opts: c.opts, aliases: c.aliases, proj: proj, withEvent: withEvent}
}

// Item compiles one panel item of sp in p to a PersonId-only leaf.
func (c *Compiler) Item(p *Panel, sp *SubPanel, pi *PanelItem) (*sqlset.Select, error) {
	return c.items(personProjection, false).
		compile(itemAlias(c.aliases, p.Index, sp.Index, pi.Index), pi, scopeOf(p, sp))
}

// ConceptRows compiles pi to a leaf projecting every available column of its
// concept, bounded by window when the concept is encounter-based.
func (c *Compiler) ConceptRows(alias string, pi *PanelItem, window *DateFilter) (*sqlset.Select, error) {
	return c.items(rowProjection, false).compile(alias, pi, itemScope{window: window})
}

// Render renders n with the compiler's dialect.
func (c *Compiler) Render(n sqlset.Node) (string, error) {
	return sqlset.Render(n, c.dialect)
}
