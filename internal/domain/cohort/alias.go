package cohort

import (
	"fmt"

	"github.com/cohort/cohort/internal/platform/dialect"
)

// Aliases are derived from panel, subpanel and item indexes joined by
// underscores, so distinct index triples never produce the same alias.

func itemAlias(p dialect.AliasPrefixes, panel, sub, item int) string {
	return fmt.Sprintf("%s%d_%d_%d", p.Person, panel, sub, item)
}

func sequenceAlias(p dialect.AliasPrefixes, panel, sub int) string {
	return fmt.Sprintf("%s%d_%d", p.Sequence, panel, sub)
}

func subPanelAlias(p dialect.AliasPrefixes, panel, sub int) string {
	return fmt.Sprintf("%s%d_%d", p.SubPanel, panel, sub)
}

func panelAlias(p dialect.AliasPrefixes, panel int) string {
	return fmt.Sprintf("%s%d", p.Panel, panel)
}
