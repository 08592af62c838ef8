package cohort

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cohort/cohort/internal/platform/auth"
)

var (
	ErrConceptNotFound = errors.New("concept not found")
	ErrInlineSQL       = errors.New("inline SQL requires the admin role")
	ErrNoCatalog       = errors.New("no concept catalog is configured")
)

// ConceptRepository is the administrator-curated concept catalog. Only
// catalog concepts reach the compiler for non-admin callers.
type ConceptRepository interface {
	Create(ctx context.Context, c *Concept) error
	GetByID(ctx context.Context, id uuid.UUID) (*Concept, error)
	// GetMany returns the concepts found among ids, keyed by id.
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Concept, error)
	List(ctx context.Context, limit, offset int) ([]*Concept, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Resolver swaps concept references in a request for their catalog
// definitions. A request item names a concept and its specializations by id
// and may add a numeric filter; the SQL always comes from the catalog.
type Resolver struct {
	concepts ConceptRepository
}

// NewResolver resolves against concepts, which may be nil when no catalog is
// configured. Only admins can then compile, using inline definitions.
func NewResolver(concepts ConceptRepository) *Resolver {
	return &Resolver{concepts: concepts}
}

// Query resolves every panel item of q in place.
func (r *Resolver) Query(ctx context.Context, q *Query) error {
	var items []*PanelItem
	for i := range q.Panels {
		for j := range q.Panels[i].SubPanels {
			sp := &q.Panels[i].SubPanels[j]
			for k := range sp.PanelItems {
				items = append(items, &sp.PanelItems[k])
			}
		}
	}
	return r.Items(ctx, items...)
}

// Items resolves each item in place. Items carrying their own SQL are kept
// as written for admins and rejected with ErrInlineSQL for everyone else.
func (r *Resolver) Items(ctx context.Context, items ...*PanelItem) error {
	admin := auth.HasRole(ctx, "admin")
	var (
		refs []*PanelItem
		ids  []uuid.UUID
	)
	for _, pi := range items {
		if inlineSQL(pi) {
			if !admin {
				return fmt.Errorf("%w: item %d", ErrInlineSQL, pi.Index)
			}
			continue
		}
		if pi.Concept.ID == uuid.Nil {
			return fmt.Errorf("%w: item %d has no concept id", ErrConceptNotFound, pi.Index)
		}
		refs = append(refs, pi)
		ids = append(ids, pi.Concept.ID)
	}
	if len(refs) == 0 {
		return nil
	}
	if r == nil || r.concepts == nil {
		return fmt.Errorf("%w: %w", ErrConceptNotFound, ErrNoCatalog)
	}

	found, err := r.concepts.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("load concepts: %w", err)
	}
	for _, pi := range refs {
		c, ok := found[pi.Concept.ID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrConceptNotFound, pi.Concept.ID)
		}
		specs, err := selectSpecializations(c, pi.Specializations)
		if err != nil {
			return err
		}
		pi.Concept = *c
		pi.Concept.Specializations = nil
		pi.Specializations = specs
	}
	return nil
}

func inlineSQL(pi *PanelItem) bool {
	if pi.Concept.HasSQL() {
		return true
	}
	for _, s := range pi.Specializations {
		if s.SQLSetWhere != "" {
			return true
		}
	}
	return false
}

// selectSpecializations maps requested specialization ids onto the ones c
// offers.
func selectSpecializations(c *Concept, requested []Specialization) ([]Specialization, error) {
	if len(requested) == 0 {
		return nil, nil
	}
	offered := make(map[uuid.UUID]Specialization, len(c.Specializations))
	for _, s := range c.Specializations {
		offered[s.ID] = s
	}
	out := make([]Specialization, 0, len(requested))
	for _, s := range requested {
		def, ok := offered[s.ID]
		if !ok {
			return nil, fmt.Errorf("%w: specialization %s of concept %s", ErrConceptNotFound, s.ID, c.ID)
		}
		out = append(out, def)
	}
	return out, nil
}
