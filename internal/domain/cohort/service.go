package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service validates, compiles and runs cohort queries.
type Service struct {
	compiler  *Compiler
	validator *Validator
	queries   QueryRepository
	concepts  ConceptRepository
	resolver  *Resolver
	warehouse Warehouse
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewService wires the compiler to storage. warehouse may be nil, in which
// case queries compile but are never executed. concepts may be nil, in which
// case only admins can compile, using inline concept definitions.
func NewService(compiler *Compiler, queries QueryRepository, concepts ConceptRepository, warehouse Warehouse, timeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		compiler:  compiler,
		validator: NewValidator(),
		queries:   queries,
		concepts:  concepts,
		resolver:  NewResolver(concepts),
		warehouse: warehouse,
		timeout:   timeout,
		logger:    logger.With().Str("component", "cohort-service").Logger(),
	}
}

// Compiler returns the service's compiler.
func (s *Service) Compiler() *Compiler { return s.compiler }

// Resolver returns the resolver used for concept references.
func (s *Service) Resolver() *Resolver { return s.resolver }

// CompileResult is the SQL produced for a query.
type CompileResult struct {
	SQL      string `json:"sql"`
	CountSQL string `json:"count_sql"`
	Dialect  string `json:"dialect"`
}

// CountResult is a counted and saved cohort.
type CountResult struct {
	QueryID uuid.UUID `json:"query_id"`
	Count   int64     `json:"count"`
	SQL     string    `json:"sql"`
}

// Compile resolves the concepts of q in place, validates it and renders both
// its cohort and count statements. Unknown concepts, validation and
// compilation failures wrap ErrInvalidQuery. Inline SQL from a non-admin
// fails with ErrInlineSQL.
func (s *Service) Compile(ctx context.Context, q *Query) (*CompileResult, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, ErrEmptyQuery)
	}
	if err := s.resolver.Query(ctx, q); err != nil {
		if errors.Is(err, ErrConceptNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
		return nil, err
	}
	if err := s.validator.Validate(q); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	sql, err := s.compiler.CohortSQL(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	countSQL, err := s.compiler.CountSQL(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return &CompileResult{SQL: sql, CountSQL: countSQL, Dialect: s.compiler.Dialect().Name()}, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Preview counts the cohort of q without storing anything.
func (s *Service) Preview(ctx context.Context, q *Query) (int64, error) {
	res, err := s.Compile(ctx, q)
	if err != nil {
		return 0, err
	}
	if s.warehouse == nil {
		return 0, ErrExecutionDisabled
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.warehouse.Count(ctx, res.CountSQL)
}

// Count runs q against the clinical database and saves the query with its
// members so datasets can later be extracted for the cohort.
func (s *Service) Count(ctx context.Context, owner string, q *Query) (*CountResult, error) {
	// The definition is saved as submitted, with concept references rather
	// than their resolved SQL.
	definition, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query definition: %w", err)
	}
	res, err := s.Compile(ctx, q)
	if err != nil {
		return nil, err
	}
	if s.warehouse == nil {
		return nil, ErrExecutionDisabled
	}

	start := time.Now()
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ids, err := s.warehouse.Members(qctx, res.SQL)
	if err != nil {
		return nil, err
	}

	members := make([]Member, len(ids))
	for i, id := range ids {
		members[i] = Member{PersonID: id, Salt: uuid.New(), Exported: true}
	}
	saved := &SavedQuery{
		Owner:        owner,
		Definition:   definition,
		SQL:          res.SQL,
		Dialect:      res.Dialect,
		PatientCount: int64(len(ids)),
	}
	if err := s.queries.Create(ctx, saved, members); err != nil {
		return nil, fmt.Errorf("save query: %w", err)
	}

	s.logger.Info().
		Str("query_id", saved.ID.String()).
		Str("owner", owner).
		Int("panels", len(q.Panels)).
		Int64("count", saved.PatientCount).
		Dur("duration", time.Since(start)).
		Msg("cohort counted")

	return &CountResult{QueryID: saved.ID, Count: saved.PatientCount, SQL: res.SQL}, nil
}

func (s *Service) GetQuery(ctx context.Context, id uuid.UUID) (*SavedQuery, error) {
	return s.queries.GetByID(ctx, id)
}

func (s *Service) ListQueries(ctx context.Context, owner string, limit, offset int) ([]*SavedQuery, int, error) {
	return s.queries.List(ctx, owner, limit, offset)
}

func (s *Service) DeleteQuery(ctx context.Context, id uuid.UUID) error {
	if err := s.queries.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("query_id", id.String()).Msg("query deleted")
	return nil
}

// CreateConcept validates c as a standalone panel item and adds it to the
// catalog.
func (s *Service) CreateConcept(ctx context.Context, c *Concept) error {
	if s.concepts == nil {
		return ErrNoCatalog
	}
	if err := s.validator.ValidateConcept(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if err := s.concepts.Create(ctx, c); err != nil {
		return fmt.Errorf("save concept: %w", err)
	}
	s.logger.Info().Str("concept_id", c.ID.String()).Str("name", c.UIDisplayName).Msg("concept created")
	return nil
}

func (s *Service) GetConcept(ctx context.Context, id uuid.UUID) (*Concept, error) {
	if s.concepts == nil {
		return nil, ErrNoCatalog
	}
	return s.concepts.GetByID(ctx, id)
}

func (s *Service) ListConcepts(ctx context.Context, limit, offset int) ([]*Concept, int, error) {
	if s.concepts == nil {
		return nil, 0, ErrNoCatalog
	}
	return s.concepts.List(ctx, limit, offset)
}

func (s *Service) DeleteConcept(ctx context.Context, id uuid.UUID) error {
	if s.concepts == nil {
		return ErrNoCatalog
	}
	if err := s.concepts.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("concept_id", id.String()).Msg("concept deleted")
	return nil
}
