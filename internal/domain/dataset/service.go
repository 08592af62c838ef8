package dataset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cohort/cohort/internal/domain/cohort"
	"github.com/cohort/cohort/internal/platform/auth"
)

// Service compiles and extracts datasets for saved cohorts.
type Service struct {
	compiler  *Compiler
	queries   cohort.QueryRepository
	datasets  Repository
	resolver  *cohort.Resolver
	extractor Extractor
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewService returns a Service. extractor may be nil, in which case
// datasets compile but are never executed. datasets may be nil, in which
// case only admins can compile, using inline dataset SQL.
func NewService(compiler *Compiler, queries cohort.QueryRepository, datasets Repository, resolver *cohort.Resolver, extractor Extractor, timeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		compiler:  compiler,
		queries:   queries,
		datasets:  datasets,
		resolver:  resolver,
		extractor: extractor,
		timeout:   timeout,
		logger:    logger.With().Str("component", "dataset-service").Logger(),
	}
}

// resolve replaces the catalog references of req with their definitions.
func (s *Service) resolve(ctx context.Context, req *Request) error {
	if req.Dataset != nil && req.DatasetID != uuid.Nil {
		return fmt.Errorf("%w: dataset and dataset_id are mutually exclusive", ErrInvalidRequest)
	}
	switch {
	case req.Dataset != nil:
		if !auth.HasRole(ctx, "admin") {
			return fmt.Errorf("%w: inline dataset", cohort.ErrInlineSQL)
		}
	case req.DatasetID != uuid.Nil:
		if s.datasets == nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, cohort.ErrNoCatalog)
		}
		q, err := s.datasets.GetByID(ctx, req.DatasetID)
		if errors.Is(err, ErrDatasetNotFound) {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if err != nil {
			return err
		}
		req.Dataset = q
	}

	if req.Concept != nil {
		if err := s.resolver.Items(ctx, req.Concept); err != nil {
			if errors.Is(err, cohort.ErrConceptNotFound) {
				return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			}
			return err
		}
	}
	return nil
}

func (s *Service) Compile(ctx context.Context, req *Request) (*Statement, error) {
	if err := s.resolve(ctx, req); err != nil {
		return nil, err
	}
	return s.compiler.Compile(req)
}

// Extract runs req for a saved query visible to the caller in ctx. Queries
// owned by someone else are reported as not found.
func (s *Service) Extract(ctx context.Context, req *Request) (*Result, error) {
	q, err := s.queries.GetByID(ctx, req.QueryID)
	if err != nil {
		return nil, err
	}
	if !cohort.CanAccess(ctx, q) {
		return nil, cohort.ErrQueryNotFound
	}
	stmt, err := s.Compile(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.extractor == nil {
		return nil, cohort.ErrExecutionDisabled
	}

	start := time.Now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	cols, rows, err := s.extractor.Extract(ctx, stmt.SQL, q.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("query_id", q.ID.String()).
		Int("rows", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("dataset extracted")

	return &Result{QueryID: q.ID, Columns: cols, Rows: rows}, nil
}

// CreateDataset validates q and adds it to the catalog.
func (s *Service) CreateDataset(ctx context.Context, q *Query) error {
	if s.datasets == nil {
		return cohort.ErrNoCatalog
	}
	if err := s.compiler.validateShaped(q); err != nil {
		return err
	}
	if err := s.datasets.Create(ctx, q); err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	s.logger.Info().Str("dataset_id", q.ID.String()).Str("name", q.Name).Msg("dataset created")
	return nil
}

func (s *Service) GetDataset(ctx context.Context, id uuid.UUID) (*Query, error) {
	if s.datasets == nil {
		return nil, cohort.ErrNoCatalog
	}
	return s.datasets.GetByID(ctx, id)
}

func (s *Service) ListDatasets(ctx context.Context, limit, offset int) ([]*Query, int, error) {
	if s.datasets == nil {
		return nil, 0, cohort.ErrNoCatalog
	}
	return s.datasets.List(ctx, limit, offset)
}

func (s *Service) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	if s.datasets == nil {
		return cohort.ErrNoCatalog
	}
	if err := s.datasets.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("dataset_id", id.String()).Msg("dataset deleted")
	return nil
}
