package dataset

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cohort/cohort/internal/domain/cohort"
	"github.com/cohort/cohort/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// =========== Dataset Catalog ===========

const datasetTable = "app.dataset_query"

var datasetCols = []string{"id", "name", "sql_statement", "sql_field_date", "is_encounter_based", "columns"}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG stores the dataset catalog in app.dataset_query.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) scan(row pgx.Row) (*Query, error) {
	var q Query
	err := row.Scan(&q.ID, &q.Name, &q.SQLStatement, &q.SQLFieldDate, &q.IsEncounterBased, &q.Columns)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *repoPG) Create(ctx context.Context, q *Query) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	sql, args, err := psql.Insert(datasetTable).
		Columns(datasetCols...).
		Values(q.ID, q.Name, q.SQLStatement, q.SQLFieldDate, q.IsEncounterBased, q.Columns).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := r.conn(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Query, error) {
	sql, args, err := psql.Select(datasetCols...).From(datasetTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	return r.scan(r.conn(ctx).QueryRow(ctx, sql, args...))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Query, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM "+datasetTable).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql, args, err := psql.Select(datasetCols...).From(datasetTable).
		OrderBy("name", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Query
	for rows.Next() {
		q, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, q)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	sql, args, err := psql.Delete(datasetTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDatasetNotFound
	}
	return nil
}

// =========== Extraction ===========

type extractorPG struct{ pool *pgxpool.Pool }

// NewExtractorPG runs dataset statements on a pool that can see both the
// clinical tables and the cohort table.
func NewExtractorPG(pool *pgxpool.Pool) Extractor {
	return &extractorPG{pool: pool}
}

func (x *extractorPG) Extract(ctx context.Context, sql string, queryID uuid.UUID) ([]string, []map[string]interface{}, error) {
	rows, err := x.pool.Query(ctx, sql, pgx.NamedArgs{cohort.QueryIDParam: queryID})
	if err != nil {
		return nil, nil, fmt.Errorf("query dataset: %w", err)
	}
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, nil, fmt.Errorf("scan dataset: %w", err)
	}
	return cols, out, nil
}
