package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cohort/cohort/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// =========== Saved Query Repository ===========

const queryTable = "app.query"

var queryCols = []string{"id", "owner", "definition", "sql_text", "sql_dialect", "patient_count", "created_at", "updated_at"}

var memberCols = []string{"queryid", "personid", "salt", "exported"}

type queryRepoPG struct {
	pool        *pgxpool.Pool
	cohortTable pgx.Identifier
}

// NewQueryRepoPG stores queries in app.query and their members in
// cohortTable, a schema-qualified name such as "app.cohort".
func NewQueryRepoPG(pool *pgxpool.Pool, cohortTable string) QueryRepository {
	return &queryRepoPG{pool: pool, cohortTable: pgx.Identifier(strings.Split(strings.ToLower(cohortTable), "."))}
}

func (r *queryRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *queryRepoPG) scanQuery(row pgx.Row) (*SavedQuery, error) {
	var q SavedQuery
	err := row.Scan(&q.ID, &q.Owner, &q.Definition, &q.SQL, &q.Dialect, &q.PatientCount, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQueryNotFound
	}
	return &q, err
}

func (r *queryRepoPG) Create(ctx context.Context, q *SavedQuery, members []Member) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	sql, args, err := psql.Insert(queryTable).
		Columns("id", "owner", "definition", "sql_text", "sql_dialect", "patient_count").
		Values(q.ID, q.Owner, q.Definition, q.SQL, q.Dialect, q.PatientCount).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}

	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		conn := r.conn(ctx)
		if err := conn.QueryRow(ctx, sql, args...).Scan(&q.CreatedAt, &q.UpdatedAt); err != nil {
			return fmt.Errorf("insert query: %w", err)
		}
		if len(members) == 0 {
			return nil
		}
		rows := make([][]interface{}, len(members))
		for i, m := range members {
			rows[i] = []interface{}{q.ID, m.PersonID, m.Salt, m.Exported}
		}
		if _, err := conn.CopyFrom(ctx, r.cohortTable, memberCols, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy cohort members: %w", err)
		}
		return nil
	})
}

func (r *queryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SavedQuery, error) {
	sql, args, err := psql.Select(queryCols...).From(queryTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	return r.scanQuery(r.conn(ctx).QueryRow(ctx, sql, args...))
}

func (r *queryRepoPG) List(ctx context.Context, owner string, limit, offset int) ([]*SavedQuery, int, error) {
	where := squirrel.And{}
	if owner != "" {
		where = append(where, squirrel.Eq{"owner": owner})
	}

	countSQL, countArgs, err := psql.Select("COUNT(*)").From(queryTable).Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql, args, err := psql.Select(queryCols...).From(queryTable).Where(where).
		OrderBy("created_at DESC").
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
	var items []*SavedQuery
	for rows.Next() {
		q, err := r.scanQuery(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, q)
	}
	return items, total, rows.Err()
}

func (r *queryRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	sql, args, err := psql.Delete(queryTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrQueryNotFound
	}
	return nil
}

// =========== Concept Catalog ===========

const conceptTable = "app.concept"

var conceptCols = []string{
	"id", "universal_id", "ui_display_name", "sql_set_from", "sql_set_where",
	"sql_field_date", "sql_field_event", "sql_field_numeric",
	"is_encounter_based", "is_event_based", "is_numeric", "specializations",
}

type conceptRepoPG struct{ pool *pgxpool.Pool }

// NewConceptRepoPG stores the concept catalog in app.concept.
func NewConceptRepoPG(pool *pgxpool.Pool) ConceptRepository {
	return &conceptRepoPG{pool: pool}
}

func (r *conceptRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *conceptRepoPG) scanConcept(row pgx.Row) (*Concept, error) {
	var (
		c     Concept
		specs []byte
	)
	err := row.Scan(&c.ID, &c.UniversalID, &c.UIDisplayName, &c.SQLSetFrom, &c.SQLSetWhere,
		&c.SQLFieldDate, &c.SQLFieldEvent, &c.SQLFieldNumeric,
		&c.IsEncounterBased, &c.IsEventBased, &c.IsNumeric, &specs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConceptNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(specs) > 0 {
		if err := json.Unmarshal(specs, &c.Specializations); err != nil {
			return nil, fmt.Errorf("decode specializations of %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func (r *conceptRepoPG) Create(ctx context.Context, c *Concept) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	for i := range c.Specializations {
		if c.Specializations[i].ID == uuid.Nil {
			c.Specializations[i].ID = uuid.New()
		}
	}
	specs, err := json.Marshal(c.Specializations)
	if err != nil {
		return fmt.Errorf("encode specializations: %w", err)
	}
	sql, args, err := psql.Insert(conceptTable).
		Columns(conceptCols...).
		Values(c.ID, c.UniversalID, c.UIDisplayName, c.SQLSetFrom, c.SQLSetWhere,
			c.SQLFieldDate, c.SQLFieldEvent, c.SQLFieldNumeric,
			c.IsEncounterBased, c.IsEventBased, c.IsNumeric, specs).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := r.conn(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert concept: %w", err)
	}
	return nil
}

func (r *conceptRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Concept, error) {
	sql, args, err := psql.Select(conceptCols...).From(conceptTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	return r.scanConcept(r.conn(ctx).QueryRow(ctx, sql, args...))
}

func (r *conceptRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Concept, error) {
	found := make(map[uuid.UUID]*Concept, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	sql, args, err := psql.Select(conceptCols...).From(conceptTable).Where(squirrel.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := r.scanConcept(rows)
		if err != nil {
			return nil, err
		}
		found[c.ID] = c
	}
	return found, rows.Err()
}

func (r *conceptRepoPG) List(ctx context.Context, limit, offset int) ([]*Concept, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM "+conceptTable).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql, args, err := psql.Select(conceptCols...).From(conceptTable).
		OrderBy("ui_display_name", "id").
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
	var items []*Concept
	for rows.Next() {
		c, err := r.scanConcept(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *conceptRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	sql, args, err := psql.Delete(conceptTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConceptNotFound
	}
	return nil
}

// =========== Clinical Warehouse ===========

type warehousePG struct{ pool *pgxpool.Pool }

// NewWarehousePG runs compiled Postgres statements on the clinical pool.
func NewWarehousePG(pool *pgxpool.Pool) Warehouse {
	return &warehousePG{pool: pool}
}

func (w *warehousePG) Count(ctx context.Context, sql string) (int64, error) {
	var n int64
	if err := w.pool.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cohort: %w", err)
	}
	return n, nil
}

func (w *warehousePG) Members(ctx context.Context, sql string) ([]string, error) {
	rows, err := w.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query cohort: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan cohort: %w", err)
	}
	return ids, nil
}
