package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// postgresClient runs queries directly against a tenant Postgres database
// (self-hosted tenants whose backend URL is a DSN).
type postgresClient struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func (c *postgresClient) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	where, args, err := buildWhere(q, 1)
	if err != nil {
		return nil, err
	}
	sql := "SELECT * FROM " + table + where + buildOrder(q) + buildPaging(q)
	return c.query(ctx, sql, args)
}

func (c *postgresClient) Insert(ctx context.Context, table string, rows ...Row) ([]Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	inserted := make([]Row, 0, len(rows))
	for _, row := range rows {
		columns := make([]string, 0, len(row))
		for column := range row {
			if err := checkIdent(column); err != nil {
				return nil, err
			}
			columns = append(columns, column)
		}
		sort.Strings(columns)

		placeholders := make([]string, 0, len(columns))
		args := make([]any, 0, len(columns))
		for i, column := range columns {
			placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
			args = append(args, row[column])
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
			table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
		result, err := c.query(ctx, sql, args)
		if err != nil {
			return inserted, err
		}
		inserted = append(inserted, result...)
	}
	return inserted, nil
}

func (c *postgresClient) Update(ctx context.Context, table string, q Query, changes Row) ([]Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	columns := make([]string, 0, len(changes))
	for column := range changes {
		if err := checkIdent(column); err != nil {
			return nil, err
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for i, column := range columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, i+1))
		args = append(args, changes[column])
	}
	where, whereArgs, err := buildWhere(q, len(args)+1)
	if err != nil {
		return nil, err
	}
	args = append(args, whereArgs...)
	sql := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", table, strings.Join(sets, ", "), where)
	return c.query(ctx, sql, args)
}

func (c *postgresClient) Delete(ctx context.Context, table string, q Query) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	where, args, err := buildWhere(q, 1)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx, "DELETE FROM "+table+where, args...)
	return err
}

func (c *postgresClient) RPC(ctx context.Context, name string, args map[string]any) ([]Row, error) {
	if err := checkIdent(name); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(args))
	for key := range args {
		if err := checkIdent(key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	params := make([]string, 0, len(keys))
	values := make([]any, 0, len(keys))
	for i, key := range keys {
		params = append(params, fmt.Sprintf("%s => $%d", key, i+1))
		values = append(values, args[key])
	}
	sql := fmt.Sprintf("SELECT * FROM %s(%s)", name, strings.Join(params, ", "))
	return c.query(ctx, sql, values)
}

func (c *postgresClient) query(ctx context.Context, sql string, args []any) ([]Row, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("backend pg: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("backend pg: scan: %w", err)
		}
		row := make(Row, len(fields))
		for i, field := range fields {
			row[string(field.Name)] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// normalizeValue converts pgx-native scan values into the forms the REST
// client produces, so rows read the same regardless of which backend served
// them: uuid columns come back as canonical strings and timestamps as
// RFC3339 text instead of [16]byte and time.Time.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("backend pg: invalid identifier %q", name)
	}
	return nil
}

var sqlOps = map[string]string{
	OpEq:    "=",
	OpNeq:   "<>",
	OpGt:    ">",
	OpGte:   ">=",
	OpLt:    "<",
	OpLte:   "<=",
	OpLike:  "LIKE",
	OpILike: "ILIKE",
	OpIs:    "IS NOT DISTINCT FROM",
}

func buildWhere(q Query, argStart int) (string, []any, error) {
	if len(q.Filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(q.Filters))
	args := make([]any, 0, len(q.Filters))
	n := argStart
	for _, f := range q.Filters {
		if err := checkIdent(f.Column); err != nil {
			return "", nil, err
		}
		if f.Op == OpIn {
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", f.Column, n))
			args = append(args, f.Value)
			n++
			continue
		}
		op, ok := sqlOps[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("backend pg: unsupported operator %q", f.Op)
		}
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", f.Column, op, n))
		args = append(args, f.Value)
		n++
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func buildOrder(q Query) string {
	if q.OrderBy == "" || !identPattern.MatchString(q.OrderBy) {
		return ""
	}
	if q.Desc {
		return " ORDER BY " + q.OrderBy + " DESC"
	}
	return " ORDER BY " + q.OrderBy + " ASC"
}

func buildPaging(q Query) string {
	var sb strings.Builder
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}
	return sb.String()
}

// PoolRegistry caches pgx pools per backend URL, keyed by a credential
// fingerprint so that rotated credentials replace the old pool instead of
// reusing it.
type PoolRegistry struct {
	mu    sync.Mutex
	pools map[string]*registeredPool
}

type registeredPool struct {
	fingerprint string
	pool        *pgxpool.Pool
}

// NewPoolRegistry creates an empty registry.
func NewPoolRegistry() *PoolRegistry {
	return &PoolRegistry{pools: map[string]*registeredPool{}}
}

// Get returns the pool for the credentials, dialing a new one when the URL is
// unknown or the credential fingerprint changed.
func (r *PoolRegistry) Get(ctx context.Context, creds Credentials) (*pgxpool.Pool, error) {
	fp := fingerprint(creds)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.pools[creds.URL]; ok {
		if entry.fingerprint == fp {
			return entry.pool, nil
		}
		entry.pool.Close()
		delete(r.pools, creds.URL)
	}

	pool, err := pgxpool.New(ctx, creds.URL)
	if err != nil {
		return nil, fmt.Errorf("backend pg: dial: %w", err)
	}
	r.pools[creds.URL] = &registeredPool{fingerprint: fp, pool: pool}
	return pool, nil
}

// Close closes every registered pool.
func (r *PoolRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for url, entry := range r.pools {
		entry.pool.Close()
		delete(r.pools, url)
	}
}

func fingerprint(creds Credentials) string {
	sum := sha256.Sum256([]byte(creds.URL + "\x00" + creds.AnonKey + "\x00" + creds.ServiceRoleKey))
	return hex.EncodeToString(sum[:])
}
