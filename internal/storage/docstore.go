package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// dialect isolates the SQL differences between backends.
type dialect interface {
	name() string
	placeholder(n int) string
	columnType(t FieldType) string
	docType() string
	bindTime(t time.Time) interface{}
	limit(limit, skip int) string
	classify(err error) (ErrorKind, bool)
}

// sqlDocStore keeps each collection in one table: a column per projected
// field plus the full JSON document.
type sqlDocStore struct {
	db          *sql.DB
	dialect     dialect
	collections map[string]Collection
}

func newSQLDocStore(db *sql.DB, d dialect, collections []Collection) *sqlDocStore {
	byName := make(map[string]Collection, len(collections))
	for _, c := range collections {
		byName[c.Name] = c
	}
	return &sqlDocStore{db: db, dialect: d, collections: byName}
}

func (s *sqlDocStore) Initialize(ctx context.Context) error {
	for _, c := range s.collections {
		for _, query := range s.schema(c) {
			if _, err := s.db.ExecContext(ctx, query); err != nil {
				return wrap(s.dialect, "initialize", c.Name, fmt.Errorf("error executing query %s: %w", query, err))
			}
		}
	}
	return nil
}

func (s *sqlDocStore) schema(c Collection) []string {
	defs := make([]string, 0, len(c.columns())+1)
	for _, f := range c.columns() {
		defs = append(defs, fmt.Sprintf("%s %s", f.Name, s.dialect.columnType(f.Type)))
	}
	defs = append(defs, fmt.Sprintf("doc %s NOT NULL", s.dialect.docType()))

	queries := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", c.Name, strings.Join(defs, ",\n    ")),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS ux_%s ON %s(%s)", c.Name, c.Name, strings.Join(fieldNames(c.Unique), ", ")),
	}
	for _, f := range c.Indexes {
		queries = append(queries, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", c.Name, f.Name, c.Name, f.Name))
	}
	return queries
}

func (s *sqlDocStore) Close() error {
	return s.db.Close()
}

func (s *sqlDocStore) collection(op, name string) (Collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return Collection{}, invalid(op, name, ErrUnknownCollection)
	}
	return c, nil
}

func (s *sqlDocStore) Upsert(ctx context.Context, collection string, match Fields, doc interface{}) error {
	const op = "upsert"
	c, err := s.collection(op, collection)
	if err != nil {
		return err
	}
	if err := checkMatch(c, match); err != nil {
		return invalid(op, collection, err)
	}

	body, fields, err := project(doc, match)
	if err != nil {
		return invalid(op, collection, err)
	}

	cols := c.columns()
	names := make([]string, 0, len(cols)+1)
	marks := make([]string, 0, len(cols)+1)
	args := make([]interface{}, 0, len(cols)+1)
	for i, f := range cols {
		v, err := s.bind(f, fields[f.Name])
		if err != nil {
			return invalid(op, collection, err)
		}
		names = append(names, f.Name)
		marks = append(marks, s.dialect.placeholder(i+1))
		args = append(args, v)
	}
	names = append(names, "doc")
	marks = append(marks, s.dialect.placeholder(len(cols)+1))
	args = append(args, string(body))

	updates := make([]string, 0, len(names))
	for _, n := range names[len(c.Unique):] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", n, n))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		c.Name,
		strings.Join(names, ", "),
		strings.Join(marks, ", "),
		strings.Join(fieldNames(c.Unique), ", "),
		strings.Join(updates, ", "),
	)

	_, err = s.db.ExecContext(ctx, query, args...)
	return wrap(s.dialect, op, collection, err)
}

func (s *sqlDocStore) Find(ctx context.Context, collection string, query Query, opts FindOptions) (*Cursor, error) {
	const op = "find"
	c, err := s.collection(op, collection)
	if err != nil {
		return nil, err
	}

	where, args, err := s.where(c, query)
	if err != nil {
		return nil, invalid(op, collection, err)
	}

	var order []string
	for _, sf := range opts.Sort {
		if _, ok := c.field(sf.Field); !ok {
			return nil, invalid(op, collection, fmt.Errorf("sort %q: %w", sf.Field, ErrUnknownField))
		}
		dir := "ASC"
		if sf.Desc {
			dir = "DESC"
		}
		order = append(order, sf.Field+" "+dir)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT doc FROM %s%s", c.Name, where)
	if len(order) > 0 {
		b.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	b.WriteString(s.dialect.limit(opts.Limit, opts.Skip))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, wrap(s.dialect, op, collection, err)
	}
	return &Cursor{collection: collection, rows: rows}, nil
}

func (s *sqlDocStore) FindOne(ctx context.Context, collection string, query Query, opts FindOptions, v interface{}) (bool, error) {
	opts.Limit = 1
	cur, err := s.Find(ctx, collection, query, opts)
	if err != nil {
		return false, err
	}
	defer cur.Close()

	if !cur.Next() {
		return false, wrap(s.dialect, "find_one", collection, cur.Err())
	}
	if err := cur.Decode(v); err != nil {
		return false, invalid("find_one", collection, err)
	}
	return true, nil
}

func (s *sqlDocStore) Count(ctx context.Context, collection string, query Query) (int64, error) {
	const op = "count"
	c, err := s.collection(op, collection)
	if err != nil {
		return 0, err
	}
	where, args, err := s.where(c, query)
	if err != nil {
		return 0, invalid(op, collection, err)
	}

	var n int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", c.Name, where), args...).Scan(&n)
	if err != nil {
		return 0, wrap(s.dialect, op, collection, err)
	}
	return n, nil
}

func (s *sqlDocStore) Delete(ctx context.Context, collection string, query Query) (int64, error) {
	const op = "delete"
	c, err := s.collection(op, collection)
	if err != nil {
		return 0, err
	}
	where, args, err := s.where(c, query)
	if err != nil {
		return 0, invalid(op, collection, err)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", c.Name, where), args...)
	if err != nil {
		return 0, wrap(s.dialect, op, collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap(s.dialect, op, collection, err)
	}
	return n, nil
}

func (s *sqlDocStore) where(c Collection, q Query) (string, []interface{}, error) {
	if len(q) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(q))
	args := make([]interface{}, 0, len(q))
	for i, cond := range q {
		f, ok := c.field(cond.Field)
		if !ok {
			return "", nil, fmt.Errorf("query %q: %w", cond.Field, ErrUnknownField)
		}
		switch cond.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		default:
			return "", nil, fmt.Errorf("query %q: unsupported operator %q", cond.Field, cond.Op)
		}
		v, err := s.bind(f, cond.Value)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, fmt.Sprintf("%s %s %s", f.Name, cond.Op, s.dialect.placeholder(i+1)))
		args = append(args, v)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// bind converts a document or query value into the column's Go type.
func (s *sqlDocStore) bind(f Field, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case TextField:
		switch t := v.(type) {
		case string:
			return t, nil
		case fmt.Stringer:
			return t.String(), nil
		default:
			return fmt.Sprint(t), nil
		}
	case RealField:
		return toFloat(f.Name, v)
	case IntField:
		fv, err := toFloat(f.Name, v)
		if err != nil {
			return nil, err
		}
		return int64(math.Round(fv)), nil
	case TimeField:
		var t time.Time
		switch tv := v.(type) {
		case time.Time:
			t = tv
		case *time.Time:
			if tv == nil {
				return nil, nil
			}
			t = *tv
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, tv)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			t = parsed
		default:
			return nil, fmt.Errorf("field %q: cannot use %T as time", f.Name, v)
		}
		return s.dialect.bindTime(t.UTC()), nil
	}
	return nil, fmt.Errorf("field %q: unknown type %d", f.Name, f.Type)
}

func toFloat(name string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	}
	return 0, fmt.Errorf("field %q: cannot use %T as number", name, v)
}

func checkMatch(c Collection, match Fields) error {
	if len(match) != len(c.Unique) {
		return ErrInvalidMatch
	}
	for _, f := range c.Unique {
		v, ok := match[f.Name]
		if !ok || v == nil {
			return fmt.Errorf("%w: missing %q", ErrInvalidMatch, f.Name)
		}
	}
	return nil
}

// project serializes doc with the match values written over its keys and
// returns the stored body plus its top-level fields.
func project(doc interface{}, match Fields) ([]byte, map[string]interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal document: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	fields := make(map[string]interface{})
	if err := dec.Decode(&fields); err != nil {
		return nil, nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	for k, v := range match {
		fields[k] = v
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal document: %w", err)
	}
	return body, fields, nil
}

func fieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
