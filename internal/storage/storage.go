package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// FieldType is the column type a projected document field is stored as.
type FieldType int

const (
	TextField FieldType = iota
	RealField
	IntField
	TimeField
)

// Field is a top-level document key projected into its own column.
type Field struct {
	Name string
	Type FieldType
}

// Collection declares a document collection: a unique key that upserts
// match on, plus non-unique secondary indexes.
type Collection struct {
	Name    string
	Unique  []Field
	Indexes []Field
}

func (c Collection) columns() []Field {
	cols := make([]Field, 0, len(c.Unique)+len(c.Indexes))
	cols = append(cols, c.Unique...)
	return append(cols, c.Indexes...)
}

func (c Collection) field(name string) (Field, bool) {
	for _, f := range c.columns() {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Fields maps document keys to values.
type Fields map[string]interface{}

// Op is a comparison operator usable in a Query.
type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "<>"
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Cond compares one projected field against a value.
type Cond struct {
	Field string
	Op    Op
	Value interface{}
}

func Eq(field string, v interface{}) Cond  { return Cond{Field: field, Op: OpEq, Value: v} }
func Gte(field string, v interface{}) Cond { return Cond{Field: field, Op: OpGte, Value: v} }
func Lte(field string, v interface{}) Cond { return Cond{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v interface{}) Cond  { return Cond{Field: field, Op: OpGt, Value: v} }
func Lt(field string, v interface{}) Cond  { return Cond{Field: field, Op: OpLt, Value: v} }

// Query is a conjunction of conditions. The empty query matches everything.
type Query []Cond

// Where builds a query from conditions.
func Where(conds ...Cond) Query {
	return Query(conds)
}

// SortField orders results by a projected field.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions controls ordering and paging of Find.
type FindOptions struct {
	Sort  []SortField
	Limit int
	Skip  int
}

// DocumentStore is the document-oriented persistence primitive. Upserts are
// idempotent: applying the same document twice leaves the store as applying
// it once.
type DocumentStore interface {
	Initialize(ctx context.Context) error
	Close() error

	// Upsert replaces the document whose unique key equals match, or inserts
	// it. match must name exactly the collection's unique key fields.
	Upsert(ctx context.Context, collection string, match Fields, doc interface{}) error
	// Find returns a lazy cursor over matching documents. Each call starts a
	// fresh iteration.
	Find(ctx context.Context, collection string, query Query, opts FindOptions) (*Cursor, error)
	// FindOne decodes the first match into v and reports whether one existed.
	FindOne(ctx context.Context, collection string, query Query, opts FindOptions, v interface{}) (bool, error)
	Count(ctx context.Context, collection string, query Query) (int64, error)
	Delete(ctx context.Context, collection string, query Query) (int64, error)
}

// Cursor iterates documents of a Find call. It is not safe for concurrent use.
type Cursor struct {
	collection string
	rows       rowScanner
	current    []byte
	err        error
	closed     bool
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

// Next advances to the next document.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		c.Close()
		return false
	}
	var raw []byte
	if err := c.rows.Scan(&raw); err != nil {
		c.err = err
		c.Close()
		return false
	}
	c.current = raw
	return true
}

// Decode unmarshals the current document into v.
func (c *Cursor) Decode(v interface{}) error {
	if c.current == nil {
		return fmt.Errorf("storage: decode %s: no current document", c.collection)
	}
	if err := json.Unmarshal(c.current, v); err != nil {
		return fmt.Errorf("storage: decode %s: %w", c.collection, err)
	}
	return nil
}

// Raw returns the current document bytes.
func (c *Cursor) Raw() json.RawMessage {
	return json.RawMessage(c.current)
}

// Err returns the first iteration error.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the underlying rows. It is safe to call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

// All drains the cursor into a slice and closes it.
func All[T any](c *Cursor) ([]T, error) {
	defer c.Close()

	var out []T
	for c.Next() {
		var v T
		if err := c.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
