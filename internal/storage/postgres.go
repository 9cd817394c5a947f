package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

type PostgresStore struct {
	*sqlDocStore
}

// NewPostgresStore connects with a lib/pq connection string. With no
// collections the harvester's own collections are registered.
func NewPostgresStore(connStr string, collections ...Collection) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrap(postgresDialect{}, "open", "", err)
	}

	return newPostgresStore(db, collections...), nil
}

func newPostgresStore(db *sql.DB, collections ...Collection) *PostgresStore {
	if len(collections) == 0 {
		collections = Collections()
	}
	return &PostgresStore{sqlDocStore: newSQLDocStore(db, postgresDialect{}, collections)}
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) columnType(t FieldType) string {
	switch t {
	case RealField:
		return "DOUBLE PRECISION"
	case IntField:
		return "BIGINT"
	case TimeField:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (postgresDialect) docType() string { return "JSONB" }

func (postgresDialect) bindTime(t time.Time) interface{} { return t }

func (postgresDialect) limit(limit, skip int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if skip > 0 {
		fmt.Fprintf(&b, " OFFSET %d", skip)
	}
	return b.String()
}

func (postgresDialect) classify(err error) (ErrorKind, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}
	switch pqErr.Code.Class() {
	case "23": // integrity_constraint_violation
		return KindConflict, true
	case "08", "53", "57": // connection, resources, operator intervention
		return KindUnavailable, true
	case "22": // data_exception
		return KindInvalid, true
	case "40": // transaction_rollback
		return KindConflict, true
	}
	return KindInternal, true
}
