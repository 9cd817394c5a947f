package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// sqliteTimeLayout is fixed width so that stored times compare lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	*sqlDocStore
}

// NewSQLiteStore opens the database file at dbPath. With no collections the
// harvester's own collections are registered.
func NewSQLiteStore(dbPath string, collections ...Collection) (*SQLiteStore, error) {
	if len(collections) == 0 {
		collections = Collections()
	}

	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	if isMemory(dbPath) {
		// each connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrap(sqliteDialect{}, "open", "", err)
	}

	return &SQLiteStore{sqlDocStore: newSQLDocStore(db, sqliteDialect{}, collections)}, nil
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

func sqliteDSN(dbPath string) string {
	if isMemory(dbPath) {
		return dbPath
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_journal_mode=WAL&_busy_timeout=5000"
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite3" }

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) columnType(t FieldType) string {
	switch t {
	case RealField:
		return "REAL"
	case IntField:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) docType() string { return "TEXT" }

func (sqliteDialect) bindTime(t time.Time) interface{} {
	return t.Format(sqliteTimeLayout)
}

func (sqliteDialect) limit(limit, skip int) string {
	switch {
	case limit > 0 && skip > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, skip)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case skip > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", skip)
	}
	return ""
}

func (sqliteDialect) classify(err error) (ErrorKind, bool) {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return "", false
	}
	switch se.Code {
	case sqlite3.ErrConstraint:
		return KindConflict, true
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrFull:
		return KindUnavailable, true
	case sqlite3.ErrMismatch, sqlite3.ErrRange, sqlite3.ErrTooBig:
		return KindInvalid, true
	case sqlite3.ErrError:
		// syntax errors and missing tables
		return KindInternal, true
	}
	return "", false
}
