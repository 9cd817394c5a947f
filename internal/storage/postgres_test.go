package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return newPostgresStore(mockDB, widgets), mock
}

func TestPostgresInitialize(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS widgets")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE UNIQUE INDEX IF NOT EXISTS ux_widgets ON widgets(sku, region)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_widgets_price ON widgets(price)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_widgets_stock ON widgets(stock)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_widgets_seen_at ON widgets(seen_at)")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Initialize(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSchemaTypes(t *testing.T) {
	store, _ := newMockPostgres(t)
	ddl := store.schema(widgets)[0]

	assert.Contains(t, ddl, "price DOUBLE PRECISION")
	assert.Contains(t, ddl, "stock BIGINT")
	assert.Contains(t, ddl, "seen_at TIMESTAMPTZ")
	assert.Contains(t, ddl, "doc JSONB NOT NULL")
}

func TestPostgresUpsert(t *testing.T) {
	store, mock := newMockPostgres(t)
	seen := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO widgets (sku, region, price, stock, seen_at, doc) VALUES ($1, $2, $3, $4, $5, $6) " +
			"ON CONFLICT (sku, region) DO UPDATE SET price = excluded.price, stock = excluded.stock, " +
			"seen_at = excluded.seen_at, doc = excluded.doc",
	)).
		WithArgs("a-1", "us", 10.5, int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Upsert(context.Background(), "widgets", Fields{"sku": "a-1", "region": "us"},
		widget{SKU: "a-1", Region: "us", Price: 10.5, Stock: 3, SeenAt: seen})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFind(t *testing.T) {
	store, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"doc"}).
		AddRow([]byte(`{"sku":"b","region":"us","price":20}`)).
		AddRow([]byte(`{"sku":"a","region":"us","price":10}`))
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT doc FROM widgets WHERE region = $1 AND price >= $2 ORDER BY price DESC LIMIT 2 OFFSET 1",
	)).
		WithArgs("us", 5.0).
		WillReturnRows(rows)

	cur, err := store.Find(context.Background(), "widgets", Where(Eq("region", "us"), Gte("price", 5)), FindOptions{
		Sort:  []SortField{{Field: "price", Desc: true}},
		Limit: 2,
		Skip:  1,
	})
	require.NoError(t, err)
	got, err := All[widget](cur)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].SKU)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		code pq.ErrorCode
		want error
	}{
		{"unique violation", "23505", ErrConflict},
		{"serialization failure", "40001", ErrConflict},
		{"connection failure", "08006", ErrUnavailable},
		{"admin shutdown", "57P01", ErrUnavailable},
		{"invalid text", "22P02", ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockPostgres(t)
			mock.ExpectExec("DELETE FROM widgets").WillReturnError(&pq.Error{Code: tt.code, Message: tt.name})

			_, err := store.Delete(context.Background(), "widgets", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var pqErr *pq.Error
			assert.ErrorAs(t, err, &pqErr)
		})
	}
}

func TestPostgresCount(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM widgets WHERE sku = $1")).
		WithArgs("a-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	n, err := store.Count(context.Background(), "widgets", Where(Eq("sku", "a-1")))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
