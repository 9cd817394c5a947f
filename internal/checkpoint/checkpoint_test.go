package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romangod6/listing-harvester/internal/models"
	"github.com/romangod6/listing-harvester/internal/storage"
)

func intPtr(n int) *int { return &n }

func TestResume(t *testing.T) {
	tests := []struct {
		name      string
		rec       *models.RunRecord
		wantStart int
		wantOK    bool
	}{
		{"no record", nil, 1, false},
		{"started", &models.RunRecord{Status: models.StatusStarted, LastCompletedPage: intPtr(3)}, 1, false},
		{"completed", &models.RunRecord{Status: models.StatusCompleted, LastCompletedPage: intPtr(9)}, 1, false},
		{"failed before any page", &models.RunRecord{Status: models.StatusFailed}, 1, false},
		{"failed after page 4", &models.RunRecord{Status: models.StatusFailed, LastCompletedPage: intPtr(4)}, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, ok := Resume(tt.rec)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func sampleRecord(key string) *models.RunRecord {
	rec := models.NewRunRecord(key, "session-1", "https://shop.example.test/guns", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec.Status = models.StatusFailed
	rec.LastCompletedPage = intPtr(2)
	rec.Error = &models.RunError{Type: "interrupted", Message: "context canceled"}
	rec.Data = &models.PageSet{
		NumPages: 5,
		Pages: []models.Page{
			{PageNumber: 1, Outcome: models.PageOK, Attempts: 1, Records: &models.PageRecords{Listings: []models.ListingRecord{{Title: "a", ListingURL: "u1"}}}},
			{PageNumber: 2, Outcome: models.PageEmpty, Attempts: 3, Records: &models.PageRecords{}},
		},
	}
	return rec
}

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFileStore(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)

	db, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "harvester.db"))
	require.NoError(t, err)
	require.NoError(t, db.Initialize(context.Background()))
	g := storage.NewGateway(db)
	t.Cleanup(func() { g.Close() })

	return map[string]Store{
		"file":    fs,
		"gateway": NewGatewayStore(g),
	}
}

func TestStoresRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			missing, err := store.Load(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			rec := sampleRecord("shop/guns")
			require.NoError(t, store.Save(ctx, rec))

			got, err := store.Load(ctx, "shop/guns")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, rec.SessionID, got.SessionID)
			assert.Equal(t, models.StatusFailed, got.Status)
			require.NotNil(t, got.LastCompletedPage)
			assert.Equal(t, 2, *got.LastCompletedPage)
			assert.Equal(t, "interrupted", got.Error.Type)
			require.Len(t, got.Data.Pages, 2)
			assert.Equal(t, 1, got.Data.Pages[0].ListingCount())
			assert.True(t, rec.StartTime.Equal(got.StartTime))

			start, ok := Resume(got)
			assert.True(t, ok)
			assert.Equal(t, 3, start)
		})
	}
}

func TestStoresOverwrite(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord("k")
			require.NoError(t, store.Save(ctx, rec))

			rec.Status = models.StatusCompleted
			rec.LastCompletedPage = intPtr(5)
			rec.Error = nil
			require.NoError(t, store.Save(ctx, rec))

			got, err := store.Load(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, got.Status)
			assert.Equal(t, 5, *got.LastCompletedPage)
			assert.Nil(t, got.Error)
		})
	}
}

func TestStoresRejectMissingKey(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.Save(ctx, nil))
			assert.Error(t, store.Save(ctx, &models.RunRecord{}))
		})
	}
}

func TestFileStoreKeepsKeysApart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.Save(ctx, sampleRecord("Shop/Guns")))
	require.NoError(t, fs.Save(ctx, sampleRecord("shop guns")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, ".json", filepath.Ext(e.Name()))
	}
}

func TestFileStoreCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName("bad")), []byte("{not json"), 0644))

	_, err = fs.Load(context.Background(), "bad")
	assert.Error(t, err)
}

func TestFileStoreCancelledSave(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fs.Save(ctx, sampleRecord("k")), context.Canceled)
	assert.NoError(t, fs.Save(context.WithoutCancel(ctx), sampleRecord("k")))
}
