package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romangod6/listing-harvester/config"
	"github.com/romangod6/listing-harvester/internal/identity"
	"github.com/romangod6/listing-harvester/internal/metrics"
	"github.com/romangod6/listing-harvester/internal/models"
	"github.com/romangod6/listing-harvester/internal/storage"
)

const (
	sessionA = "5f0c6c1e-8f3e-4a57-9a49-0a4cc7f3a001"
	sessionB = "5f0c6c1e-8f3e-4a57-9a49-0a4cc7f3a002"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLauncher struct {
	mu      sync.Mutex
	targets []config.Target
	err     error
}

func (f *fakeLauncher) Launch(target config.Target) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.targets = append(f.targets, target)
	return target.RootURL, nil
}

var glock = models.Item{ItemType: models.ItemFirearm, Manufacturer: "Glock", Model: "19", Caliber: "9mm"}

func newTestServer(t *testing.T, launcher CrawlLauncher) (*Server, *storage.Gateway) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "harvester.db"))
	require.NoError(t, err)
	require.NoError(t, db.Initialize(ctx))
	g := storage.NewGateway(db)
	t.Cleanup(func() { g.Close() })

	start := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, g.SaveSession(ctx, models.Session{ID: sessionA, RootURL: "https://shop.test", StartTime: start, Status: models.StatusCompleted}))
	require.NoError(t, g.SaveSession(ctx, models.Session{ID: sessionB, RootURL: "https://shop.test", StartTime: start.Add(time.Hour), Status: models.StatusFailed}))

	var listings []models.ListingRecord
	for _, u := range []string{"https://shop.test/1", "https://shop.test/2", "https://shop.test/3"} {
		listings = append(listings, models.ListingRecord{Title: "Glock 19", Price: 500, ListingURL: u, Items: []models.Item{glock}})
	}
	_, _, err = g.SaveListings(ctx, sessionA, listings)
	require.NoError(t, err)

	require.NoError(t, g.SaveMarketPrice(ctx, models.MarketPrice{
		ItemHash: identity.Hash(glock), ItemType: models.ItemFirearm, Manufacturer: "Glock", Model: "19",
		Summary: models.PriceSummary{Count: 2, Median: 550, Average: 550}, LastUpdated: start,
	}))
	require.NoError(t, g.SavePriceAnalysis(ctx, models.PriceAnalysis{
		ItemHash: identity.Hash(glock), ItemType: models.ItemFirearm, ListingURL: "https://shop.test/1",
		ListingPrice: 500, MarketMedian: 550, Status: models.VerdictFair, AnalyzedAt: start,
	}))

	m := metrics.New()
	m.IncRun("completed")
	return NewServer(0, NewHandler(g, launcher, nil), m.Handler()), g
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestListSessions(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/sessions?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data       []models.Session `json:"data"`
		Page       int              `json:"page"`
		Limit      int              `json:"limit"`
		TotalCount int64            `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Limit)
	assert.EqualValues(t, 2, resp.TotalCount)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, sessionB, resp.Data[0].ID, "newest first")
}

func TestGetSession(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/sessions/"+sessionA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusCompleted, decode[models.Session](t, rec).Status)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/sessions/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/sessions/5f0c6c1e-8f3e-4a57-9a49-0a4cc7f3a0ff", nil).Code)
}

func TestLatestSession(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/sessions/latest?root_url=https://shop.test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sessionB, decode[models.Session](t, rec).ID)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/sessions/latest", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/sessions/latest?root_url=https://other.test", nil).Code)
}

func TestSessionListingsPaginates(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/sessions/"+sessionA+"/listings?page=2&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data       []models.ListingRecord `json:"data"`
		TotalCount int64                  `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 3, resp.TotalCount)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "https://shop.test/3", resp.Data[0].ListingURL)
	assert.Equal(t, identity.Hash(glock), resp.Data[0].Items[0].ItemHash)
}

func TestSessionStatisticsMissing(t *testing.T) {
	s, g := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/sessions/"+sessionA+"/statistics", nil).Code)

	require.NoError(t, g.SaveStatistics(context.Background(), models.Statistics{
		SessionID: sessionA, Type: "listing_analysis", Payload: map[string]int{"total": 3},
	}))
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/sessions/"+sessionA+"/statistics", nil).Code)
}

func TestItemRoutes(t *testing.T) {
	s, _ := newTestServer(t, nil)
	hash := identity.Hash(glock)

	rec := do(t, s, http.MethodGet, "/api/items/"+hash+"/listings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]storage.ListingItem](t, rec), 3)

	rec = do(t, s, http.MethodGet, "/api/items/"+hash+"/analyses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	analyses := decode[[]models.PriceAnalysis](t, rec)
	require.Len(t, analyses, 1)
	assert.Equal(t, models.VerdictFair, analyses[0].Status)

	rec = do(t, s, http.MethodGet, "/api/prices/firearm/"+hash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 550.0, decode[models.MarketPrice](t, rec).Summary.Median)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/prices/magazine/"+hash, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/prices/gun/"+hash, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/items/xyz/listings", nil).Code)
}

func TestStartCrawl(t *testing.T) {
	launcher := &fakeLauncher{}
	s, _ := newTestServer(t, launcher)

	rec := do(t, s, http.MethodPost, "/api/crawls", CrawlRequest{
		RootURL:         "https://shop.test/guns.html",
		PageURLTemplate: "https://shop.test/guns/{page}.html",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, launcher.targets, 1)
	assert.Equal(t, "https://shop.test/guns.html", launcher.targets[0].Name)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/crawls", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/crawls", CrawlRequest{
		RootURL: "https://shop.test", PageURLTemplate: "https://shop.test/page",
	}).Code)

	launcher.err = ErrCrawlRunning
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/crawls", CrawlRequest{RootURL: "https://shop.test"}).Code)

	launcher.err = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodPost, "/api/crawls", CrawlRequest{RootURL: "https://shop.test"}).Code)
}

func TestStartCrawlDisabled(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodPost, "/api/crawls", CrawlRequest{RootURL: "https://shop.test"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnavailableStore(t *testing.T) {
	s, g := newTestServer(t, nil)
	require.NoError(t, g.Close())
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/sessions", nil).Code)
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "harvester_runs_total")
}
