package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romangod6/listing-harvester/internal/identity"
	"github.com/romangod6/listing-harvester/internal/models"
)

func TestSummarize(t *testing.T) {
	offers := []models.DealerListing{
		{Dealer: "a", Price: 500, InStock: true},
		{Dealer: "b", Price: 600, InStock: true},
		{Dealer: "c", Price: 400, InStock: false},
		{Dealer: "d", Price: 0, InStock: true},
		{Dealer: "e", Price: 700, InStock: true},
		{Dealer: "f", Price: 550, InStock: true},
	}
	s := Summarize(offers)
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 587.5, s.Average, 1e-9)
	assert.InDelta(t, 575.0, s.Median, 1e-9)
	assert.Equal(t, 500.0, s.Min)
	assert.Equal(t, 700.0, s.Max)

	assert.Equal(t, models.PriceSummary{}, Summarize(nil))
	assert.Equal(t, models.PriceSummary{}, Summarize([]models.DealerListing{{Price: 10}}))
}

func TestAnalyze(t *testing.T) {
	market := models.MarketPrice{ItemHash: "h", ItemType: models.ItemFirearm, Summary: models.PriceSummary{Median: 1000, Average: 980}}
	tests := []struct {
		price float64
		want  models.PriceVerdict
		pct   float64
	}{
		{1200, models.VerdictOverpriced, 20},
		{850, models.VerdictUnderpriced, -15},
		{1050, models.VerdictFair, 5},
		{910, models.VerdictFair, -9},
	}
	for _, tt := range tests {
		pa := Analyze(tt.price, market)
		assert.Equal(t, tt.want, pa.Status, "price %v", tt.price)
		assert.InDelta(t, tt.pct, pa.PriceDifferencePc, 1e-9)
		assert.Equal(t, tt.price-1000, pa.PriceDifference)
		assert.Equal(t, 980.0, pa.MarketAverage)
		assert.Equal(t, "h", pa.ItemHash)
	}

	noData := Analyze(500, models.MarketPrice{})
	assert.Equal(t, models.VerdictNoData, noData.Status)
	assert.Zero(t, noData.PriceDifferencePc)
}

type countingSearcher struct {
	calls  atomic.Int32
	offers map[string][]models.DealerListing
}

func (s *countingSearcher) Search(ctx context.Context, item models.Item) ([]models.DealerListing, error) {
	s.calls.Add(1)
	offers, ok := s.offers[item.Model]
	if !ok {
		return nil, errors.New("search engine unavailable")
	}
	return offers, nil
}

func glockOffers() []models.DealerListing {
	return []models.DealerListing{
		{Dealer: "GunBroker", Price: 500, InStock: true},
		{Dealer: "Guns.com", Price: 600, InStock: true},
	}
}

func TestResolveCachesSearches(t *testing.T) {
	ctx := context.Background()
	clk := newClock(epoch)
	g := newTestGateway(t)
	cache, err := NewCache(g, 8, WithCacheClock(clk.Now))
	require.NoError(t, err)
	searcher := &countingSearcher{offers: map[string][]models.DealerListing{"19": glockOffers()}}
	svc := NewService(cache, searcher, g, nil, 7)

	item := models.Item{ItemType: models.ItemFirearm, Manufacturer: "Glock", Model: "19", Caliber: "9mm"}
	mp, err := svc.Resolve(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, identity.Hash(item), mp.ItemHash)
	assert.Equal(t, 550.0, mp.Summary.Median)
	assert.True(t, epoch.Equal(mp.LastUpdated))

	_, err = svc.Resolve(ctx, models.Item{ItemType: models.ItemFirearm, Manufacturer: " GLOCK ", Model: "19", Caliber: "9MM"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), searcher.calls.Load(), "normalized identity hits the cache")

	clk.Advance(days(8))
	_, err = svc.Resolve(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, int32(2), searcher.calls.Load(), "stale entry is refreshed")

	stored, err := g.GetMarketPrice(ctx, identity.Hash(item), models.ItemFirearm)
	require.NoError(t, err)
	assert.True(t, epoch.Add(days(8)).Equal(stored.LastUpdated))
}

func TestAnalyzeSession(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)
	cache, err := NewCache(g, 0, WithCacheClock(newClock(epoch).Now))
	require.NoError(t, err)
	searcher := &countingSearcher{offers: map[string][]models.DealerListing{"19": glockOffers()}}
	svc := NewService(cache, searcher, g, nil, 7)

	glock := models.Item{ItemType: models.ItemFirearm, Manufacturer: "Glock", Model: "19"}
	_, _, err = g.SaveListings(ctx, "s1", []models.ListingRecord{
		{Title: "cheap glock", Price: 400, ListingURL: "https://shop/1", Items: []models.Item{
			glock,
			{ItemType: models.ItemMagazine, Manufacturer: "Glock", Model: "G19", Capacity: 15},
		}},
		{Title: "glock inquire", Price: 0, ListingURL: "https://shop/2", Items: []models.Item{glock}},
		{Title: "mystery", Price: 300, ListingURL: "https://shop/3", Items: []models.Item{{ItemType: models.ItemFirearm, Model: "unknown"}}},
		{Title: "rare", Price: 900, ListingURL: "https://shop/4", Items: []models.Item{{ItemType: models.ItemFirearm, Manufacturer: "Walther", Model: "PPK"}}},
		{Title: "fair glock", Price: 560, ListingURL: "https://shop/5", Items: []models.Item{glock}},
	})
	require.NoError(t, err)

	report, err := svc.AnalyzeSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, Report{Listings: 5, Analyzed: 2, Skipped: 3, Failed: 1}, report)

	analyses, err := g.ItemAnalyses(ctx, identity.Hash(glock))
	require.NoError(t, err)
	require.Len(t, analyses, 2)
	byURL := map[string]models.PriceAnalysis{}
	for _, pa := range analyses {
		byURL[pa.ListingURL] = pa
	}
	assert.Equal(t, models.VerdictUnderpriced, byURL["https://shop/1"].Status)
	assert.Equal(t, models.VerdictFair, byURL["https://shop/5"].Status)

	// rerunning converges on the same analyses
	_, err = svc.AnalyzeSession(ctx, "s1")
	require.NoError(t, err)
	analyses, err = g.ItemAnalyses(ctx, identity.Hash(glock))
	require.NoError(t, err)
	assert.Len(t, analyses, 2)
}

func TestRemoteSearcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "market_prices", req["schema"])
		assert.True(t, strings.Contains(req["prompt"], "Glock 19 firearm in 9mm"), req["prompt"])
		w.Write([]byte(`{"result":{"listings":[{"dealer":"GunBroker","price":499.99,"in_stock":true,"url":"https://gb/1"}]}}`))
	}))
	defer srv.Close()

	offers, err := NewRemoteSearcher(srv.URL, nil).Search(context.Background(),
		models.Item{ItemType: models.ItemFirearm, Manufacturer: "Glock", Model: "19", Caliber: "9mm"})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, 499.99, offers[0].Price)
	assert.True(t, offers[0].InStock)
}

func TestRemoteSearcherStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewRemoteSearcher(srv.URL, nil).Search(context.Background(), models.Item{Model: "19"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
