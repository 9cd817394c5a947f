package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/romangod6/listing-harvester/internal/identity"
	"github.com/romangod6/listing-harvester/internal/models"
	"github.com/romangod6/listing-harvester/internal/storage"
	"github.com/romangod6/listing-harvester/internal/utils"
)

// FairBandPercent is the distance from the market median, in percent,
// inside which a price counts as fair.
const FairBandPercent = 10.0

// Service resolves market prices through the cache and analyzes listings
// against them.
type Service struct {
	cache      *Cache
	searcher   MarketSearcher
	gateway    *storage.Gateway
	logger     utils.Logger
	maxAgeDays int
	now        func() time.Time
}

func NewService(cache *Cache, searcher MarketSearcher, g *storage.Gateway, logger utils.Logger, maxAgeDays int) *Service {
	if logger == nil {
		logger = utils.NewNop()
	}
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultMaxAgeDays
	}
	return &Service{
		cache:      cache,
		searcher:   searcher,
		gateway:    g,
		logger:     logger,
		maxAgeDays: maxAgeDays,
		now:        cache.now,
	}
}

// Resolve returns a fresh market price for the item, searching the market
// and caching the result on a miss.
func (s *Service) Resolve(ctx context.Context, item models.Item) (*models.MarketPrice, error) {
	hash := identity.Hash(item)
	if mp, ok, err := s.cache.Get(ctx, hash, item.ItemType, s.maxAgeDays); err != nil {
		return nil, fmt.Errorf("read market price: %w", err)
	} else if ok {
		return mp, nil
	}

	offers, err := s.searcher.Search(ctx, item)
	if err != nil {
		return nil, err
	}

	mp := models.MarketPrice{
		ItemHash:     hash,
		ItemType:     item.ItemType,
		Manufacturer: item.Manufacturer,
		Model:        item.Model,
		Caliber:      item.Caliber,
		Listings:     offers,
		Summary:      Summarize(offers),
		LastUpdated:  s.now().UTC(),
	}
	if err := s.cache.Put(ctx, mp); err != nil {
		return nil, fmt.Errorf("cache market price: %w", err)
	}
	return &mp, nil
}

// Summarize aggregates in-stock offers with a positive price.
func Summarize(offers []models.DealerListing) models.PriceSummary {
	var prices []float64
	for _, o := range offers {
		if o.InStock && o.Price > 0 {
			prices = append(prices, o.Price)
		}
	}
	if len(prices) == 0 {
		return models.PriceSummary{}
	}
	sort.Float64s(prices)

	var sum float64
	for _, p := range prices {
		sum += p
	}
	return models.PriceSummary{
		Count:   len(prices),
		Average: sum / float64(len(prices)),
		Median:  Median(prices),
		Min:     prices[0],
		Max:     prices[len(prices)-1],
	}
}

// Median of sorted values; the mean of the middle pair for even counts.
func Median(sorted []float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 1:
		return sorted[n/2]
	default:
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
}

// Analyze compares a listing price with the market median.
func Analyze(listingPrice float64, market models.MarketPrice) models.PriceAnalysis {
	pa := models.PriceAnalysis{
		ItemHash:      market.ItemHash,
		ItemType:      market.ItemType,
		ListingPrice:  listingPrice,
		MarketMedian:  market.Summary.Median,
		MarketAverage: market.Summary.Average,
	}
	if market.Summary.Median == 0 {
		pa.Status = models.VerdictNoData
		return pa
	}

	pa.PriceDifference = listingPrice - market.Summary.Median
	pa.PriceDifferencePc = pa.PriceDifference / market.Summary.Median * 100
	switch {
	case pa.PriceDifferencePc > FairBandPercent:
		pa.Status = models.VerdictOverpriced
	case pa.PriceDifferencePc < -FairBandPercent:
		pa.Status = models.VerdictUnderpriced
	default:
		pa.Status = models.VerdictFair
	}
	return pa
}

// Report counts what AnalyzeSession did.
type Report struct {
	Listings int `json:"listings"`
	Analyzed int `json:"analyzed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// AnalyzeSession prices every identified firearm on the session's priced
// listings. Failures are logged per item and do not stop the pass.
func (s *Service) AnalyzeSession(ctx context.Context, sessionID string) (Report, error) {
	var report Report

	cur, err := s.gateway.SessionListings(ctx, sessionID, storage.Page{})
	if err != nil {
		return report, err
	}
	// drain before writing so the read cursor never overlaps upserts
	listings, err := storage.All[models.ListingRecord](cur)
	if err != nil {
		return report, err
	}
	report.Listings = len(listings)

	log := s.logger.With(utils.String("session_id", sessionID))
	for _, l := range listings {
		for _, item := range l.Items {
			if item.ItemType != models.ItemFirearm || !item.Known() || !l.Priced() {
				report.Skipped++
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}

			itemLog := log.With(
				utils.String("manufacturer", item.Manufacturer),
				utils.String("model", item.Model),
				utils.String("listing_url", l.ListingURL))

			market, err := s.Resolve(ctx, item)
			if err != nil {
				report.Failed++
				itemLog.Error("market price lookup failed", utils.Err(err))
				continue
			}

			pa := Analyze(l.Price, *market)
			pa.ListingURL = l.ListingURL
			pa.AnalyzedAt = s.now().UTC()
			if err := s.gateway.SavePriceAnalysis(ctx, pa); err != nil {
				report.Failed++
				itemLog.Error("failed to save price analysis", utils.Err(err))
				continue
			}
			report.Analyzed++
			itemLog.Info("analyzed listing price",
				utils.String("status", string(pa.Status)),
				utils.Float64("market_median", pa.MarketMedian),
				utils.Float64("difference_percent", pa.PriceDifferencePc))
		}
	}
	return report, nil
}
