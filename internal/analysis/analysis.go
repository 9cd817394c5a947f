// Package analysis computes descriptive statistics over a session's listings.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/romangod6/listing-harvester/internal/models"
	"github.com/romangod6/listing-harvester/internal/storage"
)

// StatisticsType is the statistics document type written per session.
const StatisticsType = "listing_analysis"

const topN = 10

// PriceRange counts priced listings within (Low, High]. High 0 is unbounded.
type PriceRange struct {
	Label string  `json:"label"`
	Low   float64 `json:"low"`
	High  float64 `json:"high,omitempty"`
	Count int     `json:"count"`
}

var priceBands = []PriceRange{
	{Label: "0-500", Low: 0, High: 500},
	{Label: "501-1000", Low: 500, High: 1000},
	{Label: "1001-2000", Low: 1000, High: 2000},
	{Label: "2001+", Low: 2000},
}

type PriceStats struct {
	Count  int          `json:"count"`
	Mean   float64      `json:"mean"`
	Median float64      `json:"median"`
	StdDev float64      `json:"std_dev"`
	Min    float64      `json:"min"`
	Max    float64      `json:"max"`
	Ranges []PriceRange `json:"price_ranges"`
}

// Counted is one value and how often it occurred.
type Counted struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type ItemStats struct {
	TopManufacturers []Counted `json:"top_manufacturers"`
	TopModels        []Counted `json:"top_models"`
	TopCalibers      []Counted `json:"top_calibers"`
	Conditions       []Counted `json:"conditions"`
}

// Bucket counts listings that have exactly N of something.
type Bucket struct {
	N     int `json:"n"`
	Count int `json:"count"`
}

type ListingStats struct {
	TotalListings        int      `json:"total_listings"`
	ListingsWithFirearms int      `json:"listings_with_firearms"`
	FirearmsPerListing   []Bucket `json:"firearms_per_listing"`
	ImagesPerListing     []Bucket `json:"images_per_listing"`
}

type Report struct {
	Price    PriceStats   `json:"price_stats"`
	Items    ItemStats    `json:"item_stats"`
	Listings ListingStats `json:"listing_stats"`
}

// Compute derives price, item and listing statistics. Zero prices mean
// "inquire" and are left out of the price statistics.
func Compute(listings []models.ListingRecord) Report {
	return Report{
		Price:    priceStats(listings),
		Items:    itemStats(listings),
		Listings: listingStats(listings),
	}
}

func priceStats(listings []models.ListingRecord) PriceStats {
	var prices []float64
	for _, l := range listings {
		if l.Priced() {
			prices = append(prices, l.Price)
		}
	}

	ps := PriceStats{Count: len(prices), Ranges: make([]PriceRange, len(priceBands))}
	copy(ps.Ranges, priceBands)
	if len(prices) == 0 {
		return ps
	}
	sort.Float64s(prices)

	var sum float64
	for _, p := range prices {
		sum += p
		for i := range ps.Ranges {
			r := &ps.Ranges[i]
			if p > r.Low && (r.High == 0 || p <= r.High) {
				r.Count++
				break
			}
		}
	}
	mean := sum / float64(len(prices))

	ps.Mean = round2(mean)
	ps.Median = round2(median(prices))
	ps.StdDev = round2(stdDev(prices, mean))
	ps.Min = prices[0]
	ps.Max = prices[len(prices)-1]
	return ps
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// stdDev is the sample standard deviation; zero below two values.
func stdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type counter map[string]int

func (c counter) add(v string) {
	if v != "" {
		c[v]++
	}
}

// top returns the n most frequent values, ties ordered by value. n <= 0
// returns all of them.
func (c counter) top(n int) []Counted {
	out := make([]Counted, 0, len(c))
	for v, cnt := range c {
		out = append(out, Counted{Value: v, Count: cnt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func itemStats(listings []models.ListingRecord) ItemStats {
	manufacturers, modelNames, calibers, conditions := counter{}, counter{}, counter{}, counter{}
	for _, l := range listings {
		for _, item := range l.Items {
			if item.ItemType != models.ItemFirearm {
				continue
			}
			manufacturers.add(item.Manufacturer)
			modelNames.add(item.Model)
			calibers.add(item.Caliber)
			conditions.add(item.Condition)
		}
	}
	return ItemStats{
		TopManufacturers: manufacturers.top(topN),
		TopModels:        modelNames.top(topN),
		TopCalibers:      calibers.top(topN),
		Conditions:       conditions.top(0),
	}
}

func buckets(counts map[int]int) []Bucket {
	out := make([]Bucket, 0, len(counts))
	for n, cnt := range counts {
		out = append(out, Bucket{N: n, Count: cnt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].N < out[j].N
	})
	return out
}

func listingStats(listings []models.ListingRecord) ListingStats {
	firearms, images := map[int]int{}, map[int]int{}
	ls := ListingStats{TotalListings: len(listings)}
	for _, l := range listings {
		n := 0
		for _, item := range l.Items {
			if item.ItemType == models.ItemFirearm {
				n++
			}
		}
		if n > 0 {
			ls.ListingsWithFirearms++
		}
		firearms[n]++
		images[len(l.ImageURLs)]++
	}
	ls.FirearmsPerListing = buckets(firearms)
	ls.ImagesPerListing = buckets(images)
	return ls
}

// ComputeSession computes the report for a session's stored listings and
// saves it to the statistics collection.
func ComputeSession(ctx context.Context, g *storage.Gateway, sessionID string, now time.Time) (Report, error) {
	cur, err := g.SessionListings(ctx, sessionID, storage.Page{})
	if err != nil {
		return Report{}, err
	}
	listings, err := storage.All[models.ListingRecord](cur)
	if err != nil {
		return Report{}, err
	}

	report := Compute(listings)
	err = g.SaveStatistics(ctx, models.Statistics{
		SessionID:    sessionID,
		Type:         StatisticsType,
		Payload:      report,
		CalculatedAt: now.UTC(),
	})
	return report, err
}

// Load returns the stored statistics of a session, or nil when none were
// computed yet.
func Load(ctx context.Context, g *storage.Gateway, sessionID string) (*Report, error) {
	st, err := g.GetStatistics(ctx, sessionID, StatisticsType)
	if err != nil || st == nil {
		return nil, err
	}
	raw, err := json.Marshal(st.Payload)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode statistics of session %s: %w", sessionID, err)
	}
	return &report, nil
}
