package models

import "time"

// DealerListing is one observed market offer for an item.
type DealerListing struct {
	Dealer    string  `json:"dealer"`
	Price     float64 `json:"price"`
	Condition string  `json:"condition"`
	URL       string  `json:"url"`
	DateFound string  `json:"date_found,omitempty"`
	InStock   bool    `json:"in_stock"`
}

// PriceSummary aggregates in-stock, positively priced dealer listings.
type PriceSummary struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Median  float64 `json:"median"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// MarketPrice is the cached market aggregate for one (item_hash, item_type).
type MarketPrice struct {
	ItemHash     string          `json:"item_hash"`
	ItemType     ItemType        `json:"item_type"`
	Manufacturer string          `json:"manufacturer"`
	Model        string          `json:"model"`
	Caliber      string          `json:"caliber,omitempty"`
	Listings     []DealerListing `json:"listings"`
	Summary      PriceSummary    `json:"summary"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// PriceVerdict classifies a listing price against the market.
type PriceVerdict string

const (
	VerdictOverpriced  PriceVerdict = "overpriced"
	VerdictUnderpriced PriceVerdict = "underpriced"
	VerdictFair        PriceVerdict = "fair_price"
	VerdictNoData      PriceVerdict = "no_data"
)

// PriceAnalysis compares one listing against a MarketPrice snapshot.
type PriceAnalysis struct {
	ItemHash          string       `json:"item_hash"`
	ItemType          ItemType     `json:"item_type"`
	ListingURL        string       `json:"listing_url"`
	ListingPrice      float64      `json:"listing_price"`
	MarketMedian      float64      `json:"market_median"`
	MarketAverage     float64      `json:"market_average"`
	PriceDifference   float64      `json:"price_difference"`
	PriceDifferencePc float64      `json:"price_difference_percent"`
	Status            PriceVerdict `json:"status"`
	AnalyzedAt        time.Time    `json:"analyzed_at"`
}

// PageCount is the cached extent of a paginated source.
type PageCount struct {
	RootURL       string        `json:"root_url"`
	PageCount     int           `json:"page_count"`
	ExecutionInfo ExecutionInfo `json:"execution_info"`
	CachedAt      time.Time     `json:"cached_at"`
}

// Statistics is an analysis snapshot stored per session and type.
type Statistics struct {
	SessionID    string      `json:"session_id"`
	Type         string      `json:"type"`
	Payload      interface{} `json:"payload"`
	CalculatedAt time.Time   `json:"calculated_at"`
}
