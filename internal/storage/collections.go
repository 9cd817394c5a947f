package storage

// Collection names.
const (
	CollSessions      = "sessions"
	CollListings      = "listings"
	CollListingItems  = "listing_items"
	CollMarketPrices  = "market_prices"
	CollPriceAnalyses = "price_analyses"
	CollStatistics    = "statistics"
	CollCheckpoints   = "checkpoints"
	CollPageCounts    = "page_counts"
)

// Collections returns the collections the harvester persists to.
func Collections() []Collection {
	return []Collection{
		{
			Name:    CollSessions,
			Unique:  []Field{{"id", TextField}},
			Indexes: []Field{{"root_url", TextField}, {"start_time", TimeField}, {"status", TextField}},
		},
		{
			Name:    CollListings,
			Unique:  []Field{{"session_id", TextField}, {"listing_url", TextField}},
			Indexes: []Field{{"price", RealField}},
		},
		{
			Name:   CollListingItems,
			Unique: []Field{{"session_id", TextField}, {"listing_url", TextField}, {"position", IntField}},
			Indexes: []Field{
				{"item_hash", TextField},
				{"item_type", TextField},
				{"manufacturer", TextField},
				{"model", TextField},
			},
		},
		{
			Name:    CollMarketPrices,
			Unique:  []Field{{"item_hash", TextField}, {"item_type", TextField}},
			Indexes: []Field{{"last_updated", TimeField}},
		},
		{
			Name:    CollPriceAnalyses,
			Unique:  []Field{{"item_hash", TextField}, {"item_type", TextField}, {"listing_url", TextField}},
			Indexes: []Field{{"analyzed_at", TimeField}},
		},
		{
			Name:   CollStatistics,
			Unique: []Field{{"session_id", TextField}, {"type", TextField}},
		},
		{
			Name:    CollCheckpoints,
			Unique:  []Field{{"run_key", TextField}},
			Indexes: []Field{{"session_id", TextField}},
		},
		{
			Name:   CollPageCounts,
			Unique: []Field{{"root_url", TextField}},
		},
	}
}
