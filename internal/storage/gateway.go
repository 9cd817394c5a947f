package storage

import (
	"context"
	"fmt"

	"github.com/romangod6/listing-harvester/internal/identity"
	"github.com/romangod6/listing-harvester/internal/models"
)

// ListingItem is the per-item projection of a saved listing, used to find
// listings by item identity.
type ListingItem struct {
	SessionID  string  `json:"session_id"`
	ListingURL string  `json:"listing_url"`
	Position   int     `json:"position"`
	Price      float64 `json:"price"`
	models.Item
}

// Page selects a window of a result set.
type Page struct {
	Limit int
	Skip  int
}

// Gateway is the typed persistence surface over a DocumentStore.
type Gateway struct {
	store DocumentStore
}

func NewGateway(store DocumentStore) *Gateway {
	return &Gateway{store: store}
}

// Store exposes the underlying document store.
func (g *Gateway) Store() DocumentStore {
	return g.store
}

func (g *Gateway) Close() error {
	return g.store.Close()
}

// SaveSession upserts a session document. A completed session is final and
// may only be rewritten as completed.
func (g *Gateway) SaveSession(ctx context.Context, s models.Session) error {
	if s.ID == "" {
		return invalid("save_session", CollSessions, fmt.Errorf("session id is empty"))
	}
	existing, err := g.GetSession(ctx, s.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == models.StatusCompleted && s.Status != models.StatusCompleted {
		return &StoreError{Op: "save_session", Collection: CollSessions, Kind: KindConflict, Err: ErrSessionFinal}
	}
	if s.ExecutionInfo == nil {
		s.ExecutionInfo = []models.ExecutionInfo{}
	}
	return g.store.Upsert(ctx, CollSessions, Fields{"id": s.ID}, s)
}

// GetSession returns nil when the session does not exist.
func (g *Gateway) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	found, err := g.store.FindOne(ctx, CollSessions, Where(Eq("id", id)), FindOptions{}, &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// LatestSession returns the most recently started session for rootURL.
func (g *Gateway) LatestSession(ctx context.Context, rootURL string) (*models.Session, error) {
	var s models.Session
	found, err := g.store.FindOne(ctx, CollSessions, Where(Eq("root_url", rootURL)),
		FindOptions{Sort: []SortField{{Field: "start_time", Desc: true}}}, &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns sessions newest first.
func (g *Gateway) ListSessions(ctx context.Context, page Page) ([]models.Session, error) {
	cur, err := g.store.Find(ctx, CollSessions, nil, FindOptions{
		Sort:  []SortField{{Field: "start_time", Desc: true}},
		Limit: page.Limit,
		Skip:  page.Skip,
	})
	if err != nil {
		return nil, err
	}
	return All[models.Session](cur)
}

func (g *Gateway) CountSessions(ctx context.Context) (int64, error) {
	return g.store.Count(ctx, CollSessions, nil)
}

// SaveListings upserts the listings of a session keyed by listing URL,
// assigning item hashes on the way. Listings without a URL cannot be keyed
// and are skipped.
func (g *Gateway) SaveListings(ctx context.Context, sessionID string, listings []models.ListingRecord) (saved, skipped int, err error) {
	for _, l := range listings {
		if l.ListingURL == "" {
			skipped++
			continue
		}
		l.SessionID = sessionID
		items := make([]models.Item, len(l.Items))
		for i, item := range l.Items {
			item.ItemType = models.MigrateItemType(item.ItemType)
			item.ItemHash = identity.Hash(item)
			items[i] = item
		}
		l.Items = items

		match := Fields{"session_id": sessionID, "listing_url": l.ListingURL}
		if err := g.store.Upsert(ctx, CollListings, match, l); err != nil {
			return saved, skipped, err
		}
		if err := g.saveListingItems(ctx, l); err != nil {
			return saved, skipped, err
		}
		saved++
	}
	return saved, skipped, nil
}

func (g *Gateway) saveListingItems(ctx context.Context, l models.ListingRecord) error {
	_, err := g.store.Delete(ctx, CollListingItems, Where(
		Eq("session_id", l.SessionID),
		Eq("listing_url", l.ListingURL),
	))
	if err != nil {
		return err
	}
	for i, item := range l.Items {
		doc := ListingItem{
			SessionID:  l.SessionID,
			ListingURL: l.ListingURL,
			Position:   i,
			Price:      l.Price,
			Item:       item,
		}
		match := Fields{"session_id": l.SessionID, "listing_url": l.ListingURL, "position": i}
		if err := g.store.Upsert(ctx, CollListingItems, match, doc); err != nil {
			return err
		}
	}
	return nil
}

// SessionListings returns a lazy cursor over a session's listings ordered by
// listing URL.
func (g *Gateway) SessionListings(ctx context.Context, sessionID string, page Page) (*Cursor, error) {
	return g.store.Find(ctx, CollListings, Where(Eq("session_id", sessionID)), FindOptions{
		Sort:  []SortField{{Field: "listing_url"}},
		Limit: page.Limit,
		Skip:  page.Skip,
	})
}

func (g *Gateway) CountListings(ctx context.Context, sessionID string) (int64, error) {
	return g.store.Count(ctx, CollListings, Where(Eq("session_id", sessionID)))
}

// ListingsByItem returns every listed occurrence of an item identity.
func (g *Gateway) ListingsByItem(ctx context.Context, itemHash string) ([]ListingItem, error) {
	cur, err := g.store.Find(ctx, CollListingItems, Where(Eq("item_hash", itemHash)), FindOptions{
		Sort: []SortField{{Field: "session_id"}, {Field: "listing_url"}, {Field: "position"}},
	})
	if err != nil {
		return nil, err
	}
	return All[ListingItem](cur)
}

// GetMarketPrice returns the stored market price regardless of its age.
func (g *Gateway) GetMarketPrice(ctx context.Context, itemHash string, itemType models.ItemType) (*models.MarketPrice, error) {
	var mp models.MarketPrice
	found, err := g.store.FindOne(ctx, CollMarketPrices,
		Where(Eq("item_hash", itemHash), Eq("item_type", string(itemType))), FindOptions{}, &mp)
	if err != nil || !found {
		return nil, err
	}
	return &mp, nil
}

func (g *Gateway) SaveMarketPrice(ctx context.Context, mp models.MarketPrice) error {
	if mp.Listings == nil {
		mp.Listings = []models.DealerListing{}
	}
	match := Fields{"item_hash": mp.ItemHash, "item_type": string(mp.ItemType)}
	return g.store.Upsert(ctx, CollMarketPrices, match, mp)
}

func (g *Gateway) SavePriceAnalysis(ctx context.Context, pa models.PriceAnalysis) error {
	match := Fields{"item_hash": pa.ItemHash, "item_type": string(pa.ItemType), "listing_url": pa.ListingURL}
	return g.store.Upsert(ctx, CollPriceAnalyses, match, pa)
}

// ItemAnalyses returns analyses of an item identity, newest first.
func (g *Gateway) ItemAnalyses(ctx context.Context, itemHash string) ([]models.PriceAnalysis, error) {
	cur, err := g.store.Find(ctx, CollPriceAnalyses, Where(Eq("item_hash", itemHash)), FindOptions{
		Sort: []SortField{{Field: "analyzed_at", Desc: true}},
	})
	if err != nil {
		return nil, err
	}
	return All[models.PriceAnalysis](cur)
}

func (g *Gateway) SaveStatistics(ctx context.Context, st models.Statistics) error {
	match := Fields{"session_id": st.SessionID, "type": st.Type}
	return g.store.Upsert(ctx, CollStatistics, match, st)
}

func (g *Gateway) GetStatistics(ctx context.Context, sessionID, typ string) (*models.Statistics, error) {
	var st models.Statistics
	found, err := g.store.FindOne(ctx, CollStatistics,
		Where(Eq("session_id", sessionID), Eq("type", typ)), FindOptions{}, &st)
	if err != nil || !found {
		return nil, err
	}
	return &st, nil
}

// GetPageCount returns the cached extent of rootURL. Page counts never expire.
func (g *Gateway) GetPageCount(ctx context.Context, rootURL string) (*models.PageCount, error) {
	var pc models.PageCount
	found, err := g.store.FindOne(ctx, CollPageCounts, Where(Eq("root_url", rootURL)), FindOptions{}, &pc)
	if err != nil || !found {
		return nil, err
	}
	return &pc, nil
}

func (g *Gateway) SavePageCount(ctx context.Context, pc models.PageCount) error {
	return g.store.Upsert(ctx, CollPageCounts, Fields{"root_url": pc.RootURL}, pc)
}

// LoadCheckpoint returns nil when no checkpoint exists for runKey.
func (g *Gateway) LoadCheckpoint(ctx context.Context, runKey string) (*models.RunRecord, error) {
	var rec models.RunRecord
	found, err := g.store.FindOne(ctx, CollCheckpoints, Where(Eq("run_key", runKey)), FindOptions{}, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (g *Gateway) SaveCheckpoint(ctx context.Context, rec *models.RunRecord) error {
	if rec == nil || rec.RunKey == "" {
		return invalid("save_checkpoint", CollCheckpoints, fmt.Errorf("checkpoint has no run key"))
	}
	return g.store.Upsert(ctx, CollCheckpoints, Fields{"run_key": rec.RunKey}, rec)
}
