package models

import (
	"encoding/json"
	"strings"
)

// ItemType tags the kind of a listed item.
type ItemType string

const (
	ItemFirearm    ItemType = "firearm"
	ItemMagazine   ItemType = "magazine"
	ItemAmmunition ItemType = "ammunition"
	ItemOther      ItemType = "other"
)

// Item is a typed sub-record of a listing. ItemHash is assigned by the
// storage layer when the listing is saved.
type Item struct {
	ItemType     ItemType `json:"item_type"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Caliber      string   `json:"caliber,omitempty"`
	Capacity     int      `json:"capacity,omitempty"`
	Condition    string   `json:"condition,omitempty"`
	Quantity     int      `json:"quantity,omitempty"`
	Description  string   `json:"description,omitempty"`
	ItemHash     string   `json:"item_hash,omitempty"`
}

// Known reports whether both manufacturer and model were identified.
func (i Item) Known() bool {
	return i.Manufacturer != "" && i.Model != ""
}

// ListingRecord is one listing extracted from a page.
type ListingRecord struct {
	SessionID   string   `json:"session_id,omitempty"`
	Title       string   `json:"title"`
	Price       float64  `json:"price"`
	Description string   `json:"description"`
	Items       []Item   `json:"items"`
	ImageURLs   []string `json:"image_urls"`
	ListingURL  string   `json:"listing_url"`
}

// Priced reports whether the listing carries an actual asking price.
// A zero price means "inquire for price".
func (l ListingRecord) Priced() bool {
	return l.Price > 0
}

// PageRecords is the well-formed extraction result of one page.
type PageRecords struct {
	Listings []ListingRecord `json:"listings"`
}

// Len is nil-safe.
func (p *PageRecords) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Listings)
}

// legacyGun is the retired per-listing firearm preview shape.
type legacyGun struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Caliber      string `json:"caliber"`
	Condition    string `json:"condition"`
}

// listingWire is the serialized listing shape, including retired fields.
type listingWire struct {
	SessionID   string      `json:"session_id"`
	Title       string      `json:"title"`
	Price       float64     `json:"price"`
	Description string      `json:"description"`
	Items       []Item      `json:"items"`
	Guns        []legacyGun `json:"guns"`
	ImageURLs   []string    `json:"image_urls"`
	ListingURL  string      `json:"listing_url"`
}

// UnmarshalJSON decodes a listing and runs migrateListing on it.
func (l *ListingRecord) UnmarshalJSON(data []byte) error {
	var w listingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*l = migrateListing(w)
	return nil
}

// migrateListing converts the serialized form into a ListingRecord. Listings
// written before typed items existed carry a guns array; those become
// firearm items. "NA" placeholders are cleared to the empty string.
func migrateListing(w listingWire) ListingRecord {
	l := ListingRecord{
		SessionID:   w.SessionID,
		Title:       w.Title,
		Price:       w.Price,
		Description: w.Description,
		ImageURLs:   w.ImageURLs,
		ListingURL:  w.ListingURL,
	}
	if l.Price < 0 {
		l.Price = 0
	}

	for _, item := range w.Items {
		item.ItemType = MigrateItemType(item.ItemType)
		item.Manufacturer = clearPlaceholder(item.Manufacturer)
		item.Model = clearPlaceholder(item.Model)
		item.Caliber = clearPlaceholder(item.Caliber)
		item.Condition = clearPlaceholder(item.Condition)
		l.Items = append(l.Items, item)
	}
	if len(w.Items) == 0 {
		for _, g := range w.Guns {
			l.Items = append(l.Items, Item{
				ItemType:     ItemFirearm,
				Manufacturer: clearPlaceholder(g.Manufacturer),
				Model:        clearPlaceholder(g.Model),
				Caliber:      clearPlaceholder(g.Caliber),
				Condition:    clearPlaceholder(g.Condition),
			})
		}
	}
	return l
}

// MigrateItemType maps retired and free-form type tags onto the supported set.
func MigrateItemType(t ItemType) ItemType {
	switch ItemType(strings.ToLower(strings.TrimSpace(string(t)))) {
	case "gun", "firearm":
		return ItemFirearm
	case ItemMagazine:
		return ItemMagazine
	case "ammo", ItemAmmunition:
		return ItemAmmunition
	default:
		return ItemOther
	}
}

func clearPlaceholder(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.EqualFold(trimmed, "na") || strings.EqualFold(trimmed, "n/a") {
		return ""
	}
	return s
}
