package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/romangod6/listing-harvester/internal/models"
)

// MarketSearcher finds current dealer offers for an item.
type MarketSearcher interface {
	Search(ctx context.Context, item models.Item) ([]models.DealerListing, error)
}

// SearcherFunc adapts a function to MarketSearcher.
type SearcherFunc func(ctx context.Context, item models.Item) ([]models.DealerListing, error)

func (f SearcherFunc) Search(ctx context.Context, item models.Item) ([]models.DealerListing, error) {
	return f(ctx, item)
}

var dealers = []string{
	"GunBroker",
	"Guns.com",
	"Primary Arms",
	"Palmetto State Armory",
	"Local gun shops",
}

// SearchPrompt is the market search instruction sent for an item.
func SearchPrompt(item models.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Find current market prices for the %s %s %s", item.Manufacturer, item.Model, item.ItemType)
	if item.Caliber != "" {
		fmt.Fprintf(&b, " in %s", item.Caliber)
	}
	b.WriteString(".\n\nSearch multiple dealers including:\n")
	for _, d := range dealers {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	b.WriteString("\nFor each listing found, include:\n" +
		"- Exact dealer name\n- Current price\n- Condition (new/used)\n" +
		"- Whether it's in stock\n- URL to listing\n")
	return b.String()
}

// RemoteSearcher asks the extraction service for market offers using the
// same {url, prompt, schema} envelope as page extraction, with an empty url.
type RemoteSearcher struct {
	endpoint string
	client   *http.Client
}

func NewRemoteSearcher(endpoint string, client *http.Client) *RemoteSearcher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &RemoteSearcher{endpoint: endpoint, client: client}
}

func (s *RemoteSearcher) Search(ctx context.Context, item models.Item) ([]models.DealerListing, error) {
	payload, err := json.Marshal(map[string]string{
		"url":    "",
		"prompt": SearchPrompt(item),
		"schema": "market_prices",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market search: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("market search: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market search: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out struct {
		Result struct {
			Listings []models.DealerListing `json:"listings"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode market search: %w", err)
	}
	return out.Result.Listings, nil
}
