package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/romangod6/listing-harvester/internal/models"
)

const listingPrompt = `Extract all listings from this page.
For each listing, identify the type of item(s) and extract relevant information:

- title
- price
- description
- items: List of items in the listing, each with:
    - item_type: firearm, magazine, ammunition, or other
    - manufacturer
    - model
    - caliber (for firearms, magazines, ammunition)
    - condition (for firearms)
    - capacity (for magazines)
    - quantity (for ammunition)
- image_urls
- listing_url`

const pageCountPrompt = `Find the last page number from the pagination buttons at the bottom of the page. (total_pages)
Return only the highest page number you find.`

type remoteRequest struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt"`
	Schema string `json:"schema"`
}

type remoteResponse struct {
	Result        json.RawMessage      `json:"result"`
	ExecutionInfo models.ExecutionInfo `json:"execution_info"`
}

// RemoteExtractor delegates extraction to an HTTP extraction service. The
// service answers POST {url, prompt, schema} with {result, execution_info};
// result is whatever the service produced and is normalized here.
type RemoteExtractor struct {
	endpoint string
	client   *http.Client
}

func NewRemoteExtractor(endpoint string, client *http.Client) *RemoteExtractor {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &RemoteExtractor{endpoint: endpoint, client: client}
}

func (r *RemoteExtractor) Extract(ctx context.Context, pageURL string) (Result, error) {
	resp, err := r.call(ctx, remoteRequest{URL: pageURL, Prompt: listingPrompt, Schema: "listings"})
	if err != nil {
		return Result{}, err
	}

	res := Normalize(json.RawMessage(resp.Result))
	res.Info = resp.ExecutionInfo
	return res, nil
}

func (r *RemoteExtractor) CountPages(ctx context.Context, rootURL string) (int, models.ExecutionInfo, error) {
	resp, err := r.call(ctx, remoteRequest{URL: rootURL, Prompt: pageCountPrompt, Schema: "page_count"})
	if err != nil {
		return 0, nil, fmt.Errorf("count pages: %w", err)
	}

	var pc struct {
		TotalPages int `json:"total_pages"`
	}
	if err := json.Unmarshal(resp.Result, &pc); err != nil {
		return 0, resp.ExecutionInfo, &FatalError{URL: rootURL, Err: fmt.Errorf("decode page count: %w", err)}
	}
	if pc.TotalPages < 1 {
		return 0, resp.ExecutionInfo, &FatalError{URL: rootURL, Err: errors.New("service reported no pages")}
	}
	return pc.TotalPages, resp.ExecutionInfo, nil
}

func (r *RemoteExtractor) call(ctx context.Context, body remoteRequest) (*remoteResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &FatalError{URL: body.URL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FatalError{URL: body.URL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &FatalError{URL: body.URL, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FatalError{
			URL:        body.URL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("extraction service: %s", bytes.TrimSpace(raw)),
		}
	}

	var out remoteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		// an unreadable envelope is treated like an unreadable payload
		return &remoteResponse{Result: raw}, nil
	}
	return &out, nil
}
