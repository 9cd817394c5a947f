package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/romangod6/listing-harvester/internal/models"
)

// Selectors locate listing fields on a listing page. Child selectors are
// relative to the Listing element.
type Selectors struct {
	Listing     string `mapstructure:"listing"`
	Title       string `mapstructure:"title"`
	Price       string `mapstructure:"price"`
	Description string `mapstructure:"description"`
	Link        string `mapstructure:"link"`
	Image       string `mapstructure:"image"`
	Item        string `mapstructure:"item"`
	Pagination  string `mapstructure:"pagination"`
}

// DefaultSelectors match a conventional classifieds listing grid.
func DefaultSelectors() Selectors {
	return Selectors{
		Listing:     ".listing",
		Title:       ".listing-title",
		Price:       ".listing-price",
		Description: ".listing-description",
		Link:        "a.listing-link",
		Image:       "img",
		Item:        "[data-item-type]",
		Pagination:  ".pagination a",
	}
}

// HTMLExtractor scrapes listings straight from page markup.
type HTMLExtractor struct {
	userAgent string
	selectors Selectors
	timeout   time.Duration
	transport http.RoundTripper
}

type HTMLOption func(*HTMLExtractor)

// WithTransport replaces the HTTP transport of every collector.
func WithTransport(rt http.RoundTripper) HTMLOption {
	return func(h *HTMLExtractor) { h.transport = rt }
}

// WithTimeout bounds a single page request.
func WithTimeout(d time.Duration) HTMLOption {
	return func(h *HTMLExtractor) { h.timeout = d }
}

func NewHTMLExtractor(userAgent string, selectors Selectors, opts ...HTMLOption) *HTMLExtractor {
	h := &HTMLExtractor{
		userAgent: userAgent,
		selectors: selectors,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// newCollector returns a synchronous collector that refuses requests once
// ctx is done. Each call gets a fresh collector so handlers never leak
// between pages.
func (h *HTMLExtractor) newCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(h.userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(h.timeout)
	if h.transport != nil {
		c.WithTransport(h.transport)
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	return c
}

type visit struct {
	mu     sync.Mutex
	status int
	bytes  int
	err    error
}

func (v *visit) track(c *colly.Collector) {
	c.OnResponse(func(r *colly.Response) {
		v.mu.Lock()
		v.status = r.StatusCode
		v.bytes = len(r.Body)
		v.mu.Unlock()
	})
	c.OnError(func(r *colly.Response, err error) {
		v.mu.Lock()
		defer v.mu.Unlock()
		if r != nil {
			v.status = r.StatusCode
		}
		v.err = err
	})
}

func (v *visit) fatal(pageURL string, err error) error {
	if err == nil {
		err = v.err
	}
	if err == nil {
		return nil
	}
	return &FatalError{URL: pageURL, StatusCode: v.status, Err: err}
}

// Extract fetches pageURL and reads one record per Listing element.
func (h *HTMLExtractor) Extract(ctx context.Context, pageURL string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	c := h.newCollector(ctx)
	v := &visit{}
	v.track(c)

	var (
		mu       sync.Mutex
		listings []models.ListingRecord
	)
	c.OnHTML(h.selectors.Listing, func(e *colly.HTMLElement) {
		l := h.listing(e)
		mu.Lock()
		listings = append(listings, l)
		mu.Unlock()
	})

	start := time.Now()
	visitErr := c.Visit(pageURL)
	c.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := v.fatal(pageURL, visitErr); err != nil {
		return Result{}, err
	}

	res := Normalize(&models.PageRecords{Listings: listings})
	res.Info = models.ExecutionInfo{
		"extractor":   "html",
		"status_code": v.status,
		"bytes":       v.bytes,
		"listings":    len(listings),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	return res, nil
}

func (h *HTMLExtractor) listing(e *colly.HTMLElement) models.ListingRecord {
	sel := h.selectors
	l := models.ListingRecord{
		Title: strings.TrimSpace(e.ChildText(sel.Title)),
		Price: parsePrice(e.ChildText(sel.Price)),
	}

	if sel.Description != "" {
		if frag, err := e.DOM.Find(sel.Description).First().Html(); err == nil {
			l.Description = cleanText(frag)
		}
	}
	if href := e.ChildAttr(sel.Link, "href"); href != "" {
		l.ListingURL = e.Request.AbsoluteURL(href)
	}
	for _, src := range e.ChildAttrs(sel.Image, "src") {
		if abs := e.Request.AbsoluteURL(src); abs != "" {
			l.ImageURLs = append(l.ImageURLs, abs)
		}
	}
	if sel.Item != "" {
		e.DOM.Find(sel.Item).Each(func(_ int, s *goquery.Selection) {
			l.Items = append(l.Items, parseItem(s))
		})
	}
	return l
}

// CountPages visits rootURL and returns the highest page number linked from
// its pagination. A page with no pagination counts as a single page.
func (h *HTMLExtractor) CountPages(ctx context.Context, rootURL string) (int, models.ExecutionInfo, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	c := h.newCollector(ctx)
	v := &visit{}
	v.track(c)

	highest := 0
	c.OnHTML("html", func(e *colly.HTMLElement) {
		e.DOM.Find(h.selectors.Pagination).Each(func(_ int, s *goquery.Selection) {
			if n := pageNumber(s); n > highest {
				highest = n
			}
		})
	})

	start := time.Now()
	visitErr := c.Visit(rootURL)
	c.Wait()
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if err := v.fatal(rootURL, visitErr); err != nil {
		return 0, nil, fmt.Errorf("count pages: %w", err)
	}

	if highest < 1 {
		highest = 1
	}
	info := models.ExecutionInfo{
		"extractor":   "html",
		"status_code": v.status,
		"total_pages": highest,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	return highest, info, nil
}
