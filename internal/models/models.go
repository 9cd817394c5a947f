package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a crawl session.
type SessionStatus string

const (
	StatusStarted   SessionStatus = "started"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Terminal reports whether no further crawling happens under this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PageOutcome records how a page attempt ended.
type PageOutcome string

const (
	PageOK      PageOutcome = "ok"
	PageEmpty   PageOutcome = "empty"
	PageSkipped PageOutcome = "skipped"
)

// ExecutionInfo is the untyped execution metadata reported by the extractor
// for a single call (token usage, timings, model name...).
type ExecutionInfo map[string]interface{}

// Session is one crawl run against a root URL as stored in the sessions collection.
type Session struct {
	ID            string          `json:"id"`
	RootURL       string          `json:"root_url"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	Status        SessionStatus   `json:"status"`
	NumPages      int             `json:"num_pages"`
	PagesCrawled  int             `json:"pages_crawled"`
	ExecutionInfo []ExecutionInfo `json:"execution_info"`
}

// Page is one fetched and extracted listing page. A nil Records means the
// page was skipped; an empty Records means extraction produced nothing.
type Page struct {
	PageURL    string       `json:"page_url"`
	PageNumber int          `json:"page_number"`
	Records    *PageRecords `json:"listing_previews"`
	Outcome    PageOutcome  `json:"outcome"`
	Attempts   int          `json:"attempts"`
	Error      string       `json:"error,omitempty"`
}

// ListingCount returns the number of records on the page.
func (p Page) ListingCount() int {
	if p.Records == nil {
		return 0
	}
	return len(p.Records.Listings)
}

// PageSet is the accumulated crawl data of a run.
type PageSet struct {
	Pages    []Page `json:"pages"`
	NumPages int    `json:"num_pages"`
}

// AllListings flattens the listings of every page in page order.
func (ps *PageSet) AllListings() []ListingRecord {
	if ps == nil {
		return nil
	}
	var out []ListingRecord
	for _, page := range ps.Pages {
		if page.Records == nil {
			continue
		}
		out = append(out, page.Records.Listings...)
	}
	return out
}

// RunError is the failure summary kept on a failed run.
type RunError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RunRecord is the checkpoint document of a crawl run. It is rewritten in
// full after every page and at finalization.
type RunRecord struct {
	RunKey            string          `json:"run_key"`
	SessionID         string          `json:"session_id"`
	StartTime         time.Time       `json:"start_time"`
	URL               string          `json:"url"`
	Status            SessionStatus   `json:"status"`
	LastCompletedPage *int            `json:"last_completed_page"`
	Error             *RunError       `json:"error"`
	ExecutionInfo     []ExecutionInfo `json:"execution_info"`
	Data              *PageSet        `json:"data"`
	EndTime           *time.Time      `json:"end_time"`
	DurationSeconds   *float64        `json:"duration_seconds"`
}

// NewRunRecord returns the initial record for a fresh run.
func NewRunRecord(runKey, sessionID, url string, start time.Time) *RunRecord {
	return &RunRecord{
		RunKey:        runKey,
		SessionID:     sessionID,
		StartTime:     start,
		URL:           url,
		Status:        StatusStarted,
		ExecutionInfo: []ExecutionInfo{},
	}
}

// Stamp sets end time and duration relative to the run start.
func (r *RunRecord) Stamp(now time.Time) {
	end := now
	duration := now.Sub(r.StartTime).Seconds()
	r.EndTime = &end
	r.DurationSeconds = &duration
}

// Session projects the run record onto its sessions-collection document.
func (r *RunRecord) Session() Session {
	s := Session{
		ID:            r.SessionID,
		RootURL:       r.URL,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Status:        r.Status,
		ExecutionInfo: r.ExecutionInfo,
	}
	if r.Data != nil {
		s.NumPages = r.Data.NumPages
		s.PagesCrawled = len(r.Data.Pages)
	}
	return s
}
