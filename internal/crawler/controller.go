// Package crawler drives resumable, checkpointed crawls of paginated sources.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romangod6/listing-harvester/internal/checkpoint"
	"github.com/romangod6/listing-harvester/internal/extract"
	"github.com/romangod6/listing-harvester/internal/metrics"
	"github.com/romangod6/listing-harvester/internal/models"
	"github.com/romangod6/listing-harvester/internal/retry"
	"github.com/romangod6/listing-harvester/internal/storage"
	"github.com/romangod6/listing-harvester/internal/utils"
)

// Phase is the controller's position in a run.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseDiscoveringExtent Phase = "discovering_extent"
	PhaseCrawling          Phase = "crawling"
	PhaseCompleted         Phase = "completed"
	PhaseFailed            Phase = "failed"
)

// OnExhausted selects what happens to a page that stayed empty through
// every retry attempt.
type OnExhausted string

const (
	// ExhaustContinue records the page with empty records and moves on.
	ExhaustContinue OnExhausted = "continue"
	// ExhaustAbort fails the run without recording the page.
	ExhaustAbort OnExhausted = "abort"
)

// PagePlaceholder is replaced by the page number in Config.PageURLTemplate.
const PagePlaceholder = "{page}"

// Run error types stored on failed run records.
const (
	ErrorInterrupted = "interrupted"
	ErrorExhausted   = "exhausted"
	ErrorExtent      = "extent"
	ErrorStore       = "store"
	ErrorCheckpoint  = "checkpoint"
)

var (
	ErrInterrupted   = errors.New("crawl interrupted")
	ErrPageExhausted = errors.New("page stayed empty after all attempts")
)

// RunFailure is returned by Run when the run ends in the failed state.
type RunFailure struct {
	Type string
	Page int
	Err  error
}

func (e *RunFailure) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("crawl failed (%s) at page %d: %v", e.Type, e.Page, e.Err)
	}
	return fmt.Sprintf("crawl failed (%s): %v", e.Type, e.Err)
}

func (e *RunFailure) Unwrap() error {
	return e.Err
}

// Config describes one crawl run.
type Config struct {
	// RootURL is the first page of the source and the page-count cache key.
	RootURL string
	// PageURLTemplate builds page URLs by replacing {page}. Empty means
	// RootURL with a page query parameter.
	PageURLTemplate string
	// RunKey names the checkpoint. Defaults to RootURL.
	RunKey      string
	Policy      retry.Policy
	OnExhausted OnExhausted
}

// Controller runs a single source crawl. A Controller is not safe for
// concurrent Run calls; use one per session.
type Controller struct {
	config      Config
	extractor   extract.Extractor
	counter     extract.PageCounter
	gateway     *storage.Gateway
	checkpoints checkpoint.Store
	logger      utils.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	newID       func() string

	mu    sync.Mutex
	phase Phase
}

type Option func(*Controller)

// WithCheckpointStore replaces the default gateway-backed checkpoint store.
func WithCheckpointStore(s checkpoint.Store) Option {
	return func(c *Controller) { c.checkpoints = s }
}

func WithLogger(l utils.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(f func() string) Option {
	return func(c *Controller) { c.newID = f }
}

func NewController(cfg Config, ex extract.Extractor, counter extract.PageCounter, g *storage.Gateway, opts ...Option) (*Controller, error) {
	if cfg.RootURL == "" {
		return nil, errors.New("crawler: root url is required")
	}
	if ex == nil || counter == nil || g == nil {
		return nil, errors.New("crawler: extractor, page counter and gateway are required")
	}
	if cfg.RunKey == "" {
		cfg.RunKey = cfg.RootURL
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	switch cfg.OnExhausted {
	case "":
		cfg.OnExhausted = ExhaustContinue
	case ExhaustContinue, ExhaustAbort:
	default:
		return nil, fmt.Errorf("crawler: unknown on_exhausted mode %q", cfg.OnExhausted)
	}

	c := &Controller{
		config:    cfg,
		extractor: ex,
		counter:   counter,
		gateway:   g,
		logger:    utils.NewNop(),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		phase:     PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.checkpoints == nil {
		c.checkpoints = checkpoint.NewGatewayStore(g)
	}
	c.logger = c.logger.With(utils.String("root_url", cfg.RootURL))
	return c, nil
}

// Phase returns the current phase of the run.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	c.logger.Debug("phase", utils.String("phase", string(p)))
}

// PageURL returns the URL of page n.
func (c *Controller) PageURL(n int) string {
	page := strconv.Itoa(n)
	if tmpl := c.config.PageURLTemplate; tmpl != "" {
		return strings.ReplaceAll(tmpl, PagePlaceholder, page)
	}
	u, err := url.Parse(c.config.RootURL)
	if err != nil {
		return c.config.RootURL
	}
	q := u.Query()
	q.Set("page", page)
	u.RawQuery = q.Encode()
	return u.String()
}

// Run crawls from page 1, or from the page after the last confirmed one when
// the previous run for the same key failed. The returned record is the final
// checkpoint; the error is a *RunFailure when the run failed.
func (c *Controller) Run(ctx context.Context) (*models.RunRecord, error) {
	prev, err := c.checkpoints.Load(ctx, c.config.RunKey)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", c.config.RunKey, err)
	}

	rec, startPage := c.begin(prev)
	log := c.logger.With(utils.String("session_id", rec.SessionID))
	if startPage > 1 {
		log.Info("resuming crawl", utils.Int("start_page", startPage))
	} else {
		log.Info("starting crawl")
	}

	c.setPhase(PhaseDiscoveringExtent)
	total, info, err := c.pageCount(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return c.fail(ctx, log, rec, ErrorInterrupted, 0, ErrInterrupted)
		}
		return c.fail(ctx, log, rec, ErrorExtent, 0, err)
	}
	rec.Data.NumPages = total
	if startPage == 1 && info != nil {
		rec.ExecutionInfo = append(rec.ExecutionInfo, info)
	}
	log.Info("found pages", utils.Int("total_pages", total))

	if err := c.persist(ctx, rec); err != nil {
		return c.fail(ctx, log, rec, failureType(ctx, ErrorCheckpoint), 0, err)
	}

	c.setPhase(PhaseCrawling)
	for n := startPage; n <= total; n++ {
		if ctx.Err() != nil {
			return c.fail(ctx, log, rec, ErrorInterrupted, n, ErrInterrupted)
		}

		pageLog := log.With(utils.Int("page", n), utils.Int("total_pages", total))
		page, infos, err := c.crawlPage(ctx, pageLog, n)
		if err != nil {
			if errors.Is(err, ErrInterrupted) {
				return c.fail(ctx, log, rec, ErrorInterrupted, n, err)
			}
			return c.fail(ctx, log, rec, ErrorExhausted, n, err)
		}

		if page.Records != nil && len(page.Records.Listings) > 0 {
			saved, skipped, err := c.gateway.SaveListings(ctx, rec.SessionID, page.Records.Listings)
			if err != nil {
				return c.fail(ctx, log, rec, failureType(ctx, ErrorStore), n, fmt.Errorf("save listings: %w", err))
			}
			c.metrics.AddListings(saved)
			if skipped > 0 {
				pageLog.Warn("listings without url not saved", utils.Int("skipped", skipped))
			}
		}

		rec.Data.Pages = append(rec.Data.Pages, page)
		rec.ExecutionInfo = append(rec.ExecutionInfo, infos...)
		last := n
		rec.LastCompletedPage = &last

		if err := c.persist(ctx, rec); err != nil {
			return c.fail(ctx, log, rec, failureType(ctx, ErrorCheckpoint), n, err)
		}
		c.metrics.IncPage(string(page.Outcome))
		pageLog.Info("page done",
			utils.String("outcome", string(page.Outcome)),
			utils.Int("listings", page.ListingCount()),
			utils.Int("attempts", page.Attempts))
	}

	rec.Status = models.StatusCompleted
	rec.Error = nil
	rec.Stamp(c.now())
	if err := c.persist(context.WithoutCancel(ctx), rec); err != nil {
		return c.fail(ctx, log, rec, ErrorCheckpoint, 0, err)
	}
	c.setPhase(PhaseCompleted)
	c.metrics.IncRun(string(models.StatusCompleted))
	log.Info("crawl completed",
		utils.Int("pages", len(rec.Data.Pages)),
		utils.Float64("duration_seconds", *rec.DurationSeconds))
	return rec, nil
}

// failureType reports a store failure caused by cancellation as an
// interruption.
func failureType(ctx context.Context, typ string) string {
	if ctx.Err() != nil {
		return ErrorInterrupted
	}
	return typ
}

// begin builds the working record, carrying forward confirmed pages and
// execution info when the previous run is resumable.
func (c *Controller) begin(prev *models.RunRecord) (*models.RunRecord, int) {
	start, ok := checkpoint.Resume(prev)
	if !ok {
		rec := models.NewRunRecord(c.config.RunKey, c.newID(), c.config.RootURL, c.now())
		rec.Data = &models.PageSet{Pages: []models.Page{}}
		return rec, 1
	}

	rec := *prev
	rec.RunKey = c.config.RunKey
	rec.Status = models.StatusStarted
	rec.Error = nil
	rec.EndTime = nil
	rec.DurationSeconds = nil
	if rec.SessionID == "" {
		rec.SessionID = c.newID()
	}
	if rec.ExecutionInfo == nil {
		rec.ExecutionInfo = []models.ExecutionInfo{}
	}

	data := &models.PageSet{Pages: []models.Page{}}
	if prev.Data != nil {
		data.NumPages = prev.Data.NumPages
		kept := prev.Data.Pages
		if len(kept) > start-1 {
			kept = kept[:start-1]
		}
		data.Pages = append(data.Pages, kept...)
	}
	rec.Data = data
	return &rec, start
}

// pageCount returns the cached extent of the root URL, asking the page
// counter once and caching the answer when nothing is stored yet.
func (c *Controller) pageCount(ctx context.Context) (int, models.ExecutionInfo, error) {
	cached, err := c.gateway.GetPageCount(ctx, c.config.RootURL)
	if err != nil {
		return 0, nil, fmt.Errorf("read page count cache: %w", err)
	}
	if cached != nil && cached.PageCount > 0 {
		c.logger.Debug("using cached page count", utils.Int("total_pages", cached.PageCount))
		return cached.PageCount, cached.ExecutionInfo, nil
	}

	total, info, err := c.counter.CountPages(ctx, c.config.RootURL)
	if err != nil {
		return 0, nil, fmt.Errorf("count pages: %w", err)
	}
	if total < 1 {
		return 0, nil, fmt.Errorf("count pages: invalid page count %d", total)
	}

	pc := models.PageCount{RootURL: c.config.RootURL, PageCount: total, ExecutionInfo: info, CachedAt: c.now()}
	if err := c.gateway.SavePageCount(ctx, pc); err != nil {
		return 0, nil, fmt.Errorf("cache page count: %w", err)
	}
	return total, info, nil
}

// crawlPage extracts one page under the retry policy. The only errors it
// returns are ErrInterrupted and, in abort mode, ErrPageExhausted; every
// other failure is recorded on the page.
func (c *Controller) crawlPage(ctx context.Context, log utils.Logger, n int) (models.Page, []models.ExecutionInfo, error) {
	pageURL := c.PageURL(n)
	page := models.Page{PageURL: pageURL, PageNumber: n}

	var (
		infos []models.ExecutionInfo
		last  extract.Result
	)

	policy := c.config.Policy
	policy.IsRetryable = func(err error) bool { return errors.Is(err, extract.ErrEmpty) }
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.metrics.IncRetries()
		log.Warn("empty extraction, retrying",
			utils.Int("attempt", attempt),
			utils.Duration("wait", wait),
			utils.Err(err))
	}

	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		began := c.now()
		res, err := c.extractor.Extract(ctx, pageURL)
		c.metrics.ObserveExtract(c.now().Sub(began))
		if res.Info != nil {
			infos = append(infos, res.Info)
		}
		if err != nil {
			return err
		}
		last = res
		return res.Err()
	})
	page.Attempts = attempts

	switch {
	case err == nil:
		page.Records = last.Records
		page.Outcome = models.PageOK
		return page, infos, nil

	case ctx.Err() != nil || errors.Is(err, retry.ErrContextCancelled):
		return page, infos, ErrInterrupted

	case errors.Is(err, retry.ErrMaxAttemptsExceeded):
		if c.config.OnExhausted == ExhaustAbort {
			log.Error("page empty after all attempts, aborting", utils.Int("attempts", attempts))
			return page, infos, fmt.Errorf("%w: %s", ErrPageExhausted, pageURL)
		}
		log.Warn("page empty after all attempts, leaving gap", utils.Int("attempts", attempts))
		page.Records = &models.PageRecords{Listings: []models.ListingRecord{}}
		page.Outcome = models.PageEmpty
		page.Error = err.Error()
		return page, infos, nil

	default:
		log.Error("extraction failed, skipping page", utils.Err(err))
		page.Outcome = models.PageSkipped
		page.Error = err.Error()
		return page, infos, nil
	}
}

// persist writes the checkpoint and mirrors it onto the session document.
func (c *Controller) persist(ctx context.Context, rec *models.RunRecord) error {
	if err := c.checkpoints.Save(ctx, rec); err != nil {
		c.metrics.IncCheckpoint(false)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	c.metrics.IncCheckpoint(true)
	if err := c.gateway.SaveSession(ctx, rec.Session()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// fail records the failed state on a context that outlives cancellation.
// The last confirmed page is left untouched so the next run resumes after it.
func (c *Controller) fail(ctx context.Context, log utils.Logger, rec *models.RunRecord, typ string, page int, cause error) (*models.RunRecord, error) {
	rec.Status = models.StatusFailed
	rec.Error = &models.RunError{Type: typ, Message: cause.Error()}
	rec.Stamp(c.now())

	c.setPhase(PhaseFailed)
	c.metrics.IncRun(string(models.StatusFailed))

	if err := c.persist(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("failed to record failed run", utils.Err(err))
	}

	fields := []utils.Field{utils.String("error_type", typ), utils.Err(cause)}
	if rec.LastCompletedPage != nil {
		fields = append(fields, utils.Int("last_completed_page", *rec.LastCompletedPage))
	}
	log.Error("crawl failed", fields...)
	return rec, &RunFailure{Type: typ, Page: page, Err: cause}
}
