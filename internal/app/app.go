// Package app assembles the harvester from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/romangod6/listing-harvester/config"
	"github.com/romangod6/listing-harvester/internal/analysis"
	"github.com/romangod6/listing-harvester/internal/api"
	"github.com/romangod6/listing-harvester/internal/checkpoint"
	"github.com/romangod6/listing-harvester/internal/crawler"
	"github.com/romangod6/listing-harvester/internal/extract"
	"github.com/romangod6/listing-harvester/internal/metrics"
	"github.com/romangod6/listing-harvester/internal/pricing"
	"github.com/romangod6/listing-harvester/internal/retry"
	"github.com/romangod6/listing-harvester/internal/storage"
	"github.com/romangod6/listing-harvester/internal/utils"
)

// App holds the long-lived components shared by every command.
type App struct {
	Config  *config.Config
	Gateway *storage.Gateway
	Metrics *metrics.Metrics
	Logger  utils.Logger

	extractor   extract.Extractor
	counter     extract.PageCounter
	checkpoints checkpoint.Store
	searcher    pricing.MarketSearcher

	// root URLs being crawled; Launch goroutines run on baseCtx
	baseCtx context.Context
	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

type Option func(*App)

// WithExtractor replaces the configured extractor and page counter.
func WithExtractor(ex extract.Extractor, counter extract.PageCounter) Option {
	return func(a *App) {
		a.extractor = ex
		a.counter = counter
	}
}

func WithSearcher(s pricing.MarketSearcher) Option {
	return func(a *App) { a.searcher = s }
}

// New opens the store and builds the extractor stack. ctx bounds crawls
// started through Launch.
func New(ctx context.Context, cfg *config.Config, logger utils.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = utils.NewNop()
	}

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &App{
		Config:  cfg,
		Gateway: storage.NewGateway(store),
		Metrics: metrics.New(),
		Logger:  logger,
		baseCtx: ctx,
		running: map[string]bool{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.extractor == nil {
		if err := a.buildExtractor(); err != nil {
			a.Gateway.Close()
			return nil, err
		}
	}
	if a.searcher == nil {
		endpoint := cfg.Pricing.SearchEndpoint
		if endpoint == "" && cfg.Extractor.Kind == "remote" {
			endpoint = cfg.Extractor.Endpoint
		}
		if endpoint != "" {
			a.searcher = pricing.NewRemoteSearcher(endpoint, &http.Client{Timeout: cfg.Extractor.Timeout})
		}
	}

	switch cfg.Crawler.Checkpoint.Backend {
	case "file":
		fs, err := checkpoint.NewFileStore(cfg.Crawler.Checkpoint.Path)
		if err != nil {
			a.Gateway.Close()
			return nil, err
		}
		a.checkpoints = fs
	default:
		a.checkpoints = checkpoint.NewGatewayStore(a.Gateway)
	}
	return a, nil
}

func (a *App) buildExtractor() error {
	cfg := a.Config
	var base extract.Extractor
	switch cfg.Extractor.Kind {
	case "remote":
		base = extract.NewRemoteExtractor(cfg.Extractor.Endpoint, &http.Client{Timeout: cfg.Extractor.Timeout})
	case "html", "":
		base = extract.NewHTMLExtractor(cfg.Crawler.UserAgent, cfg.Extractor.Selectors, extract.WithTimeout(cfg.Extractor.Timeout))
	default:
		return &config.ConfigError{Field: "extractor.kind", Message: fmt.Sprintf("unknown extractor %q", cfg.Extractor.Kind)}
	}

	a.extractor = extract.Throttle(base, cfg.Crawler.RequestsPerMinute, cfg.Crawler.Burst)
	counter, ok := a.extractor.(extract.PageCounter)
	if !ok {
		return fmt.Errorf("extractor %q cannot count pages", cfg.Extractor.Kind)
	}
	a.counter = counter
	return nil
}

// Policy is the retry policy of page extraction.
func (a *App) Policy() retry.Policy {
	r := a.Config.Crawler.Retry
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		Multiplier:  r.Multiplier,
		MaxDelay:    r.MaxDelay,
	}
}

// Controller builds the crawl controller of a target together with its run
// logger, which the caller closes after the run.
func (a *App) Controller(target config.Target) (*crawler.Controller, *utils.RunLogger, error) {
	runLog, err := utils.NewRunLogger(a.Config.Logging.Dir, target.Name, a.Config.Logging.Level)
	if err != nil {
		return nil, nil, err
	}

	c, err := crawler.NewController(crawler.Config{
		RootURL:         target.RootURL,
		PageURLTemplate: target.PageURLTemplate,
		Policy:          a.Policy(),
		OnExhausted:     crawler.OnExhausted(a.Config.Crawler.OnExhausted),
	}, a.extractor, a.counter, a.Gateway,
		crawler.WithCheckpointStore(a.checkpoints),
		crawler.WithLogger(runLog),
		crawler.WithMetrics(a.Metrics),
	)
	if err != nil {
		runLog.Close()
		return nil, nil, err
	}
	return c, runLog, nil
}

// claim marks rootURL as being crawled. It reports false when a crawl of
// rootURL is already running, started by Crawl or by Launch.
func (a *App) claim(rootURL string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running[rootURL] {
		return false
	}
	a.running[rootURL] = true
	return true
}

func (a *App) release(rootURL string) {
	a.mu.Lock()
	delete(a.running, rootURL)
	a.mu.Unlock()
}

// Crawl runs the targets concurrently up to crawler.max_concurrent_crawls.
// A target whose root URL is already being crawled is not started; its
// outcome carries api.ErrCrawlRunning.
func (a *App) Crawl(ctx context.Context, targets []config.Target) ([]crawler.Outcome, error) {
	if len(targets) == 0 {
		return nil, errors.New("no crawl targets configured")
	}

	outcomes := make([]crawler.Outcome, len(targets))
	var (
		controllers []*crawler.Controller
		slots       []int
		claimed     []string
		logs        []*utils.RunLogger
	)
	defer func() {
		for _, l := range logs {
			l.Close()
		}
		for _, u := range claimed {
			a.release(u)
		}
	}()
	for i, t := range targets {
		outcomes[i].RootURL = t.RootURL
		if !a.claim(t.RootURL) {
			a.Logger.Warn("crawl already running, skipping", utils.String("root_url", t.RootURL))
			outcomes[i].Err = api.ErrCrawlRunning
			continue
		}
		claimed = append(claimed, t.RootURL)

		c, runLog, err := a.Controller(t)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		controllers = append(controllers, c)
		logs = append(logs, runLog)
		slots = append(slots, i)
	}

	a.Logger.Info("starting crawls",
		utils.Int("targets", len(controllers)),
		utils.Int("max_concurrent", a.Config.Crawler.MaxConcurrentCrawls))
	for j, o := range crawler.RunAll(ctx, controllers, a.Config.Crawler.MaxConcurrentCrawls) {
		outcomes[slots[j]] = o
		if o.Err != nil {
			a.Logger.Error("crawl failed", utils.String("root_url", o.RootURL), utils.Err(o.Err))
			continue
		}
		a.Logger.Info("crawl completed", utils.String("root_url", o.RootURL), utils.String("session_id", o.Record.SessionID))
	}
	return outcomes, nil
}

// Launch starts a crawl of target in the background. A target already being
// crawled is refused with api.ErrCrawlRunning.
func (a *App) Launch(target config.Target) (string, error) {
	if !a.claim(target.RootURL) {
		return "", api.ErrCrawlRunning
	}
	c, runLog, err := a.Controller(target)
	if err != nil {
		a.release(target.RootURL)
		return "", err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.release(target.RootURL)
		defer runLog.Close()

		if _, err := c.Run(a.baseCtx); err != nil {
			a.Logger.Error("crawl failed", utils.String("root_url", target.RootURL), utils.Err(err))
			return
		}
		a.Logger.Info("crawl completed", utils.String("root_url", target.RootURL))
	}()
	return target.RootURL, nil
}

// Scheduler returns a stopped cron scheduler that crawls every target on
// crawler.schedule. A tick that fires while the previous crawl still runs
// is skipped.
func (a *App) Scheduler(ctx context.Context) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{a.Logger})))
	_, err := scheduler.AddFunc(a.Config.CronSpec(), func() {
		a.Logger.Info("starting scheduled crawl")
		if _, err := a.Crawl(ctx, a.Config.Targets()); err != nil {
			a.Logger.Error("scheduled crawl failed", utils.Err(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid crawl schedule %q: %w", a.Config.CronSpec(), err)
	}
	return scheduler, nil
}

// cronLogger routes scheduler messages to the application log.
type cronLogger struct {
	log utils.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, utils.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, utils.Err(err), utils.Any("details", keysAndValues))
}

// Wait blocks until every launched crawl has returned.
func (a *App) Wait() {
	a.wg.Wait()
}

// AnalysisResult is what Analyze produced for one session.
type AnalysisResult struct {
	SessionID  string          `json:"session_id"`
	Statistics analysis.Report `json:"statistics"`
	Pricing    *pricing.Report `json:"pricing,omitempty"`
}

// Analyze computes session statistics and, when a market searcher is
// configured, price analyses for the session's firearms.
func (a *App) Analyze(ctx context.Context, sessionID string) (*AnalysisResult, error) {
	session, err := a.Gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}

	stats, err := analysis.ComputeSession(ctx, a.Gateway, sessionID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("compute statistics: %w", err)
	}
	result := &AnalysisResult{SessionID: sessionID, Statistics: stats}

	if a.searcher == nil {
		a.Logger.Warn("no market searcher configured, skipping price analysis", utils.String("session_id", sessionID))
		return result, nil
	}
	cache, err := pricing.NewCache(a.Gateway, a.Config.Pricing.LRUSize, pricing.WithCacheMetrics(a.Metrics))
	if err != nil {
		return nil, err
	}
	svc := pricing.NewService(cache, a.searcher, a.Gateway, a.Logger, a.Config.Pricing.MaxAgeDays)
	report, err := svc.AnalyzeSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("analyze prices: %w", err)
	}
	result.Pricing = &report
	return result, nil
}

func (a *App) Close() error {
	return a.Gateway.Close()
}
