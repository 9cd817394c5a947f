package extract

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/romangod6/listing-harvester/internal/models"
)

// Throttled spaces out the calls of an Extractor (and its PageCounter, when
// it has one) with a token bucket.
type Throttled struct {
	next    Extractor
	limiter *rate.Limiter
}

// Throttle wraps next so that it is called at most perMinute times a minute.
// A non-positive rate returns next unchanged.
func Throttle(next Extractor, perMinute float64, burst int) Extractor {
	if perMinute <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perMinute/60), burst),
	}
}

func (t *Throttled) Extract(ctx context.Context, pageURL string) (Result, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return t.next.Extract(ctx, pageURL)
}

func (t *Throttled) CountPages(ctx context.Context, rootURL string) (int, models.ExecutionInfo, error) {
	pc, ok := t.next.(PageCounter)
	if !ok {
		return 0, nil, &FatalError{URL: rootURL, Err: errUncountable}
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	return pc.CountPages(ctx, rootURL)
}
