package crawler

import (
	"context"
	"sync"

	"github.com/romangod6/listing-harvester/internal/models"
)

// Outcome is the result of one controller in a RunAll batch.
type Outcome struct {
	RootURL string
	Record  *models.RunRecord
	Err     error
}

// RunAll runs independent controllers with at most maxConcurrent in flight
// and returns their outcomes in input order. Controllers still waiting for a
// slot when ctx ends are not started.
func RunAll(ctx context.Context, controllers []*Controller, maxConcurrent int) []Outcome {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	outcomes := make([]Outcome, len(controllers))
	semaphore := make(chan struct{}, maxConcurrent)
	wg := sync.WaitGroup{}

	for i, c := range controllers {
		outcomes[i].RootURL = c.config.RootURL
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}

		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			outcomes[i].Err = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, c *Controller) {
			defer wg.Done()
			defer func() { <-semaphore }()

			rec, err := c.Run(ctx)
			outcomes[i].Record = rec
			outcomes[i].Err = err
		}(i, c)
	}

	wg.Wait()
	return outcomes
}
