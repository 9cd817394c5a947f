package crawler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romangod6/listing-harvester/internal/extract"
	"github.com/romangod6/listing-harvester/internal/models"
)

func TestRunAllBoundsConcurrency(t *testing.T) {
	g := newTestGateway(t)

	var inFlight, peak atomic.Int32
	ex := extract.ExtractorFunc(func(ctx context.Context, url string) (extract.Result, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return valid(url, 1), nil
	})

	var controllers []*Controller
	for i := 0; i < 4; i++ {
		root := fmt.Sprintf("https://shop%d.example.test/list", i)
		c, err := NewController(Config{
			RootURL:         root,
			PageURLTemplate: root + "/{page}",
			Policy:          fastPolicy(),
		}, ex, &fakeCounter{total: 2}, g)
		require.NoError(t, err)
		controllers = append(controllers, c)
	}

	outcomes := RunAll(context.Background(), controllers, 2)
	require.Len(t, outcomes, 4)
	for i, o := range outcomes {
		require.NoError(t, o.Err)
		assert.Equal(t, controllers[i].config.RootURL, o.RootURL)
		assert.Equal(t, models.StatusCompleted, o.Record.Status)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))

	n, err := g.CountSessions(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestRunAllSkipsQueuedAfterCancel(t *testing.T) {
	g := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := NewController(Config{RootURL: rootURL, PageURLTemplate: template, Policy: fastPolicy()},
		newFakeExtractor(nil), &fakeCounter{total: 1}, g)
	require.NoError(t, err)

	outcomes := RunAll(ctx, []*Controller{c}, 1)
	require.Len(t, outcomes, 1)
	assert.Error(t, outcomes[0].Err)
}
