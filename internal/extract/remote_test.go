package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOracle(t *testing.T, handler func(req remoteRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteExtractorValid(t *testing.T) {
	srv := newOracle(t, func(req remoteRequest) (int, string) {
		assert.Equal(t, "https://shop/p/1.html", req.URL)
		assert.Equal(t, "listings", req.Schema)
		return 200, `{"result":{"listings":[{"title":"Glock","price":500,"listing_url":"https://shop/1"}]},
			"execution_info":{"total_tokens":1200}}`
	})

	res, err := NewRemoteExtractor(srv.URL, nil).Extract(context.Background(), "https://shop/p/1.html")
	require.NoError(t, err)
	assert.Equal(t, KindValid, res.Kind)
	assert.Equal(t, 1, res.Records.Len())
	assert.Equal(t, 1200.0, res.Info["total_tokens"])
}

func TestRemoteExtractorShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Kind
	}{
		{"null result", `{"result":null}`, KindEmpty},
		{"missing result", `{}`, KindEmpty},
		{"no listings", `{"result":{"listings":[]}}`, KindEmpty},
		{"malformed result", `{"result":"sorry, I could not read the page"}`, KindMalformed},
		{"unreadable envelope", `not json at all`, KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOracle(t, func(remoteRequest) (int, string) { return 200, tt.body })
			res, err := NewRemoteExtractor(srv.URL, nil).Extract(context.Background(), "https://shop/p/1.html")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Kind)
			assert.True(t, res.Empty())
		})
	}
}

func TestRemoteExtractorServerError(t *testing.T) {
	srv := newOracle(t, func(remoteRequest) (int, string) { return 502, "upstream down" })

	_, err := NewRemoteExtractor(srv.URL, nil).Extract(context.Background(), "https://shop/p/1.html")
	var fe *FatalError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, 502, fe.StatusCode)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestRemoteExtractorCountPages(t *testing.T) {
	srv := newOracle(t, func(req remoteRequest) (int, string) {
		assert.Equal(t, "page_count", req.Schema)
		return 200, `{"result":{"total_pages":12},"execution_info":{"model":"test"}}`
	})

	n, info, err := NewRemoteExtractor(srv.URL, nil).CountPages(context.Background(), "https://shop")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, "test", info["model"])
}

func TestRemoteExtractorCountPagesRejectsZero(t *testing.T) {
	srv := newOracle(t, func(remoteRequest) (int, string) { return 200, `{"result":{"total_pages":0}}` })

	_, _, err := NewRemoteExtractor(srv.URL, nil).CountPages(context.Background(), "https://shop")
	var fe *FatalError
	assert.True(t, errors.As(err, &fe), "got %v", err)
}

func TestRemoteExtractorCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewRemoteExtractor(srv.URL, nil).Extract(ctx, "https://shop/p/1.html")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThrottleWrapsCounter(t *testing.T) {
	srv := newOracle(t, func(remoteRequest) (int, string) { return 200, `{"result":{"total_pages":3}}` })

	ext := Throttle(NewRemoteExtractor(srv.URL, nil), 6000, 5)
	pc, ok := ext.(PageCounter)
	require.True(t, ok)

	n, _, err := pc.CountPages(context.Background(), "https://shop")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	plain := ExtractorFunc(func(context.Context, string) (Result, error) { return Result{}, nil })
	_, throttled := Throttle(plain, 0, 0).(*Throttled)
	assert.False(t, throttled)

	_, _, err = Throttle(plain, 60, 1).(PageCounter).CountPages(context.Background(), "https://shop")
	assert.ErrorIs(t, err, errUncountable)
}
