package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := New()
	m.OpportunitiesTotal.Inc()
	m.TotalProfit.Set(42)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "opportunities_total 1")
	assert.Contains(t, body, "total_profit 42")
}

func TestHealthLoopSamplesRSS(t *testing.T) {
	m := New()
	loop, err := NewHealthLoop(m, 1, 10*time.Millisecond) // soft cap of 1 byte: always "over"
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	overCapCh := make(chan uint64, 1)
	loop.Run(ctx, func(rss uint64) {
		select {
		case overCapCh <- rss:
		default:
		}
	})

	select {
	case rss := <-overCapCh:
		assert.Greater(t, rss, uint64(0))
	default:
		t.Fatal("expected at least one over-cap callback before context deadline")
	}
}
