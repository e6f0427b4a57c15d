package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errUpstream = errors.New("upstream down")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.MaxRequests = 5
	cfg.Timeout = 100 * time.Millisecond
	cfg.Interval = 200 * time.Millisecond
	return cfg
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("embedding-service", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State(), "successes never trip the breaker")

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(ctx, func() error { return errUpstream }))
	}
	assert.Equal(t, StateOpen, cb.State(), "hitting the failure threshold opens")

	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen, "open breaker sheds load without calling")

	// After the open timeout the next probe runs half-open.
	time.Sleep(150 * time.Millisecond)
	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State(), "enough half-open successes close again")
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("qdrant", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errUpstream })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(150 * time.Millisecond)
	_ = cb.Execute(ctx, func() error { return errUpstream })
	assert.Equal(t, StateOpen, cb.State(), "a half-open failure reopens immediately")
}

func TestHalfOpenRequestCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequests = 2
	cfg.SuccessThreshold = 5 // keep it half-open for the whole test
	cb := NewCircuitBreaker("qdrant", cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	cb.mutex.Lock()
	cb.state = StateHalfOpen
	cb.generation++
	cb.counts = Counts{}
	cb.mutex.Unlock()

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestCountsTrackOutcomes(t *testing.T) {
	cb := NewCircuitBreaker("embedding-service", DefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errUpstream })
	_ = cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
}

func TestStateChangeCallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2

	var from, to State
	called := false
	cfg.OnStateChange = func(_ string, f, s State) {
		called = true
		from, to = f, s
	}

	cb := NewCircuitBreaker("embedding-service", cfg, zaptest.NewLogger(t))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error { return errUpstream })
	}

	require.True(t, called)
	assert.Equal(t, StateClosed, from)
	assert.Equal(t, StateOpen, to)
}

func TestHTTPWrapperClassifiesStatuses(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "flaky-upstream", "gateway", zaptest.NewLogger(t))

	// 5xx answers come back to the caller but count as breaker failures.
	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, hw.cb.State(), "repeated 5xx trips the breaker")

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = hw.Do(req)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}
