package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolink/admit/events"
	"github.com/toolink/admit/limiter"
	"github.com/toolink/admit/metrics"
	"github.com/toolink/admit/store"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newEngine(t *testing.T) (*limiter.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	st, err := store.NewRedisStore(client, store.WithTimeout(500*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	e, err := limiter.NewEngine(st)
	require.NoError(t, err)
	return e, mr
}

func testConfig(window time.Duration, maxRequests int64) Config {
	return Config{
		Name:    "test",
		Policy:  limiter.Policy{Scope: "test", Window: window, MaxRequests: maxRequests, Algorithm: limiter.KindAtomicWindow},
		KeyFunc: RemoteIP,
	}
}

func serve(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// captureLog redirects the global logger for the duration of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })
	return &buf
}

func TestMiddleware_Metadata(t *testing.T) {
	e, _ := newEngine(t)
	g, err := NewGuard(e, testConfig(60*time.Second, 10))
	require.NoError(t, err)
	h := g.Middleware(okHandler)

	before := time.Now().Truncate(time.Millisecond)
	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = serve(h, "192.0.2.1:5555")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, "10", rec.Header().Get(HeaderLimit))
	assert.Equal(t, "7", rec.Header().Get(HeaderRemaining))
	assert.Equal(t, "60000", rec.Header().Get(HeaderWindow))

	reset, err := time.Parse(ResetLayout, rec.Header().Get(HeaderReset))
	require.NoError(t, err)
	assert.False(t, reset.Before(before), "reset %s before %s", reset, before)
	assert.False(t, reset.After(time.Now().Add(60*time.Second)))
	assert.True(t, strings.HasSuffix(rec.Header().Get(HeaderReset), "Z"))
}

func TestMiddleware_RemainingDecreasesThenBlocks(t *testing.T) {
	e, _ := newEngine(t)
	g, err := NewGuard(e, testConfig(time.Minute, 3))
	require.NoError(t, err)
	h := g.Middleware(okHandler)

	for want := 2; want >= 0; want-- {
		rec := serve(h, "192.0.2.2:1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, strconv.Itoa(want), rec.Header().Get(HeaderRemaining))
	}

	rec := serve(h, "192.0.2.2:1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0", rec.Header().Get(HeaderRemaining))

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Too Many Requests", body.Error)
	assert.NotEmpty(t, body.Message)
	assert.GreaterOrEqual(t, body.RetryAfter, int64(0))
	assert.LessOrEqual(t, body.RetryAfter, int64(60))
	assert.Equal(t, strconv.FormatInt(body.RetryAfter, 10), rec.Header().Get(HeaderRetryAfter))

	// a different address is unaffected
	assert.Equal(t, http.StatusOK, serve(h, "192.0.2.3:1").Code)
}

func TestMiddleware_FailOpen(t *testing.T) {
	e, mr := newEngine(t)
	buf := captureLog(t)
	rec := newFakeRecorder()
	sink := events.NewMemorySink(100)

	cfg := testConfig(time.Minute, 1)
	g, err := NewGuard(e, cfg, WithRecorder(rec), WithSink(sink))
	require.NoError(t, err)
	h := g.Middleware(okHandler)

	mr.SetError("ERR simulated outage")
	const calls = 20
	for i := 0; i < calls; i++ {
		res := serve(h, "198.51.100.7:80")
		require.Equal(t, http.StatusOK, res.Code, "call %d", i)
		assert.Empty(t, res.Header().Get(HeaderLimit))
		assert.Empty(t, res.Header().Get(HeaderRemaining))
		assert.Empty(t, res.Header().Get(HeaderReset))
	}

	assert.Equal(t, calls, strings.Count(buf.String(), "rate limit store unavailable, failing open"))
	assert.Contains(t, buf.String(), `"identifier":"198.51.100.7"`)
	assert.Contains(t, buf.String(), `"algorithm":"atomic"`)

	degraded, err := sink.Recent(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, degraded, calls)
	for _, ev := range degraded {
		assert.Equal(t, events.KindDegraded, ev.Kind)
		assert.NotEmpty(t, ev.Error)
	}

	assert.Equal(t, calls, rec.decisions[metrics.OutcomeDegraded])
	assert.Zero(t, rec.decisions[metrics.OutcomePass])
	assert.Zero(t, rec.decisions[metrics.OutcomeBlock])
	assert.Equal(t, calls, rec.latencies)
}

// fakeRecorder counts decisions by outcome.
type fakeRecorder struct {
	mu        sync.Mutex
	decisions map[metrics.Outcome]int
	latencies int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{decisions: make(map[metrics.Outcome]int)}
}

func (f *fakeRecorder) Decision(_, _ string, outcome metrics.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions[outcome]++
}

func (f *fakeRecorder) Latency(string, string, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latencies++
}

func TestMiddleware_OnLimitReached(t *testing.T) {
	e, _ := newEngine(t)
	cfg := testConfig(time.Minute, 1)
	var called []string
	cfg.OnLimitReached = func(w http.ResponseWriter, r *http.Request, identifier string) {
		called = append(called, identifier)
		out, ok := OutcomeFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, StateBlock, out.State)
		w.WriteHeader(http.StatusTeapot)
	}
	g, err := NewGuard(e, cfg)
	require.NoError(t, err)
	h := g.Middleware(okHandler)

	assert.Equal(t, http.StatusOK, serve(h, "203.0.113.5:1").Code)
	rec := serve(h, "203.0.113.5:1")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "0", rec.Header().Get(HeaderRemaining), "headers are set before the callback")
	assert.Equal(t, []string{"203.0.113.5"}, called)
}

func TestMiddleware_BlockEmitsEvent(t *testing.T) {
	e, _ := newEngine(t)
	sink := events.NewMemorySink(10)
	g, err := NewGuard(e, testConfig(time.Minute, 1), WithSink(sink))
	require.NoError(t, err)
	h := g.Middleware(okHandler)

	serve(h, "203.0.113.6:1")
	serve(h, "203.0.113.6:1")

	got, err := sink.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, events.KindBlocked, got[0].Kind)
	assert.Equal(t, "203.0.113.6", got[0].Identifier)
	assert.Equal(t, "test", got[0].Preset)
}

func TestMiddleware_EmptyIdentifierSkipsStore(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Close()) // any store call would degrade
	e, err := limiter.NewEngine(st)
	require.NoError(t, err)

	cfg := testConfig(time.Minute, 1)
	cfg.KeyFunc = func(*http.Request) string { return "" }
	g, err := NewGuard(e, cfg)
	require.NoError(t, err)

	var out Outcome
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, _ = OutcomeFromContext(r.Context())
	}))
	for i := 0; i < 3; i++ {
		rec := serve(h, "192.0.2.9:1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get(HeaderLimit))
	}
	assert.True(t, out.Skipped)
	assert.False(t, out.Degraded)
	assert.Equal(t, StatePass, out.State)
}

func TestMiddleware_OutcomeInContext(t *testing.T) {
	e, _ := newEngine(t)
	g, err := NewGuard(e, testConfig(time.Minute, 5))
	require.NoError(t, err)

	var out Outcome
	var ok bool
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, ok = OutcomeFromContext(r.Context())
	}))
	serve(h, "192.0.2.10:1")

	require.True(t, ok)
	assert.Equal(t, StatePass, out.State)
	assert.Equal(t, "192.0.2.10", out.Identifier)
	assert.Equal(t, int64(1), out.Decision.TotalHits)
	assert.Equal(t, int64(4), out.Decision.Remaining)
}

func TestNewGuard_Validation(t *testing.T) {
	e, err := limiter.NewEngine(store.NewMemoryStore())
	require.NoError(t, err)

	_, err = NewGuard(nil, testConfig(time.Minute, 1))
	assert.Error(t, err)

	cfg := testConfig(time.Minute, 1)
	cfg.KeyFunc = nil
	_, err = NewGuard(e, cfg)
	assert.ErrorIs(t, err, limiter.ErrInvalidConfiguration)

	cfg = testConfig(time.Minute, 1)
	cfg.Name = ""
	_, err = NewGuard(e, cfg)
	assert.ErrorIs(t, err, limiter.ErrInvalidConfiguration)

	_, err = NewGuard(e, testConfig(0, 1))
	assert.ErrorIs(t, err, limiter.ErrInvalidConfiguration)

	_, err = NewGuard(e, testConfig(time.Minute, 0))
	assert.ErrorIs(t, err, limiter.ErrInvalidConfiguration)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, int64(0), retryAfterSeconds(-time.Second))
	assert.Equal(t, int64(0), retryAfterSeconds(0))
	assert.Equal(t, int64(1), retryAfterSeconds(time.Millisecond))
	assert.Equal(t, int64(1), retryAfterSeconds(time.Second))
	assert.Equal(t, int64(2), retryAfterSeconds(1001*time.Millisecond))
}
