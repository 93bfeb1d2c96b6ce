package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platformctl/internal/config"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testConfig(url string) config.NotificationConfig {
	return config.NotificationConfig{
		Enabled:       true,
		WebhookURL:    url,
		Source:        "platformctl-test",
		RetryAttempts: 3,
		RetryDelay:    2 * time.Second,
		Timeout:       time.Second,
	}
}

func TestSend_Disabled(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Enabled = false
	res := New(cfg, Options{}).Send(context.Background(), NewEvent(KindPlatformStartup, nil))
	assert.True(t, res.Skipped)
	assert.False(t, res.Delivered)

	cfg = testConfig("")
	res = New(cfg, Options{}).Send(context.Background(), NewEvent(KindPlatformStartup, nil))
	assert.True(t, res.Skipped)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestSend_DeliversPayload(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := New(testConfig(server.URL), Options{Platform: "home-lab"})
	n.SetRunID("run-1")
	ts := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	res := n.Send(context.Background(), Event{Kind: KindServiceHealth, Timestamp: ts, Data: map[string]string{"api": "healthy"}})

	require.True(t, res.Delivered)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.NoError(t, res.Err)

	assert.Equal(t, "2026-05-04T03:02:01Z", got["timestamp"])
	assert.Equal(t, "service_health", got["event_type"])
	assert.Equal(t, "home-lab", got["platform"])
	assert.Equal(t, "platformctl-test", got["source"])
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, map[string]any{"api": "healthy"}, got["data"])
}

func TestSend_BoundedRetryWithDoublingDelays(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sleeper := &sleepRecorder{}
	res := New(testConfig(server.URL), Options{Sleep: sleeper.sleep}).
		Send(context.Background(), NewEvent(KindErrorAlert, map[string]string{"error": "x"}))

	assert.False(t, res.Delivered)
	assert.Error(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, sleeper.recorded())
}

func TestSend_SucceedsAfterRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sleeper := &sleepRecorder{}
	cfg := testConfig(server.URL)
	cfg.RetryAttempts = 5
	cfg.RetryDelay = 100 * time.Millisecond
	res := New(cfg, Options{Sleep: sleeper.sleep}).Send(context.Background(), NewEvent(KindConfigCleanup, nil))

	assert.True(t, res.Delivered)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.recorded())
}

func TestSend_CircuitBreakerStopsRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.RetryAttempts = 5
	cfg.BreakerThreshold = 2
	sleeper := &sleepRecorder{}
	n := New(cfg, Options{Sleep: sleeper.sleep})

	res := n.Send(context.Background(), NewEvent(KindServiceHealth, nil))
	assert.False(t, res.Delivered)
	assert.ErrorIs(t, res.Err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, 3, res.Attempts)

	// still open for the next event
	res = n.Send(context.Background(), NewEvent(KindServiceHealth, nil))
	assert.ErrorIs(t, res.Err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestSend_UnreachableEndpointDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sleeper := &sleepRecorder{}
	res := New(testConfig(url), Options{Sleep: sleeper.sleep}).Send(context.Background(), NewEvent(KindPlatformStartup, nil))
	assert.False(t, res.Delivered)
	assert.Error(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
}

func TestSend_UnencodablePayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	res := New(testConfig(server.URL), Options{}).Send(context.Background(), NewEvent(KindErrorAlert, make(chan int)))
	assert.False(t, res.Delivered)
	assert.Error(t, res.Err)
	assert.Equal(t, 0, res.Attempts)
}

func TestGoAndFlush(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	var mu sync.Mutex
	observed := map[EventKind]bool{}
	n := New(testConfig(server.URL), Options{Observe: func(kind EventKind, res Result) {
		mu.Lock()
		observed[kind] = res.Delivered
		mu.Unlock()
	}})

	n.Go(NewEvent(KindPlatformStartup, nil))
	n.Go(NewEvent(KindServiceHealth, nil))
	require.True(t, n.Flush(5*time.Second))

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[EventKind]bool{KindPlatformStartup: true, KindServiceHealth: true}, observed)
}

func TestFlush_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig(server.URL)
	cfg.Timeout = 10 * time.Second
	n := New(cfg, Options{})
	n.Go(NewEvent(KindPlatformStartup, nil))
	assert.False(t, n.Flush(50*time.Millisecond))
}
