// Package notify delivers platform events to a webhook on a best-effort basis.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"platformctl/internal/config"
	"platformctl/pkg/logging"
)

// EventKind is the event_type field of the payload.
type EventKind string

const (
	KindPlatformStartup EventKind = "platform_startup"
	KindServiceHealth   EventKind = "service_health"
	KindConfigCleanup   EventKind = "config_cleanup"
	KindErrorAlert      EventKind = "error_alert"
)

// Event is constructed, dispatched and discarded.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Data      any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind EventKind, data any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Data: data}
}

type payload struct {
	Timestamp string    `json:"timestamp"`
	EventType EventKind `json:"event_type"`
	Platform  string    `json:"platform"`
	Source    string    `json:"source"`
	RunID     string    `json:"run_id,omitempty"`
	Data      any       `json:"data"`
}

// Result reports what happened to one dispatch. It is never an exception.
type Result struct {
	Delivered  bool
	Skipped    bool
	Attempts   int
	StatusCode int
	Err        error
}

// Options carries collaborators that tests replace.
type Options struct {
	Platform string
	Client   *http.Client
	// Sleep waits between attempts; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Observe is called once per finished dispatch.
	Observe func(kind EventKind, res Result)
}

// Notifier posts events to the configured webhook.
type Notifier struct {
	cfg      config.NotificationConfig
	platform string
	client   *http.Client
	sleep    func(ctx context.Context, d time.Duration) error
	observe  func(kind EventKind, res Result)
	breaker  *gobreaker.CircuitBreaker[int]

	mu    sync.RWMutex
	runID string

	inflight conc.WaitGroup
}

// New creates a notifier. A disabled config or empty URL yields a notifier
// whose every dispatch is a no-op.
func New(cfg config.NotificationConfig, opts Options) *Notifier {
	n := &Notifier{
		cfg:      cfg,
		platform: opts.Platform,
		client:   opts.Client,
		sleep:    opts.Sleep,
		observe:  opts.Observe,
	}
	if n.client == nil {
		n.client = &http.Client{}
	}
	if n.sleep == nil {
		n.sleep = sleepContext
	}
	if n.cfg.Source == "" {
		n.cfg.Source = "platformctl"
	}

	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 10
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	n.breaker = gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Notifier", "Circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return n
}

// Enabled reports whether dispatches go anywhere.
func (n *Notifier) Enabled() bool {
	return n != nil && n.cfg.Enabled && n.cfg.WebhookURL != ""
}

// SetRunID tags subsequent payloads with the orchestration run.
func (n *Notifier) SetRunID(id string) {
	n.mu.Lock()
	n.runID = id
	n.mu.Unlock()
}

// Send dispatches synchronously with bounded retries. Each failed attempt is
// followed by its backoff delay (base, 2x base, 4x base, ...). Send never
// panics and never returns an error past the Result.
func (n *Notifier) Send(ctx context.Context, ev Event) Result {
	if !n.Enabled() {
		return Result{Skipped: true}
	}

	var res Result
	var catcher panics.Catcher
	catcher.Try(func() { res = n.send(ctx, ev) })
	if recovered := catcher.Recovered(); recovered != nil {
		res = Result{Err: recovered.AsError()}
		logging.Error("Notifier", res.Err, "Dispatch of %s panicked", ev.Kind)
	}
	if n.observe != nil {
		n.observe(ev.Kind, res)
	}
	return res
}

func (n *Notifier) send(ctx context.Context, ev Event) Result {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	n.mu.RLock()
	runID := n.runID
	n.mu.RUnlock()

	body, err := json.Marshal(payload{
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
		EventType: ev.Kind,
		Platform:  n.platform,
		Source:    n.cfg.Source,
		RunID:     runID,
		Data:      ev.Data,
	})
	if err != nil {
		logging.Error("Notifier", err, "Could not encode %s event", ev.Kind)
		return Result{Err: fmt.Errorf("encoding payload: %w", err)}
	}

	attempts := n.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	schedule := n.schedule()

	var res Result
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt
		status, err := n.breaker.Execute(func() (int, error) {
			return n.post(ctx, body)
		})
		res.StatusCode = status
		if err == nil {
			res.Delivered = true
			res.Err = nil
			logging.Debug("Notifier", "Delivered %s event (HTTP %d, attempt %d)", ev.Kind, status, attempt)
			return res
		}
		res.Err = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn("Notifier", "Webhook circuit open, dropping %s event", ev.Kind)
			break
		}

		delay := schedule.NextBackOff()
		logging.Warn("Notifier", "Attempt %d/%d for %s event failed: %v (waiting %s)", attempt, attempts, ev.Kind, err, delay)
		if err := n.sleep(ctx, delay); err != nil {
			res.Err = err
			break
		}
	}

	logging.Error("Notifier", res.Err, "Giving up on %s event after %d attempt(s)", ev.Kind, res.Attempts)
	return res
}

// schedule returns the delay generator: base, 2x base, 4x base, no jitter.
func (n *Notifier) schedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.cfg.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = n.cfg.RetryDelay << 16
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (n *Notifier) post(ctx context.Context, body []byte) (int, error) {
	reqCtx := ctx
	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", n.cfg.Source)

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Go dispatches in the background. The caller never waits for delivery.
func (n *Notifier) Go(ev Event) {
	if !n.Enabled() {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	n.inflight.Go(func() {
		n.Send(context.Background(), ev)
	})
}

// Flush waits up to timeout for background dispatches. It reports whether
// all of them finished.
func (n *Notifier) Flush(timeout time.Duration) bool {
	if n == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		n.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		logging.Warn("Notifier", "Timed out after %s waiting for notifications", timeout)
		return false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
