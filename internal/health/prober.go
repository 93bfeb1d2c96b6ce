package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"platformctl/pkg/logging"
)

// ErrInvalidTarget is returned when a probe target cannot be checked at all.
var ErrInvalidTarget = errors.New("invalid probe target")

// Target is the endpoint a probe checks. An empty Path selects a TCP connect
// check, anything else an HTTP GET.
type Target struct {
	Host string
	Port int
	Path string
}

// Address returns host:port.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// URL returns the HTTP health URL, or an empty string for TCP targets.
func (t Target) URL() string {
	if t.Path == "" {
		return ""
	}
	return "http://" + t.Address() + t.Path
}

func (t Target) validate() error {
	if t.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidTarget, t.Port)
	}
	return nil
}

// Policy bounds a probe: Attempts checks spaced Interval apart, each limited
// to Timeout.
type Policy struct {
	Attempts int
	Interval time.Duration
	Timeout  time.Duration
}

// Result is the outcome of a probe. Failure is a value, never an error.
type Result struct {
	Healthy    bool          `json:"healthy"`
	Attempts   int           `json:"attempts"`
	StatusCode int           `json:"status_code,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Prober runs HTTP and TCP health checks.
type Prober struct {
	client *http.Client
	dialer *net.Dialer
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// NewProber creates a prober with its own HTTP transport.
func NewProber() *Prober {
	return &Prober{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:             nil,
				DisableKeepAlives: true,
			},
			// Never follow redirects; a 3xx is already a healthy answer.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialer: &net.Dialer{},
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Probe repeats checks until one succeeds or the attempts are exhausted.
func (p *Prober) Probe(ctx context.Context, target Target, policy Policy) (Result, error) {
	if err := target.validate(); err != nil {
		return Result{}, err
	}

	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	start := p.now()
	var result Result
	for attempt := 1; attempt <= attempts; attempt++ {
		result = p.check(ctx, target, policy.Timeout)
		result.Attempts = attempt
		if result.Healthy {
			break
		}
		logging.Debug("Prober", "%s attempt %d/%d failed: %s", target.Address(), attempt, attempts, result.LastError)

		if attempt == attempts {
			break
		}
		if err := p.sleep(ctx, policy.Interval); err != nil {
			result.LastError = err.Error()
			break
		}
	}
	result.Elapsed = p.now().Sub(start)
	return result, nil
}

// Check performs a single attempt.
func (p *Prober) Check(ctx context.Context, target Target, timeout time.Duration) (Result, error) {
	if err := target.validate(); err != nil {
		return Result{}, err
	}
	start := p.now()
	result := p.check(ctx, target, timeout)
	result.Attempts = 1
	result.Elapsed = p.now().Sub(start)
	return result, nil
}

func (p *Prober) check(ctx context.Context, target Target, timeout time.Duration) Result {
	result := Result{CheckedAt: p.now()}
	if err := ctx.Err(); err != nil {
		result.LastError = err.Error()
		return result
	}

	checkCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if target.Path == "" {
		conn, err := p.dialer.DialContext(checkCtx, "tcp", target.Address())
		if err != nil {
			result.LastError = err.Error()
			return result
		}
		conn.Close()
		result.Healthy = true
		return result
	}

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, target.URL(), nil)
	if err != nil {
		result.LastError = err.Error()
		return result
	}
	resp, err := p.client.Do(req)
	if err != nil {
		result.LastError = err.Error()
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	result.StatusCode = resp.StatusCode
	if resp.StatusCode < http.StatusBadRequest {
		result.Healthy = true
	} else {
		result.LastError = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return result
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
