package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"platformctl/internal/health"
	"platformctl/pkg/logging"
)

// ErrNetworkUnreachable aborts a run before any service is touched.
var ErrNetworkUnreachable = errors.New("network unreachable")

// checkNetwork dials the configured targets until one answers. Each attempt
// tries every target; attempts are separated by the configured interval.
func (o *Orchestrator) checkNetwork(ctx context.Context) error {
	network := o.cfg.Network
	if !network.Enabled || len(network.Targets) == 0 {
		return nil
	}

	targets := make([]health.Target, 0, len(network.Targets))
	for _, raw := range network.Targets {
		host, portStr, err := net.SplitHostPort(raw)
		if err != nil {
			return fmt.Errorf("invalid network target %q: %w", raw, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid network target %q: %w", raw, err)
		}
		targets = append(targets, health.Target{Host: host, Port: port})
	}

	attempts := network.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr string
	for attempt := 1; attempt <= attempts; attempt++ {
		for _, target := range targets {
			res, err := o.prober.Check(ctx, target, network.Timeout)
			if err != nil {
				return err
			}
			if res.Healthy {
				logging.Debug("Orchestrator", "Network reachable via %s", target.Address())
				return nil
			}
			lastErr = res.LastError
		}
		logging.Warn("Orchestrator", "Network check attempt %d/%d failed: %s", attempt, attempts, lastErr)
		if attempt < attempts {
			if err := o.sleep(ctx, network.Interval); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %s", ErrNetworkUnreachable, attempts, lastErr)
}
