package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/health"
)

// waitForStartup polls the worker's health endpoint until it answers
// healthy or timeout elapses, the same poll-until-ready loop
// embedded.ContainerdManager runs against its socket before declaring
// itself started.
func waitForStartup(ctx context.Context, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	checker := health.NewHTTPChecker(healthURL(port)).WithTimeout(2 * time.Second)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if checker.Check(ctx).Healthy {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("bridge: worker did not become healthy within %s", timeout)
		case <-ticker.C:
		}
	}
}

func healthURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/health", port)
}

// healthLoop runs the steady-state health probe on interval; after
// failuresToCrash consecutive failures it calls onUnhealthy once and
// stops, leaving the bridge's state transition to the caller.
func healthLoop(ctx context.Context, port int, interval time.Duration, failuresToCrash int, onUnhealthy func()) {
	checker := health.NewHTTPChecker(healthURL(port)).WithTimeout(interval / 2)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if checker.Check(ctx).Healthy {
				consecutive = 0
				continue
			}
			consecutive++
			if consecutive >= failuresToCrash {
				onUnhealthy()
				return
			}
		}
	}
}
