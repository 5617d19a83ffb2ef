// Package probe implements single-shot, timeout-bounded reachability checks.
package probe

import (
	"context"
	"fmt"
	"time"

	"serverwatch/internal/models"
)

// DefaultTimeout bounds a probe when the caller passes none.
const DefaultTimeout = 2 * time.Second

// Prober checks whether an address answers. A nil error means reachable.
// Implementations must honour ctx cancellation.
type Prober interface {
	Probe(ctx context.Context, address string) error
}

// Func adapts a plain function to the Prober interface.
type Func func(ctx context.Context, address string) error

// Probe calls f.
func (f Func) Probe(ctx context.Context, address string) error {
	return f(ctx, address)
}

// Check reports whether address is reachable within timeout. Every failure,
// including a panicking prober, is folded into false.
func Check(ctx context.Context, p Prober, address string, timeout time.Duration) bool {
	return Run(ctx, p, models.Target{Address: address}, timeout).OK
}

// Run probes the target and returns the outcome with the raw error kept for diagnostics.
func Run(ctx context.Context, p Prober, target models.Target, timeout time.Duration) models.ProbeResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := probeWithin(ctx, p, target.Address)
	result := models.ProbeResult{
		Target:    target.Name,
		Address:   target.Address,
		OK:        err == nil,
		Latency:   time.Since(started),
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// probeWithin stops waiting at the deadline even if the prober ignores ctx.
func probeWithin(ctx context.Context, p Prober, address string) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panic: %v", r)
			}
		}()
		done <- p.Probe(ctx, address)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("probe timed out: %w", ctx.Err())
	}
}
