// SPDX-License-Identifier: Apache-2.0
// Package resilience provides timeout and fallback patterns for the engine's
// suspension points: the language-model call and capability invocations.
package resilience

import (
	"context"
	"time"

	"github.com/gafferhq/gaffer/pkg/errors"
)

// TimeoutConfig controls timeout behavior.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the operation.
	// Zero disables the boundary.
	Duration time.Duration
}

// Discarded is implemented by results that must undo side effects when the
// timeout boundary discards them. A result that arrives after the deadline
// was already reported to the caller is never seen again, so this is its
// one chance to roll back.
type Discarded interface {
	Discard()
}

// WithTimeoutResult executes fn with a timeout boundary, returning both
// result and error. The derived context is passed to fn so in-flight work
// observes cancellation and can roll back partial side effects. A successful
// result that loses the race against the deadline is drained and, when it
// implements Discarded, rolled back.
func WithTimeoutResult(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if config.Duration == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()

	type result struct {
		value interface{}
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				if d, ok := res.value.(Discarded); ok {
					d.Discard()
				}
			}
		}()
		return nil, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", config.Duration.String()).
			WithRecoverable(true)
	case res := <-done:
		return res.value, res.err
	}
}
