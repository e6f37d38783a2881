// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout executes fn under a deadline. The operation goroutine is
// abandoned on timeout; fn must honor ctx to stop its own work.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
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
		return nil, fmt.Errorf("operation exceeded %s timeout: %w", d, ctx.Err())
	case res := <-done:
		return res.value, res.err
	}
}
