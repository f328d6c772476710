// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotReady is returned when the readiness deadline passes.
var ErrNotReady = errors.New("worker not ready")

// ReadinessCheck polls an HTTP endpoint with exponential backoff until it answers 2xx.
type ReadinessCheck struct {
	endpoint        string
	client          *http.Client
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
}

// CheckResult is the outcome of a single readiness attempt.
type CheckResult struct {
	Success      bool
	StatusCode   int
	ResponseTime time.Duration
	Error        error
}

// NewReadinessCheck creates a readiness check for endpoint.
// Default backoff: 50ms initial, 2x multiplier, 1s max interval.
func NewReadinessCheck(endpoint string) *ReadinessCheck {
	return &ReadinessCheck{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		initialInterval: 50 * time.Millisecond,
		maxInterval:     1 * time.Second,
		multiplier:      2.0,
	}
}

// withBackoff overrides the backoff parameters.
func (p *ReadinessCheck) withBackoff(initial, max time.Duration, multiplier float64) *ReadinessCheck {
	p.initialInterval = initial
	p.maxInterval = max
	p.multiplier = multiplier
	return p
}

// Check performs a single request.
func (p *ReadinessCheck) Check(ctx context.Context) *CheckResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return &CheckResult{Error: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return &CheckResult{ResponseTime: elapsed, Error: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	return &CheckResult{
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode:   resp.StatusCode,
		ResponseTime: elapsed,
	}
}

// Wait polls until the endpoint is ready, ctx is done, or timeout elapses.
// Returns the number of attempts made.
func (p *ReadinessCheck) Wait(ctx context.Context, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := p.initialInterval
	attempts := 0

	for {
		attempts++
		result := p.Check(ctx)
		if result.Success {
			return attempts, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			last := result.Error
			if last == nil {
				last = fmt.Errorf("status %d", result.StatusCode)
			}
			return attempts, fmt.Errorf("%w after %d attempts: %v", ErrNotReady, attempts, last)
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * p.multiplier)
		if interval > p.maxInterval {
			interval = p.maxInterval
		}
	}
}
