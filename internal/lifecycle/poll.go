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
	"fmt"
	"time"
)

// Backoff is an exponential polling schedule.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (b Backoff) next(interval time.Duration) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	interval = time.Duration(float64(interval) * mult)
	if b.Max > 0 && interval > b.Max {
		interval = b.Max
	}
	return interval
}

// Poll calls cond until it reports done, returns an error, or ctx is done.
// The interval between attempts grows according to b. It returns the number
// of attempts made. When ctx ends first the context error is returned.
func Poll(ctx context.Context, b Backoff, cond func() (bool, error)) (int, error) {
	interval := b.Initial
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	attempts := 0
	for {
		attempts++
		done, err := cond()
		if err != nil {
			return attempts, fmt.Errorf("poll attempt %d: %w", attempts, err)
		}
		if done {
			return attempts, nil
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-timer.C:
		}
		interval = b.next(interval)
	}
}
