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
	"testing"
	"time"
)

func TestPoll(t *testing.T) {
	fast := Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}

	t.Run("returns when condition is met", func(t *testing.T) {
		calls := 0
		attempts, err := Poll(context.Background(), fast, func() (bool, error) {
			calls++
			return calls == 3, nil
		})
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("propagates condition errors", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Poll(context.Background(), fast, func() (bool, error) {
			return false, boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("Poll() error = %v, want boom", err)
		}
	})

	t.Run("stops at the context deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := Poll(ctx, fast, func() (bool, error) { return false, nil })
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Poll() error = %v, want DeadlineExceeded", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("Poll() took %v", elapsed)
		}
	})
}

func TestBackoff_Next(t *testing.T) {
	tests := []struct {
		name string
		b    Backoff
		in   time.Duration
		want time.Duration
	}{
		{"grows", Backoff{Multiplier: 2, Max: time.Second}, 100 * time.Millisecond, 200 * time.Millisecond},
		{"capped", Backoff{Multiplier: 2, Max: 250 * time.Millisecond}, 200 * time.Millisecond, 250 * time.Millisecond},
		{"multiplier below one keeps interval", Backoff{Multiplier: 0.5}, 100 * time.Millisecond, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.next(tt.in); got != tt.want {
				t.Errorf("next(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
