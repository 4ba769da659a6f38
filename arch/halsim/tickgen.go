// Copyright 2024 Google Inc. All Rights Reserved.
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

package halsim

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idlePoll is how often Run checks whether a previously-disabled PIT has
// been reprogrammed, since a Limiter has no notion of "rate 0".
const idlePoll = 10 * time.Millisecond

// TickGenerator drives a scheduler's timer tick at the frequency last
// programmed via Fake.SetFrequency, standing in for the PIT's hardware
// interrupt cadence in this hosted-Go simulation. golang.org/x/time/rate
// paces the goroutine the same way internal/ratelimit paces outbound GCS
// requests in the teacher; here it paces a simulated clock instead of a
// network client.
type TickGenerator struct {
	cpu *Fake

	mu  sync.Mutex
	lim *rate.Limiter
	hz  uint32
}

// NewTickGenerator builds a generator that reads cpu's programmed
// frequency on every iteration of Run.
func NewTickGenerator(cpu *Fake) *TickGenerator {
	return &TickGenerator{cpu: cpu, lim: rate.NewLimiter(rate.Inf, 1)}
}

// Run blocks, invoking tick once per simulated timer interrupt at the
// frequency cpu.Frequency() currently reports, until ctx is cancelled. A
// frequency of 0 (fewer than two runnable processes, per spec.md §4.5)
// idles the generator entirely rather than firing at some nominal rate,
// matching a disabled PIT.
func (g *TickGenerator) Run(ctx context.Context, tick func()) error {
	for {
		hz := g.cpu.Frequency()
		if hz == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePoll):
				continue
			}
		}

		limiter := g.limiterFor(hz)
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		tick()
	}
}

// limiterFor returns the shared rate.Limiter, reprogramming its limit in
// place when hz has changed so bursts of reconfiguration (processes
// joining/leaving the run queue) don't leak limiters.
func (g *TickGenerator) limiterFor(hz uint32) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hz != hz {
		g.hz = hz
		g.lim.SetLimit(rate.Limit(hz))
		g.lim.SetBurst(1)
	}
	return g.lim
}
