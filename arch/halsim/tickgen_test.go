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

package halsim_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maestro-os/maestro/arch/halsim"
	"github.com/stretchr/testify/require"
)

func TestTickGeneratorIdlesUntilFrequencyIsProgrammed(t *testing.T) {
	cpu := halsim.New()
	gen := halsim.NewTickGenerator(cpu)

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gen.Run(ctx, func() { ticks.Add(1) })

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(0), ticks.Load(), "idle PIT must not fire")

	cpu.SetFrequency(1000)
	require.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, time.Millisecond)
}

func TestTickGeneratorStopsOnContextCancel(t *testing.T) {
	cpu := halsim.New()
	cpu.SetFrequency(1000)
	gen := halsim.NewTickGenerator(cpu)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gen.Run(ctx, func() {}) }()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
