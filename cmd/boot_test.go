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

package cmd

import (
	"testing"

	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/cfg"
	"github.com/stretchr/testify/require"
)

// TestBootWiresSyscallVectorEndToEnd drives a getpid syscall through the
// exact path a real trap would take: a simulated CPU interrupt into the
// vector Boot installed, routed by that vector's handler into the
// syscall table, with the result written back into the frame's return
// register — not a hand-built syscall.Context constructed directly by the
// test.
func TestBootWiresSyscallVectorEndToEnd(t *testing.T) {
	k, err := Boot(cfg.Config{})
	require.NoError(t, err)

	frame := &arch.Frame{RAX: 20} // getpid
	k.CPU.RaiseInterrupt(syscallVector, frame)

	require.Equal(t, uintptr(k.Init.PID()), frame.RAX)
}

// TestBootInitialProcessIsSelectedWithoutATick confirms the boot-time
// handoff to init does not depend on the adaptive PIT ever firing (it
// never will, with only one runnable process).
func TestBootInitialProcessIsSelectedWithoutATick(t *testing.T) {
	k, err := Boot(cfg.Config{})
	require.NoError(t, err)
	require.Same(t, k.Init, k.Scheduler.Current())
}
