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
	"testing"

	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/arch/halsim"
	"github.com/stretchr/testify/require"
)

func TestInstallIDTStoresHandlersAndRaiseInterruptInvokesThem(t *testing.T) {
	cpu := halsim.New()
	require.False(t, cpu.IDTInstalled())

	var got *arch.Frame
	var handlers [129]func(*arch.Frame)
	handlers[0x80] = func(f *arch.Frame) { got = f }
	cpu.InstallIDT(handlers)
	require.True(t, cpu.IDTInstalled())

	frame := &arch.Frame{RAX: 42}
	cpu.RaiseInterrupt(0x80, frame)
	require.Same(t, frame, got)
}

func TestRaiseInterruptPanicsOnUnhandledVector(t *testing.T) {
	cpu := halsim.New()
	var handlers [129]func(*arch.Frame)
	cpu.InstallIDT(handlers)

	require.Panics(t, func() { cpu.RaiseInterrupt(0x80, &arch.Frame{}) })
}
