// Copyright 2023 Google LLC
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

package cfg

// HardwareProfile is the boot-time memory map and CPU count the optimizer
// tunes zone sizes and the scheduler quantum against; it stands in for the
// e820/multiboot memory map and CPUID count a real boot would read before
// any config value is finalized.
type HardwareProfile struct {
	TotalPages int
	NumCPU     int
}

// OptimizeForHardware fills in any zone page count left at 0 ("autodetect")
// by splitting the detected memory map across the user/MMIO/kernel zones,
// and widens the scheduler quantum on single-CPU boots where fewer context
// switches reduce overhead more than they hurt latency.
func OptimizeForHardware(config *Config, profile HardwareProfile) {
	if profile.TotalPages > 0 {
		if config.Memory.KernelZonePages == 0 {
			config.Memory.KernelZonePages = max(MinKernelZonePages, profile.TotalPages/8)
		}
		if config.Memory.MMIOZonePages == 0 {
			config.Memory.MMIOZonePages = profile.TotalPages / 64
		}
		if config.Memory.UserZonePages == 0 {
			reserved := config.Memory.KernelZonePages + config.Memory.MMIOZonePages
			if reserved < profile.TotalPages {
				config.Memory.UserZonePages = profile.TotalPages - reserved
			}
		}
	}

	if profile.NumCPU <= 1 && config.Scheduler.TimeSlice < 20_000_000 {
		config.Scheduler.TimeSlice = 20_000_000 // 20ms, in time.Duration nanoseconds
	}
}
