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

package cfg

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be at least 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (retain all) or positive")
	}
	return nil
}

func isValidSchedulerConfig(config *SchedulerConfig) error {
	if config.BaseTickHz < MinBaseTickHz || config.BaseTickHz > MaxBaseTickHz {
		return fmt.Errorf("base-tick-hz must be between %d and %d, got %d", MinBaseTickHz, MaxBaseTickHz, config.BaseTickHz)
	}
	if config.TimeSlice <= 0 {
		return fmt.Errorf("time-slice must be positive")
	}
	return nil
}

func isValidMemoryConfig(config *MemoryConfig) error {
	if config.KernelZonePages != 0 && config.KernelZonePages < MinKernelZonePages {
		return fmt.Errorf("kernel-zone-pages must be 0 (autodetect) or at least %d", MinKernelZonePages)
	}
	if config.UserZonePages < 0 || config.MMIOZonePages < 0 || config.KernelZonePages < 0 {
		return fmt.Errorf("zone page counts cannot be negative")
	}
	return nil
}

func isValidBootConfig(config *BootConfig) error {
	if config.InitProgram == "" {
		return fmt.Errorf("boot.init must name a program to run after mounting the root filesystem")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	if err := isValidSchedulerConfig(&config.Scheduler); err != nil {
		return fmt.Errorf("error parsing scheduler config: %w", err)
	}
	if err := isValidMemoryConfig(&config.Memory); err != nil {
		return fmt.Errorf("error parsing memory config: %w", err)
	}
	if err := isValidBootConfig(&config.Boot); err != nil {
		return fmt.Errorf("error parsing boot config: %w", err)
	}
	return nil
}
