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

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved boot-time configuration: flags, environment
// variables, and a YAML boot manifest layered together by viper, in that
// order of precedence, then decoded into this struct via DecodeHook.
type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	Memory MemoryConfig `yaml:"memory"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Logging LoggingConfig `yaml:"logging"`

	Boot BootConfig `yaml:"boot"`
}

// DebugConfig controls kernel-internal consistency checks that are too
// expensive to run unconditionally in production boots.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

// MemoryConfig sizes the buddy allocator's zones and the kernel heap.
type MemoryConfig struct {
	UserZonePages   int `yaml:"user-zone-pages"`
	MMIOZonePages   int `yaml:"mmio-zone-pages"`
	KernelZonePages int `yaml:"kernel-zone-pages"`
}

// SchedulerConfig controls the cooperative round-robin scheduler's PIT-
// driven preemption tick.
type SchedulerConfig struct {
	BaseTickHz   int           `yaml:"base-tick-hz"`
	TimeSlice    time.Duration `yaml:"time-slice"`
	AdaptiveTick bool          `yaml:"adaptive-tick"`
}

// FileSystemConfig sets the default ownership/mode new root-filesystem
// inodes are created with before any mount-specific override applies.
type FileSystemConfig struct {
	FileMode Octal `yaml:"file-mode"`
	DirMode  Octal `yaml:"dir-mode"`

	Uid int `yaml:"uid"`
	Gid int `yaml:"gid"`
}

// LoggingConfig configures the kernel log sink.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`

	Format string `yaml:"format"` // "text" or "json"
}

// LogRotateLoggingConfig mirrors lumberjack.Logger's knobs.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// BootConfig names what the boot sequence mounts and runs first.
type BootConfig struct {
	RootFSType  RootFSType `yaml:"root-fs-type"`
	RootDevice  DeviceRef  `yaml:"root-device"`
	InitProgram string     `yaml:"init"`
	Modules     []string   `yaml:"modules"`
}

// BindFlags registers every flag this binary accepts and binds it into
// viper under the corresponding dotted config key, so flags, env vars, and
// the YAML manifest all resolve through the same keys.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "maestro", "The name this kernel instance reports in boot logs.")
	if err = viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal kernel invariants are violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Log a warning when an interrupt-masking mutex is held too long.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex")); err != nil {
		return err
	}

	flagSet.IntP("user-zone-pages", "", 0, "Pages reserved for the user physical zone (0 = autodetect from boot memory map).")
	if err = viper.BindPFlag("memory.user-zone-pages", flagSet.Lookup("user-zone-pages")); err != nil {
		return err
	}

	flagSet.IntP("mmio-zone-pages", "", 0, "Pages reserved for the MMIO physical zone.")
	if err = viper.BindPFlag("memory.mmio-zone-pages", flagSet.Lookup("mmio-zone-pages")); err != nil {
		return err
	}

	flagSet.IntP("kernel-zone-pages", "", 0, "Pages reserved for the kernel physical zone.")
	if err = viper.BindPFlag("memory.kernel-zone-pages", flagSet.Lookup("kernel-zone-pages")); err != nil {
		return err
	}

	flagSet.IntP("base-tick-hz", "", 100, "Base PIT interrupt frequency, before adaptive adjustment.")
	if err = viper.BindPFlag("scheduler.base-tick-hz", flagSet.Lookup("base-tick-hz")); err != nil {
		return err
	}

	flagSet.DurationP("time-slice", "", 10*time.Millisecond, "Per-process scheduling quantum.")
	if err = viper.BindPFlag("scheduler.time-slice", flagSet.Lookup("time-slice")); err != nil {
		return err
	}

	flagSet.BoolP("adaptive-tick", "", true, "Scale the PIT frequency to the run-queue depth.")
	if err = viper.BindPFlag("scheduler.adaptive-tick", flagSet.Lookup("adaptive-tick")); err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0644, "Default permission bits for files, in octal.")
	if err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", 0755, "Default permission bits for directories, in octal.")
	if err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.IntP("uid", "", 0, "UID owner of freshly created root-filesystem inodes.")
	if err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", 0, "GID owner of freshly created root-filesystem inodes.")
	if err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Minimum kernel log severity emitted.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Kernel log encoding: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("root-fs-type", "", "ramfs", "Filesystem driver mounted at / during boot.")
	if err = viper.BindPFlag("boot.root-fs-type", flagSet.Lookup("root-fs-type")); err != nil {
		return err
	}

	flagSet.StringP("root-device", "", "", "\"maj:min\" device pair backing the root filesystem.")
	if err = viper.BindPFlag("boot.root-device", flagSet.Lookup("root-device")); err != nil {
		return err
	}

	flagSet.StringP("init", "", "/sbin/init", "Path of the first userspace program started after boot.")
	if err = viper.BindPFlag("boot.init", flagSet.Lookup("init")); err != nil {
		return err
	}

	flagSet.StringSliceP("modules", "", nil, "Additional loadable modules to initialize at boot, in order.")
	if err = viper.BindPFlag("boot.modules", flagSet.Lookup("modules")); err != nil {
		return err
	}

	return nil
}
