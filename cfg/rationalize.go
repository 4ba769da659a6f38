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

// isValueSet abstracts viper.IsSet so rationalization can be tested without
// a real viper instance.
type isValueSet interface {
	IsSet(string) bool
}

// RationalizeConfig fills in zero-value fields that GetDefaultXxxConfig
// would otherwise have to precompute before flags are parsed, and applies
// cross-field corrections a flat flag set can't express on its own: a
// manifest that sets modules but leaves init empty gets "/sbin/init" so
// boot always has something to exec.
func RationalizeConfig(v isValueSet, config *Config) {
	if config.Scheduler.BaseTickHz == 0 {
		config.Scheduler = GetDefaultSchedulerConfig()
	}
	if config.Logging.LogRotate.MaxFileSizeMb == 0 {
		config.Logging = GetDefaultLoggingConfig()
	}
	if config.Boot.InitProgram == "" && len(config.Boot.Modules) > 0 {
		config.Boot.InitProgram = "/sbin/init"
	}
}
