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
	"os"
	"path/filepath"
	"testing"

	"github.com/maestro-os/maestro/cfg"
	"github.com/stretchr/testify/require"
)

func TestRootCmdBootsWithoutManifest(t *testing.T) {
	bootConfig = cfg.Config{}
	rootCmd.SetArgs(nil)
	require.NoError(t, rootCmd.Execute())
}

func TestRootCmdBootsFromManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte("app-name: test-kernel\nboot:\n  root-fs-type: ramfs\n"), 0o644))

	rootCmd.SetArgs([]string{manifest})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, "test-kernel", bootConfig.AppName)
}
