// Copyright 2025 Kadir Pekel
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

package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirName holds local state such as the vector store and the default
// sqlite database.
const DataDirName = ".querydesk"

// EnsureDataDir creates {basePath}/.querydesk, or ./.querydesk when basePath
// is empty, and returns its path.
func EnsureDataDir(basePath string) (string, error) {
	if basePath == "" {
		basePath = "."
	}
	dir := filepath.Join(basePath, DataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory at '%s': %w", dir, err)
	}
	return dir, nil
}
