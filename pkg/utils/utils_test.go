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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator(t *testing.T) {
	tc := NewEstimator()
	assert.Equal(t, 0, tc.Count(""))
	assert.Equal(t, 1, tc.Count("abc"))
	assert.Equal(t, 3, tc.Count("twelve chars"))

	var nilCounter *TokenCounter
	assert.Equal(t, 2, nilCounter.Count("12345678"))
}

func TestFitNewest(t *testing.T) {
	tc := NewEstimator()
	items := []string{"aaaaaaaa", "bbbbbbbb", "cccccccc"} // 2 tokens each

	assert.Equal(t, 3, tc.FitNewest(items, 0, 6))
	assert.Equal(t, 2, tc.FitNewest(items, 1, 6))
	assert.Equal(t, 0, tc.FitNewest(items, 5, 6))
	assert.Equal(t, 0, tc.FitNewest(nil, 0, 10))
}

func TestEnsureDataDir(t *testing.T) {
	base := t.TempDir()
	dir, err := EnsureDataDir(base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, DataDirName), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
