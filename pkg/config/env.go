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

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// maxNumberedKeys is the highest suffix checked by DiscoverCredentials.
const maxNumberedKeys = 9

// LoadDotEnv loads .env.local then .env from the working directory.
// Variables already set in the environment win.
func LoadDotEnv() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// DiscoverCredentials returns the values of prefix, prefix_1 ... prefix_9
// that are set, deduplicated, in that order.
func DiscoverCredentials(prefix string) []string {
	names := []string{prefix}
	for i := 1; i <= maxNumberedKeys; i++ {
		names = append(names, fmt.Sprintf("%s_%d", prefix, i))
	}

	seen := make(map[string]bool, len(names))
	var keys []string
	for _, name := range names {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		keys = append(keys, v)
	}
	return keys
}

// envRef matches ${VAR}, ${VAR:-default} and $VAR.
var envRef = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandEnv replaces environment references in s.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		if !strings.HasPrefix(match, "${") {
			return os.Getenv(match[1:])
		}
		inner := match[2 : len(match)-1]
		if name, def, ok := strings.Cut(inner, ":-"); ok {
			if v := os.Getenv(name); v != "" {
				return v
			}
			return def
		}
		return os.Getenv(inner)
	})
}

// expandTree applies ExpandEnv to every string in a decoded YAML tree.
func expandTree(v any) any {
	switch val := v.(type) {
	case string:
		return ExpandEnv(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = expandTree(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandTree(item)
		}
		return out
	default:
		return v
	}
}
