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

package sqltool

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrEmptyQuery         = errors.New("empty query")
	ErrNotReadOnly        = errors.New("only read-only SELECT statements are allowed")
	ErrMultipleStatements = errors.New("multiple statements are not allowed")
)

var (
	leadingKeyword = regexp.MustCompile(`(?i)^\s*\(*\s*(SELECT|WITH)\b`)
	writeKeyword   = regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|CREATE|REPLACE|TRUNCATE|ATTACH|DETACH|PRAGMA|GRANT|REVOKE|VACUUM|MERGE)\b`)
)

// CheckReadOnly rejects anything but a single SELECT or WITH statement.
// String literals and comments are ignored when looking for keywords, so
// a column named created_at or a literal 'DROP' does not trip the guard.
func CheckReadOnly(query string) error {
	s := strings.TrimSpace(stripLiterals(query))
	s = strings.TrimRight(s, "; \t\r\n")
	if s == "" {
		return ErrEmptyQuery
	}
	if strings.Contains(s, ";") {
		return ErrMultipleStatements
	}
	if !leadingKeyword.MatchString(s) {
		return ErrNotReadOnly
	}
	for _, loc := range writeKeyword.FindAllStringIndex(s, -1) {
		word := strings.ToUpper(s[loc[0]:loc[1]])
		// REPLACE(x, a, b) is a string function.
		if word == "REPLACE" && strings.HasPrefix(strings.TrimLeft(s[loc[1]:], " \t\r\n"), "(") {
			continue
		}
		return fmt.Errorf("%w: contains %s", ErrNotReadOnly, word)
	}
	return nil
}

// LooksLikeSQL reports whether text already is a query rather than a
// natural-language question.
func LooksLikeSQL(text string) bool {
	return leadingKeyword.MatchString(stripLiterals(text))
}

// CleanSQL strips markdown fences and a trailing semicolon from a model
// response.
func CleanSQL(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], " \t") {
			// language tag such as sql
			s = s[i+1:]
		}
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	return strings.TrimSpace(strings.TrimRight(s, ";"))
}

// stripLiterals blanks out quoted strings, quoted identifiers and
// comments while keeping statement separators visible.
func stripLiterals(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '-' && i+1 < len(q) && q[i+1] == '-':
			for i < len(q) && q[i] != '\n' {
				i++
			}
			b.WriteByte(' ')
		case c == '/' && i+1 < len(q) && q[i+1] == '*':
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				i = len(q)
			} else {
				i += end + 3
			}
			b.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`':
			quote := c
			i++
			for i < len(q) {
				if q[i] == quote {
					if i+1 < len(q) && q[i+1] == quote {
						i += 2
						continue
					}
					break
				}
				i++
			}
			b.WriteString(string([]byte{quote, quote}))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
