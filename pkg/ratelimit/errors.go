// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimitExceeded is matched by every *LimitError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidIdentifier is returned for empty identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// LimitError carries the result that denied a request.
type LimitError struct {
	Identifier string
	Result     *Result
}

func (e *LimitError) Error() string {
	if e.Result == nil {
		return fmt.Sprintf("rate limit exceeded for %s", e.Identifier)
	}
	return fmt.Sprintf("rate limit exceeded for %s: %d requests per %s, resets in %s",
		e.Identifier, e.Result.Limit, e.Result.Window, time.Until(e.Result.ResetAt).Round(time.Second))
}

func (e *LimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// IsRateLimitError reports whether err is, or wraps, a rate limit denial.
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

// ResultOf extracts the denying result from err, or nil.
func ResultOf(err error) *Result {
	var le *LimitError
	if errors.As(err, &le) {
		return le.Result
	}
	return nil
}
