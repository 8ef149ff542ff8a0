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
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// IdentifierFunc picks the identifier a request is counted under. An empty
// result skips limiting.
type IdentifierFunc func(r *http.Request) string

// RemoteAddrIdentifier counts requests per client address.
func RemoteAddrIdentifier(r *http.Request) string {
	return r.RemoteAddr
}

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	Limiter *Limiter

	// IdentifierFunc defaults to RemoteAddrIdentifier.
	IdentifierFunc IdentifierFunc

	// ExcludedPaths bypass limiting.
	ExcludedPaths []string
}

type resultKey struct{}

// ResultFromContext returns the result recorded by Middleware, if any.
func ResultFromContext(ctx context.Context) *Result {
	res, _ := ctx.Value(resultKey{}).(*Result)
	return res
}

// Middleware rejects requests over the limit with 429. Store failures let
// the request through.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.IdentifierFunc == nil {
		cfg.IdentifierFunc = RemoteAddrIdentifier
	}
	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			id := cfg.IdentifierFunc(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := cfg.Limiter.Allow(r.Context(), id)
			if err != nil {
				slog.Error("Rate limit check failed", "error", err, "identifier", id)
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, res)
			if !res.Allowed {
				writeLimited(w, res)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), resultKey{}, res)))
		})
	}
}

func setHeaders(w http.ResponseWriter, res *Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func writeLimited(w http.ResponseWriter, res *Result) {
	retry := res.RetryAfter(time.Now())
	secs := int64(retry.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "rate_limit_exceeded",
			"message": "too many requests",
		},
		"retry_after_seconds": secs,
		"resets_at":           res.ResetAt.UTC().Format(time.RFC3339),
	})
}
