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

// Package ratelimit provides fixed-window request counters.
//
// Two components use it:
//   - the credential pool, as a client-side quota guard per provider key
//     (30 requests per minute by default);
//   - the HTTP server, to bound queries per user.
//
// Counters live in a Store: in memory, in Redis, or in a SQL table shared
// through config.DBPool.
//
//	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 30, time.Minute)
//	res, err := limiter.Allow(ctx, "key-1")
//	if err == nil && !res.Allowed {
//	    // wait until res.ResetAt
//	}
package ratelimit
