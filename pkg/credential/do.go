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

package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAttemptsExhausted is returned by Do when every attempt failed.
var ErrAttemptsExhausted = errors.New("provider attempts exhausted")

// Classifier maps a call error to an Outcome. It is called with nil on
// success.
type Classifier func(error) Outcome

// Do runs fn with a pooled credential, reporting each outcome and failing
// over to another credential on rate limits, auth failures and transient
// errors. maxAttempts <= 0 means Len()+1.
//
// The returned error wraps ErrPoolExhausted when no credential could be
// acquired, or ErrAttemptsExhausted together with the last call error.
func (p *Pool) Do(ctx context.Context, maxAttempts int, classify Classifier, fn func(context.Context, *Credential) error) error {
	if maxAttempts <= 0 {
		maxAttempts = p.Len() + 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cred, err := p.Acquire(ctx)
		if err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err = fn(ctx, cred)
		outcome := classify(err)
		p.ReportOutcome(cred, outcome)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
		lastErr = err
		slog.Debug("Provider call failed, failing over",
			"credential", cred.ID(), "outcome", outcome.String(), "attempt", attempt, "error", err)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, maxAttempts, lastErr)
}
