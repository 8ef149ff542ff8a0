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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errLimited = errors.New("limited")
	errAuth    = errors.New("auth")
)

func testClassify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, errLimited):
		return OutcomeRateLimited
	case errors.Is(err, errAuth):
		return OutcomeAuthFailure
	default:
		return OutcomeTransientFailure
	}
}

func TestDo_FailsOverToNextCredential(t *testing.T) {
	p, _ := newTestPool(t, 3)

	var used []string
	err := p.Do(context.Background(), 0, testClassify, func(_ context.Context, c *Credential) error {
		used = append(used, c.ID())
		if len(used) < 3 {
			return errLimited
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"key-1", "key-2", "key-3"}, used)
	assert.Equal(t, 1, p.Healthy())
}

func TestDo_AttemptsExhausted(t *testing.T) {
	p, _ := newTestPool(t, 2)

	calls := 0
	err := p.Do(context.Background(), 0, testClassify, func(context.Context, *Credential) error {
		calls++
		return errors.New("503")
	})
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 3, calls)
}

func TestDo_PoolExhaustedByAuthFailures(t *testing.T) {
	p, _ := newTestPool(t, 2)

	err := p.Do(context.Background(), 5, testClassify, func(context.Context, *Credential) error {
		return errAuth
	})
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.Do(ctx, 0, testClassify, func(context.Context, *Credential) error {
		calls++
		cancel()
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
