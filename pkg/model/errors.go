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

package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/querydesk/pkg/credential"
)

var (
	// ErrRateLimited marks short-window throttling, such as a per-minute
	// request limit.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrQuotaExhausted marks a spent daily or billing quota. Retrying
	// within minutes will not help.
	ErrQuotaExhausted = errors.New("provider quota exhausted")

	// ErrUnauthorized marks a rejected or invalid API key.
	ErrUnauthorized = errors.New("provider rejected credentials")

	// ErrEmptyResponse is returned when the provider answered with nothing.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// ProviderError is a classified provider failure.
type ProviderError struct {
	StatusCode int
	Status     string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider error %d %s: %s (retry after %v)", e.StatusCode, e.Status, msg, e.RetryAfter)
	}
	return fmt.Sprintf("provider error %d %s: %s", e.StatusCode, e.Status, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a ProviderError and attaches the sentinel that
// matches the status code or status text.
func NewProviderError(code int, status, message string) *ProviderError {
	e := &ProviderError{StatusCode: code, Status: status, Message: message}
	switch {
	case code == 429 || strings.Contains(status, "RESOURCE_EXHAUSTED"):
		if looksLikeSpentQuota(message) {
			e.Err = ErrQuotaExhausted
		} else {
			e.Err = ErrRateLimited
		}
	case code == 401 || code == 403 ||
		strings.Contains(status, "PERMISSION_DENIED") ||
		strings.Contains(status, "UNAUTHENTICATED") ||
		looksLikeInvalidKey(message):
		e.Err = ErrUnauthorized
	}
	return e
}

func looksLikeInvalidKey(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "api key not valid") ||
		strings.Contains(m, "api_key_invalid") ||
		strings.Contains(m, "invalid api key")
}

// looksLikeSpentQuota reports whether a resource-exhausted message names a
// daily or billing quota rather than a per-minute limit.
func looksLikeSpentQuota(msg string) bool {
	m := strings.ToLower(msg)
	if strings.Contains(m, "perminute") || strings.Contains(m, "per minute") {
		return false
	}
	return strings.Contains(m, "perday") ||
		strings.Contains(m, "per day") ||
		strings.Contains(m, "daily") ||
		strings.Contains(m, "check your plan and billing")
}

// WithQuotaIDs appends the quota ids of QuotaFailure details to msg, so
// NewProviderError can tell a daily quota from a per-minute one.
func WithQuotaIDs(msg string, details []map[string]any) string {
	var ids []string
	for _, d := range details {
		violations, _ := d["violations"].([]any)
		for _, v := range violations {
			vm, _ := v.(map[string]any)
			if id, _ := vm["quotaId"].(string); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return msg
	}
	return msg + " [quota: " + strings.Join(ids, ", ") + "]"
}

// Classify maps a Reason error to a credential outcome. Context
// cancellation is transient: the key did nothing wrong.
func Classify(err error) credential.Outcome {
	switch {
	case err == nil:
		return credential.OutcomeSuccess
	case errors.Is(err, ErrQuotaExhausted):
		return credential.OutcomeQuotaExhausted
	case errors.Is(err, ErrRateLimited):
		return credential.OutcomeRateLimited
	case errors.Is(err, ErrUnauthorized):
		return credential.OutcomeAuthFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return credential.OutcomeTransientFailure
	}

	// Errors that did not come through NewProviderError.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(msg), "quota"):
		if looksLikeSpentQuota(msg) {
			return credential.OutcomeQuotaExhausted
		}
		return credential.OutcomeRateLimited
	case strings.Contains(msg, "PERMISSION_DENIED") || strings.Contains(msg, "UNAUTHENTICATED") ||
		looksLikeInvalidKey(msg):
		return credential.OutcomeAuthFailure
	default:
		return credential.OutcomeTransientFailure
	}
}
