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

package agent

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the orchestration core.
type ErrorKind string

const (
	KindInvalidArguments     ErrorKind = "InvalidArguments"
	KindUnknownCapability    ErrorKind = "UnknownCapability"
	KindTimeout              ErrorKind = "Timeout"
	KindReasoningUnparseable ErrorKind = "ReasoningUnparseable"
	KindProviderUnavailable  ErrorKind = "ProviderUnavailable"
	KindPoolExhausted        ErrorKind = "PoolExhausted"
	KindCapabilityFailure    ErrorKind = "CapabilityFailure"
)

// Error is an engine or facade failure carrying its kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error of the given kind wrapping err.
func WrapError(kind ErrorKind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind from err, or "" if err does not carry one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
