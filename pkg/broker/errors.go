// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package broker

import "fmt"

// ErrorCode classifies broker failures. Denials are never retried by the
// core; timeouts surface to the waiter as-is.
type ErrorCode string

const (
	ErrBudgetDenied ErrorCode = "budget_denied"
	ErrRateDenied   ErrorCode = "rate_denied"
	ErrQueueTimeout ErrorCode = "queue_timeout"
	ErrMalformed    ErrorCode = "malformed_response"
	ErrUnavailable  ErrorCode = "llm_unavailable"
	ErrClosed       ErrorCode = "broker_closed"
)

// BrokerError is the typed failure for a submission.
type BrokerError struct {
	Code      ErrorCode
	RequestID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("broker: %s (request %s): %s", e.Code, e.RequestID, e.Message)
	}
	return fmt.Sprintf("broker: %s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *BrokerError) Unwrap() error { return e.Err }

// IsDenial reports whether the error is a budget or rate denial.
func (e *BrokerError) IsDenial() bool {
	return e.Code == ErrBudgetDenied || e.Code == ErrRateDenied
}
