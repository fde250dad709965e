// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import "fmt"

// Status classifies the result of a single batch delivery attempt.
type Status int

const (
	// Delivered means the endpoint accepted the whole batch.
	Delivered Status = iota
	// Transient means the attempt failed in a retryable way (network error,
	// timeout, rate limit, server error).
	Transient
	// Permanent means the batch can never be delivered (payload rejected,
	// auth invalid, attempt ceiling exceeded). Items are dead-lettered.
	Permanent
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the per-batch delivery result. The ingestion endpoint accepts or
// rejects a batch atomically, so there is no per-item detail.
type Outcome struct {
	Status Status
	// Err carries the failure cause for Transient and Permanent outcomes.
	Err error
	// RetryAfter is a server-requested minimum delay before the next attempt
	// (from a 429 Retry-After header). Zero when the server gave no hint.
	RetryAfterSeconds int
}

// OutcomeDelivered returns a success outcome.
func OutcomeDelivered() Outcome {
	return Outcome{Status: Delivered}
}

// OutcomeTransient returns a retryable failure outcome.
func OutcomeTransient(err error) Outcome {
	return Outcome{Status: Transient, Err: err}
}

// OutcomePermanent returns a non-retryable failure outcome.
func OutcomePermanent(err error) Outcome {
	return Outcome{Status: Permanent, Err: err}
}
