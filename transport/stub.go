// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"

	"github.com/absmach/fluxtrack/core"
)

var _ Transport = (*Stub)(nil)

// Stub is a network-free transport. With no scripted outcomes it accepts
// everything, which is the behavior behind the client's test mode. Tests
// script failure sequences with Script.
type Stub struct {
	mu     sync.Mutex
	script []core.Outcome
	sent   []core.Batch
}

// NewStub creates a stub transport that accepts every batch.
func NewStub() *Stub {
	return &Stub{}
}

// Script queues outcomes to return for subsequent sends, in order. Once the
// script is exhausted, sends succeed again.
func (s *Stub) Script(outcomes ...core.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, outcomes...)
}

// Send records the batch and returns the next scripted outcome.
func (s *Stub) Send(_ context.Context, batch core.Batch) core.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, batch)
	if len(s.script) > 0 {
		next := s.script[0]
		s.script = s.script[1:]
		return next
	}
	return core.OutcomeDelivered()
}

// Sent returns all batches handed to the transport, in send order.
func (s *Stub) Sent() []core.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Batch, len(s.sent))
	copy(out, s.sent)
	return out
}
