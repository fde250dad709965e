// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"

	"github.com/absmach/fluxtrack/core"
)

// Transport performs a single delivery attempt for one batch and classifies
// the result. Retry logic lives in the scheduler, never here.
type Transport interface {
	Send(ctx context.Context, batch core.Batch) core.Outcome
}

// Endpoint paths per item kind, matching the ingestion API.
const (
	trackPath  = "/track"
	engagePath = "/engage"
	groupsPath = "/groups"
)

// endpointFor maps an item kind to its ingestion path.
func endpointFor(kind core.Kind) string {
	switch kind {
	case core.KindProfileOp:
		return engagePath
	case core.KindGroupOp:
		return groupsPath
	default:
		return trackPath
	}
}
