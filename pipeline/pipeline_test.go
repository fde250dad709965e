// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/absmach/fluxtrack/core"
	"github.com/absmach/fluxtrack/queue"
	"github.com/absmach/fluxtrack/ratelimit"
	"github.com/absmach/fluxtrack/retry"
	"github.com/absmach/fluxtrack/storage/memory"
	"github.com/absmach/fluxtrack/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine *Engine
	queue  *queue.EventQueue
	store  *memory.Store
	stub   *transport.Stub
}

// newHarness builds an engine over an in-memory store and a stub transport.
// The flush interval is long so only explicit flushes drive delivery, and the
// backoff is short so retry tests run fast.
func newHarness(t *testing.T, mutate func(*Config, *retry.Policy)) *harness {
	t.Helper()

	cfg := Config{
		BatchMaxSize:    50,
		FlushInterval:   time.Minute,
		FlushThreshold:  1000,
		RequestTimeout:  2 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}
	policy := retry.Policy{
		Base:       5 * time.Millisecond,
		Cap:        10 * time.Millisecond,
		Multiplier: 2.0,
		Ceiling:    5,
	}
	if mutate != nil {
		mutate(&cfg, &policy)
	}

	store := memory.New()
	q := queue.New(store, nil)
	stub := transport.NewStub()
	engine := New(cfg, q, stub, policy, nil)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})

	return &harness{engine: engine, queue: q, store: store, stub: stub}
}

func (h *harness) submitEvents(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := h.engine.Submit(core.KindEvent, []byte(fmt.Sprintf(`{"event":"e%d"}`, i)))
		require.NoError(t, err)
	}
}

func TestEngine_DeliversInBatches(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *retry.Policy) {
		cfg.BatchMaxSize = 2
	})
	require.NoError(t, h.engine.Start())

	h.submitEvents(t, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.FlushWait(ctx))

	sent := h.stub.Sent()
	require.Len(t, sent, 2)
	assert.Len(t, sent[0], 2)
	assert.Len(t, sent[1], 1)

	// Delivered items are gone from both tiers.
	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, 0, h.store.Len())
}

func TestEngine_TransientFailureRetriesSameBatch(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *retry.Policy) {
		cfg.BatchMaxSize = 2
	})
	h.stub.Script(core.OutcomeTransient(fmt.Errorf("connection reset")))
	require.NoError(t, h.engine.Start())

	h.submitEvents(t, 3)
	h.engine.Flush()

	require.Eventually(t, func() bool {
		return h.queue.Len() == 0 && h.store.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	// First batch fails once, is retried with the same items in the same
	// order, then the remainder follows. Nothing lost, nothing duplicated.
	sent := h.stub.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, sent[0].IDs(), sent[1].IDs())
	assert.Len(t, sent[2], 1)
	assert.Equal(t, 1, sent[1].MaxAttempts())
}

func TestEngine_PermanentFailureDeadLetters(t *testing.T) {
	h := newHarness(t, nil)
	h.stub.Script(core.OutcomePermanent(fmt.Errorf("invalid token")))
	require.NoError(t, h.engine.Start())

	h.submitEvents(t, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.FlushWait(ctx))

	// Exactly one attempt, all five items dropped, none left anywhere.
	assert.Len(t, h.stub.Sent(), 1)
	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, 0, h.store.Len())

	// The drop is reported, never silent.
	select {
	case d := <-h.engine.Outcomes():
		assert.Equal(t, core.Permanent, d.Outcome.Status)
		assert.Len(t, d.ItemIDs, 5)
	default:
		t.Fatal("expected a delivery notification")
	}
}

func TestEngine_RetryCeilingDeadLetters(t *testing.T) {
	h := newHarness(t, func(_ *Config, policy *retry.Policy) {
		policy.Ceiling = 1
	})
	h.stub.Script(
		core.OutcomeTransient(fmt.Errorf("timeout")),
		core.OutcomeTransient(fmt.Errorf("timeout")),
		core.OutcomeTransient(fmt.Errorf("timeout")),
	)
	require.NoError(t, h.engine.Start())

	h.submitEvents(t, 1)
	h.engine.Flush()

	require.Eventually(t, func() bool {
		return h.queue.Len() == 0 && h.store.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	// One real attempt plus one retry; the ceiling stops the third.
	assert.Len(t, h.stub.Sent(), 2)

	var last Delivery
	require.Eventually(t, func() bool {
		select {
		case d := <-h.engine.Outcomes():
			last = d
			return d.Outcome.Status == core.Permanent
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, last.Outcome.Err.Error(), "retry ceiling")
}

func TestEngine_ThresholdTriggersFlush(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *retry.Policy) {
		cfg.FlushThreshold = 2
	})
	require.NoError(t, h.engine.Start())

	h.submitEvents(t, 2)

	require.Eventually(t, func() bool {
		return len(h.stub.Sent()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, h.stub.Sent()[0], 2)
}

func TestEngine_StartReloadsPersistedItems(t *testing.T) {
	store := memory.New()
	seed := queue.New(store, nil)
	item := core.NewQueueItem(core.KindEvent, []byte(`{"event":"crashed"}`))
	require.NoError(t, seed.Enqueue(item))

	// A fresh engine over the same store picks the item up and delivers it.
	q := queue.New(store, nil)
	stub := transport.NewStub()
	engine := New(Config{
		BatchMaxSize:  50,
		FlushInterval: time.Minute,
	}, q, stub, retry.Default(), nil)
	require.NoError(t, engine.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.FlushWait(ctx))

	sent := stub.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, item.ID, sent[0][0].ID)
	assert.Equal(t, 0, store.Len())
}

func TestEngine_ShutdownKeepsUndeliveredPersisted(t *testing.T) {
	h := newHarness(t, func(_ *Config, policy *retry.Policy) {
		// Park the loop in a long backoff so shutdown interrupts it.
		policy.Base = time.Hour
		policy.Cap = time.Hour
	})
	h.stub.Script(
		core.OutcomeTransient(fmt.Errorf("unreachable")),
		core.OutcomeTransient(fmt.Errorf("unreachable")),
	)
	require.NoError(t, h.engine.Start())

	h.submitEvents(t, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.FlushWait(ctx))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, h.engine.Shutdown(shutdownCtx))

	// The final flush failed too; everything stays durable for next start.
	// Attempt counts are per-process, so the reloaded items get a full retry
	// budget again.
	assert.Equal(t, 3, h.store.Len())
	items, err := h.store.LoadAll()
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, 0, it.AttemptCount)
	}
}

func TestEngine_SubmitRejectsUnknownKind(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start())

	err := h.engine.Submit(core.Kind("bogus"), []byte(`{}`))
	assert.Error(t, err)
}

func TestEngine_SubmitAfterShutdown(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.Shutdown(ctx))

	err := h.engine.Submit(core.KindEvent, []byte(`{}`))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestEngine_FlushWaitBeforeStart(t *testing.T) {
	h := newHarness(t, nil)
	err := h.engine.FlushWait(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestEngine_FlushWaitCancellation(t *testing.T) {
	h := newHarness(t, func(_ *Config, policy *retry.Policy) {
		// Park the loop in a long backoff so the wait can only time out.
		policy.Base = time.Hour
		policy.Cap = time.Hour
	})
	h.stub.Script(
		core.OutcomeTransient(fmt.Errorf("unreachable")),
		core.OutcomeTransient(fmt.Errorf("unreachable")),
	)
	require.NoError(t, h.engine.Start())

	h.submitEvents(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.FlushWait(ctx))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer waitCancel()
	err := h.engine.FlushWait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_RateLimiterDropsExcess(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetLimiter(ratelimit.New(0, 0)) // admit nothing
	require.NoError(t, h.engine.Start())

	require.NoError(t, h.engine.Submit(core.KindEvent, []byte(`{}`)))
	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, 0, h.store.Len())
}

func TestEngine_IntervalFlush(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *retry.Policy) {
		cfg.FlushInterval = 20 * time.Millisecond
	})
	require.NoError(t, h.engine.Start())

	h.submitEvents(t, 1)

	// No explicit flush: the timer alone must deliver the item.
	require.Eventually(t, func() bool {
		return len(h.stub.Sent()) == 1
	}, 5*time.Second, 5*time.Millisecond)
}
