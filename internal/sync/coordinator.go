package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/nhle/swipe/internal/credential"
	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/relay"
	"github.com/nhle/swipe/internal/source"
)

// Mutator applies one remote mutation to one bundle id.
type Mutator interface {
	Mutate(
		ctx context.Context,
		op model.Operation,
		cred credential.Credential,
		workspaceID string,
		id string,
	) error
}

// defaultConcurrency bounds parallel remote mutations.
const defaultConcurrency = 4

// Coordinator applies clear and mark-read batches best-effort and keeps
// the relay snapshot consistent with what succeeded.
type Coordinator struct {
	mutator     Mutator
	store       relay.Store
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

// NewCoordinator creates a coordinator. A non-positive concurrency uses a
// small default.
func NewCoordinator(m Mutator, store relay.Store, concurrency int, logger zerolog.Logger) *Coordinator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Coordinator{
		mutator:     m,
		store:       store,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger.With().Str("component", "coordinator").Logger(),
	}
}

// WithClock replaces the clock used to check credential expiry.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Apply runs op for every id. Each id succeeds or fails on its own and
// items run concurrently in no particular order. A remote answer of
// 404, 409 or 410 from every endpoint counts as success with
// AlreadyCleared set. Succeeded ids are then removed from the relay
// snapshot, keeping its original creation time.
//
// The only errors are a missing or expired credential and a failure of
// the relay store itself.
func (c *Coordinator) Apply(
	ctx context.Context,
	op model.Operation,
	ids []string,
	cred credential.Credential,
	workspaceID string,
) (*model.BatchResult, error) {
	if cred == "" {
		return nil, source.ErrNoCredential
	}
	if err := credential.CheckUsable(cred.Info(c.now())); err != nil {
		return nil, err
	}

	ids = uniqueIDs(ids)
	results := make([]model.ItemResult, len(ids))

	p := pool.New().WithMaxGoroutines(c.concurrency)
	for i, id := range ids {
		p.Go(func() {
			results[i] = c.applyOne(ctx, op, cred, workspaceID, id)
		})
	}
	p.Wait()

	batch := &model.BatchResult{Results: results}

	remaining, err := c.reconcile(ctx, batch.Succeeded())
	if err != nil {
		return batch, fmt.Errorf("reconciling relay snapshot: %w", err)
	}
	batch.RemainingCount = remaining

	c.logger.Info().
		Str("operation", string(op)).
		Int("requested", len(ids)).
		Int("failed", batch.Failed()).
		Int("remaining", remaining).
		Msg("batch complete")
	return batch, nil
}

func (c *Coordinator) applyOne(
	ctx context.Context,
	op model.Operation,
	cred credential.Credential,
	workspaceID string,
	id string,
) model.ItemResult {
	err := c.mutator.Mutate(ctx, op, cred, workspaceID, id)
	if err == nil {
		return model.ItemResult{ID: id, Success: true, Status: 200}
	}

	status := statusOf(err)
	if source.IsGone(err) {
		c.logger.Debug().Str("id", id).Int("status", status).Msg("already gone remotely")
		return model.ItemResult{ID: id, Success: true, Status: status, AlreadyCleared: true}
	}

	c.logger.Warn().Err(err).Str("id", id).Str("operation", string(op)).Msg("mutation failed")
	return model.ItemResult{ID: id, Success: false, Status: status, Error: err.Error()}
}

// statusOf prefers the status of the last endpoint tried.
func statusOf(err error) int {
	var all *source.AllEndpointsFailedError
	if errors.As(err, &all) {
		return source.StatusCode(all.Last())
	}
	return source.StatusCode(err)
}

// reconcile removes ids from the current snapshot. It reads, filters and
// writes back without a lock, so a push landing in between may be
// overwritten; the next producer push repairs that.
func (c *Coordinator) reconcile(ctx context.Context, ids []string) (int, error) {
	rec, err := c.store.Get(ctx)
	if errors.Is(err, relay.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return len(rec.Notifications), nil
	}

	updated := rec.Without(ids)
	if err := c.store.Put(ctx, updated); err != nil {
		return 0, err
	}
	return len(updated.Notifications), nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
