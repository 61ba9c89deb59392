package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/relay"
)

// RelayAPI is the consumer side of the relay.
type RelayAPI interface {
	Pull(ctx context.Context) (*model.Snapshot, error)
	Clear(ctx context.Context, op model.Operation, ids []string) (*model.BatchResult, error)
}

// Inbox is the consumer's local view of the relay snapshot. Accepting a
// card removes it locally at once and clears it remotely afterwards;
// skipping only removes it locally, so it comes back on the next
// refresh.
type Inbox struct {
	relay RelayAPI

	mu       gosync.Mutex
	items    []model.NotificationBundle
	pending  map[string]struct{}
	snapshot *model.Snapshot
}

// NewInbox creates an empty inbox backed by relay.
func NewInbox(r RelayAPI) *Inbox {
	return &Inbox{
		relay:   r,
		pending: make(map[string]struct{}),
	}
}

// Refresh replaces the local items with the relay snapshot. Items whose
// clear is still in flight stay hidden. When the relay has no valid
// snapshot the inbox is emptied and relay.ErrNotFound returned.
func (in *Inbox) Refresh(ctx context.Context) error {
	snap, err := in.relay.Pull(ctx)
	if errors.Is(err, relay.ErrNotFound) {
		in.mu.Lock()
		in.items = nil
		in.snapshot = nil
		in.mu.Unlock()
		return err
	}
	if err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	items := make([]model.NotificationBundle, 0, len(snap.Notifications))
	for _, n := range snap.Notifications {
		if _, ok := in.pending[n.ID]; ok {
			continue
		}
		items = append(items, n)
	}
	in.items = items
	in.snapshot = snap
	return nil
}

// Items returns a copy of the current cards, top of the stack first.
func (in *Inbox) Items() []model.NotificationBundle {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]model.NotificationBundle(nil), in.items...)
}

// Len returns the number of cards.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

// Snapshot returns metadata of the last pulled snapshot, or nil.
func (in *Inbox) Snapshot() *model.Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.snapshot
}

// Skip removes id locally without telling the relay.
func (in *Inbox) Skip(id string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.remove(id)
	return ok
}

// Take removes id locally and marks it in flight. Call Propagate next.
func (in *Inbox) Take(id string) (model.NotificationBundle, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	n, ok := in.remove(id)
	if ok {
		in.pending[id] = struct{}{}
	}
	return n, ok
}

// Propagate asks the relay to apply op to id. The item is no longer
// hidden from refreshes afterwards, so a failed clear reappears on the
// next refresh.
func (in *Inbox) Propagate(ctx context.Context, op model.Operation, id string) (model.ItemResult, error) {
	defer func() {
		in.mu.Lock()
		delete(in.pending, id)
		in.mu.Unlock()
	}()

	batch, err := in.relay.Clear(ctx, op, []string{id})
	if err != nil {
		return model.ItemResult{ID: id, Error: err.Error()}, err
	}
	for _, r := range batch.Results {
		if r.ID == id {
			return r, nil
		}
	}
	return model.ItemResult{}, fmt.Errorf("relay returned no result for %s", id)
}

// Accept is Take followed by Propagate.
func (in *Inbox) Accept(ctx context.Context, op model.Operation, id string) (model.ItemResult, error) {
	in.Take(id)
	return in.Propagate(ctx, op, id)
}

func (in *Inbox) remove(id string) (model.NotificationBundle, bool) {
	for i, n := range in.items {
		if n.ID == id {
			in.items = append(in.items[:i:i], in.items[i+1:]...)
			return n, true
		}
	}
	return model.NotificationBundle{}, false
}
