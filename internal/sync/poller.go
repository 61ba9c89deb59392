// Package sync moves inbox data between the remote service, the relay
// and the consumer.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/swipe/internal/credential"
	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/relay"
	"github.com/nhle/swipe/internal/source"
	"github.com/nhle/swipe/internal/source/clickup"
)

// SyncState represents the current state of the producer.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus holds the producer state.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// PushResult is emitted after every producer cycle.
type PushResult struct {
	Count   int
	Pages   int
	Partial bool
	Error   error

	// AuthError is set when the user has to sign in again.
	AuthError bool
}

// CredentialReader reads the session credential.
type CredentialReader interface {
	GetCredential(ctx context.Context) (credential.Credential, *credential.Info, error)
}

// InboxFetcher fetches the whole inbox.
type InboxFetcher interface {
	FetchInbox(
		ctx context.Context,
		cred credential.Credential,
		target clickup.Target,
		opts clickup.FetchOptions,
	) (*clickup.FetchResult, error)
}

// SnapshotPusher stores a snapshot on the relay.
type SnapshotPusher interface {
	Push(ctx context.Context, req relay.PushRequest) (*relay.PushResponse, error)
}

// fetchTimeout is the maximum time allowed for a single producer cycle.
const fetchTimeout = 2 * time.Minute

// Poller is the producer: it periodically reads the credential, fetches
// the inbox and pushes the snapshot to the relay.
type Poller struct {
	creds    CredentialReader
	fetcher  InboxFetcher
	pusher   SnapshotPusher
	cfg      model.ClickUpConfig
	interval time.Duration
	producer string
	logger   zerolog.Logger

	status    SyncStatus
	resultCh  chan PushResult
	triggerCh chan struct{}
	stopCh    chan struct{}
	mu        gosync.Mutex
	running   bool
}

// NewPoller creates a producer loop.
func NewPoller(
	creds CredentialReader,
	fetcher InboxFetcher,
	pusher SnapshotPusher,
	cfg model.ClickUpConfig,
	interval time.Duration,
	logger zerolog.Logger,
) *Poller {
	id := "producer-" + uuid.NewString()
	return &Poller{
		creds:     creds,
		fetcher:   fetcher,
		pusher:    pusher,
		cfg:       cfg,
		interval:  interval,
		producer:  id,
		logger:    logger.With().Str("component", "producer").Str("producer", id).Logger(),
		resultCh:  make(chan PushResult, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start runs the polling loop in the background until ctx is cancelled
// or Stop is called. It fetches immediately, then on every tick.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop halts the polling loop.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

// Refresh triggers an immediate cycle.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Results delivers one PushResult per cycle. Results are dropped when
// nobody reads them.
func (p *Poller) Results() <-chan PushResult {
	return p.resultCh
}

// Status returns the current producer status.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(ctx context.Context) {
	interval := p.interval
	if interval <= 0 {
		interval = 120 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cycle(ctx)
		case <-p.triggerCh:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(parent context.Context) {
	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(parent, fetchTimeout)
	defer cancel()

	res, err := p.RunOnce(ctx)
	if err != nil {
		p.setStatus(SyncError, err)
		auth := source.IsAuthError(err)
		p.logger.Error().Err(err).Bool("auth", auth).Msg("sync push failed")
		p.sendResult(PushResult{Error: err, AuthError: auth})
		return
	}

	p.setStatus(SyncIdle, nil)
	p.sendResult(res)
}

// RunOnce performs one credential → fetch → push cycle.
func (p *Poller) RunOnce(ctx context.Context) (PushResult, error) {
	cred, info, err := p.creds.GetCredential(ctx)
	if err != nil {
		return PushResult{}, err
	}
	if err := credential.CheckUsable(info); err != nil {
		return PushResult{}, err
	}

	target, err := credential.LocateTarget(p.cfg.TargetURLs, p.cfg.Domain, p.cfg.WorkspaceID)
	if err != nil {
		return PushResult{}, err
	}

	remote := clickup.Target{WorkspaceID: target.WorkspaceID}
	if info != nil {
		remote.SubjectID = info.SubjectID
		p.logger.Debug().
			Str("subject", info.SubjectID).
			Str("expires_in", info.FormatHours()).
			Msg("credential loaded")
	}

	fetched, err := p.fetcher.FetchInbox(ctx, cred, remote, clickup.FetchOptions{PageSize: p.cfg.PageSize})
	if err != nil {
		return PushResult{}, err
	}
	if fetched.Partial {
		p.logger.Warn().Err(fetched.PartialErr).Int("pages", fetched.Pages).Msg("pushing partial inbox")
	}

	ack, err := p.pusher.Push(ctx, relay.PushRequest{
		Notifications: fetched.Items,
		Credential:    string(cred),
		WorkspaceID:   target.WorkspaceID,
		Producer:      p.producer,
	})
	if err != nil {
		return PushResult{}, err
	}
	if !ack.Accepted {
		return PushResult{}, fmt.Errorf("relay did not accept the snapshot")
	}

	p.logger.Info().
		Int("count", ack.Count).
		Int("pages", fetched.Pages).
		Str("workspace_id", target.WorkspaceID).
		Msg("snapshot pushed")

	return PushResult{
		Count:   ack.Count,
		Pages:   fetched.Pages,
		Partial: fetched.Partial,
	}, nil
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = time.Now()
	}
}

// sendResult sends a PushResult on the result channel without blocking.
func (p *Poller) sendResult(res PushResult) {
	select {
	case p.resultCh <- res:
	default:
	}
}
