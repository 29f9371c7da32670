package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/wishstash/wishstash/internal/models"
	"github.com/wishstash/wishstash/pkg/api"
)

// State summarizes the replication subsystem for the UI
type State string

const (
	// StateIdle means everything pushed and pulled, nothing running
	StateIdle State = "idle"

	// StateSyncing means at least one sync cycle is in flight
	StateSyncing State = "syncing"

	// StateOffline means the last server contact failed and local changes
	// are queued until connectivity returns
	StateOffline State = "offline"

	// StateError means at least one collection is paused after a protocol
	// error and needs an explicit resync
	StateError State = "error"
)

// Status is a point-in-time snapshot of the sync subsystem
type Status struct {
	State             State
	Pending           int
	PausedCollections []string
}

// defaultSyncInterval is the periodic background sync cadence. Realtime
// notifications trigger syncs much sooner; the timer is the fallback for
// missed events.
const defaultSyncInterval = 5 * time.Minute

// Orchestrator drives the engine: periodic timer, realtime notification
// fan-out, and status derivation. All triggers are asynchronous; the
// engine serializes per-collection cycles itself.
type Orchestrator struct {
	engine   Engine
	logger   *slog.Logger
	interval time.Duration

	mu       gosync.Mutex
	inFlight int
	offline  bool

	wg gosync.WaitGroup
}

// NewOrchestrator creates an orchestrator over the engine. interval <= 0
// selects the default background cadence.
func NewOrchestrator(engine Engine, logger *slog.Logger, interval time.Duration) *Orchestrator {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &Orchestrator{
		engine:   engine,
		logger:   logger,
		interval: interval,
	}
}

// Run performs an initial full sync and then re-syncs on the background
// timer until the context is canceled. In-flight cycles are waited out
// before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.TriggerAll(ctx)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			o.TriggerAll(ctx)
		}
	}
}

// TriggerSync starts a sync cycle for one collection in the background
func (o *Orchestrator) TriggerSync(ctx context.Context, collection string) {
	o.mu.Lock()
	o.inFlight++
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, err := o.engine.SyncCollection(ctx, collection)
		o.finishCycle(collection, err)
	}()
}

// TriggerAll starts a sync cycle for every collection
func (o *Orchestrator) TriggerAll(ctx context.Context) {
	for _, collection := range models.Collections {
		o.TriggerSync(ctx, collection)
	}
}

func (o *Orchestrator) finishCycle(collection string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.inFlight--

	switch {
	case err == nil:
		o.offline = false
	case errors.Is(err, ErrSyncPaused):
		// Paused state is tracked by the engine; the server is reachable
		o.offline = false
	case errors.Is(err, context.Canceled):
	default:
		o.offline = true
		o.logger.Warn("sync cycle failed, staying offline",
			slog.String("collection", collection),
			slog.Any("error", err))
	}
}

// HandleNotification maps a realtime event onto sync triggers. Events are
// invalidation hints only, so every kind resolves to "go pull that
// collection now".
func (o *Orchestrator) HandleNotification(ctx context.Context, frame api.EventFrame) {
	var collections []string

	switch frame.Kind {
	case api.EventListChanged:
		collections = []string{models.CollectionList}
	case api.EventEntryChanged:
		collections = []string{models.CollectionEntry}
	case api.EventMarkChanged:
		collections = []string{models.CollectionMark}
	case api.EventImportCompleted:
		collections = models.Collections
	default:
		o.logger.Debug("ignoring unknown event kind", slog.String("kind", string(frame.Kind)))
		return
	}

	for _, collection := range collections {
		o.TriggerSync(ctx, collection)
	}
}

// Resync recovers a paused collection through the engine
func (o *Orchestrator) Resync(ctx context.Context, collection string) (*Result, error) {
	result, err := o.engine.Resync(ctx, collection)
	if err == nil {
		o.mu.Lock()
		o.offline = false
		o.mu.Unlock()
	}
	return result, err
}

// Status derives the current state. Offline outranks error, error
// outranks syncing: a paused collection still needs attention even while
// other collections sync fine.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	pending, err := o.engine.PendingCount(ctx)
	if err != nil {
		return nil, err
	}

	var paused []string
	for _, collection := range models.Collections {
		if o.engine.Paused(collection) {
			paused = append(paused, collection)
		}
	}

	o.mu.Lock()
	offline := o.offline
	inFlight := o.inFlight
	o.mu.Unlock()

	state := StateIdle
	switch {
	case offline:
		state = StateOffline
	case len(paused) > 0:
		state = StateError
	case inFlight > 0:
		state = StateSyncing
	}

	return &Status{
		State:             state,
		Pending:           pending,
		PausedCollections: paused,
	}, nil
}

// Wait blocks until all in-flight sync cycles finish
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
