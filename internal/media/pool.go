/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/duocast/internal/events"
)

const (
	respawnAttempts    = 3
	respawnBackoffStep = 500 * time.Millisecond
	spawnTimeout       = 10 * time.Second
)

var (
	// ErrPoolClosed indicates the pool has been shut down.
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrNoWorkers indicates every pool slot is dead and unreplaced.
	ErrNoWorkers = errors.New("no live media workers")
)

// SpawnFunc produces one running worker. The pool calls it at boot and again
// when replacing a dead worker.
type SpawnFunc func(ctx context.Context) (*Worker, error)

// DefaultSpawner returns a SpawnFunc that launches real worker processes
// with the given settings.
func DefaultSpawner(settings WorkerSettings, logger zerolog.Logger) SpawnFunc {
	return func(ctx context.Context) (*Worker, error) {
		return NewWorker(ctx, settings, logger)
	}
}

// Pool maintains a fixed-size set of media workers. New routers are placed
// on workers round-robin. A dead worker is replaced in its own slot so the
// rotation order stays stable; routers on the dead worker are not migrated.
type Pool struct {
	spawn  SpawnFunc
	bus    *events.Bus
	logger zerolog.Logger

	mu      sync.Mutex
	workers []*Worker
	next    int
	closed  bool

	onWorkerDown func(*Worker)
}

// NewPool boots count workers sequentially. Any startup failure tears down
// the workers already running and fails the boot.
func NewPool(ctx context.Context, count int, spawn SpawnFunc, bus *events.Bus, logger zerolog.Logger) (*Pool, error) {
	p := &Pool{
		spawn:  spawn,
		bus:    bus,
		logger: logger,
	}

	for i := 0; i < count; i++ {
		w, err := spawn(ctx)
		if err != nil {
			for _, started := range p.workers {
				started.Close()
			}
			return nil, err
		}
		p.workers = append(p.workers, w)
		w.OnDied(p.handleWorkerDeath)
	}

	p.logger.Info().Int("workers", count).Msg("media worker pool ready")
	return p, nil
}

// OnWorkerDown registers the callback fired when a worker dies, before its
// replacement is attempted. The callback receives the dead worker so callers
// can fail over state that was homed on it.
func (p *Pool) OnWorkerDown(fn func(*Worker)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWorkerDown = fn
}

// GetNext returns the next live worker in rotation.
func (p *Pool) GetNext() (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	n := len(p.workers)
	for i := 0; i < n; i++ {
		w := p.workers[p.next%n]
		p.next++
		if !w.Closed() {
			return w, nil
		}
	}
	return nil, ErrNoWorkers
}

// Size returns the configured slot count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// AliveCount returns how many slots currently hold a live worker.
func (p *Pool) AliveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	alive := 0
	for _, w := range p.workers {
		if !w.Closed() {
			alive++
		}
	}
	return alive
}

// Close shuts down every worker. Replacement stops permanently.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
	p.logger.Info().Msg("media worker pool closed")
}

func (p *Pool) handleWorkerDeath(dead *Worker, cause error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	slot := -1
	for i, w := range p.workers {
		if w == dead {
			slot = i
			break
		}
	}
	onDown := p.onWorkerDown
	p.mu.Unlock()

	if slot < 0 {
		return
	}

	p.logger.Error().Err(cause).Str("worker_id", dead.ID()).Int("slot", slot).Msg("media worker died")
	if p.bus != nil {
		p.bus.Publish(events.EventWorkerDied, events.Payload{
			"worker_id": dead.ID(),
			"slot":      slot,
			"error":     cause.Error(),
		})
	}
	if onDown != nil {
		onDown(dead)
	}

	go p.replaceWorker(slot, dead.ID())
}

// replaceWorker retries the spawn a few times with linear backoff, then
// installs the replacement in the dead worker's slot.
func (p *Pool) replaceWorker(slot int, deadID string) {
	var replacement *Worker
	for attempt := 1; attempt <= respawnAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), spawnTimeout)
		w, err := p.spawn(ctx)
		cancel()
		if err == nil {
			replacement = w
			break
		}
		p.logger.Warn().Err(err).Int("slot", slot).Int("attempt", attempt).Msg("worker respawn failed")
		time.Sleep(time.Duration(attempt) * respawnBackoffStep)
	}

	if replacement == nil {
		p.logger.Error().Int("slot", slot).Msg("worker slot abandoned after respawn attempts")
		return
	}

	p.mu.Lock()
	if p.closed || slot >= len(p.workers) {
		p.mu.Unlock()
		replacement.Close()
		return
	}
	p.workers[slot] = replacement
	p.mu.Unlock()

	replacement.OnDied(p.handleWorkerDeath)
	p.logger.Info().Str("worker_id", replacement.ID()).Int("slot", slot).Msg("media worker replaced")
	if p.bus != nil {
		p.bus.Publish(events.EventWorkerReplaced, events.Payload{
			"worker_id":      replacement.ID(),
			"dead_worker_id": deadID,
			"slot":           slot,
		})
	}
}
