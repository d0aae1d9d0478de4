// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// workerHandle pairs a Worker with the goroutine running it, so the pool
// can join a specific worker when retiring it.
type workerHandle struct {
	worker *Worker
	done   chan struct{}
}

// WorkerPool is a dynamically sized pool of Workers. The Director is its
// only mutator: push_worker/pop_worker are never called concurrently with
// each other, which is what makes pool-size invariants trivially
// serializable (see the supervisory loop's rationale).
type WorkerPool struct {
	mu         sync.Mutex
	handles    []*workerHandle
	minWorkers int
	maxWorkers int
	idleSize   int
	nextID     int

	requestQ   *BoundedQueue[RequestEnvelope]
	responseQ  *BoundedQueue[ResponseEnvelope]
	dispatcher AnonymousDispatcher
	online     *atomic.Bool
	rpcTimeout time.Duration
	status     *WorkerPoolStatus
	log        *logrus.Entry
}

// ErrAtCapacity is returned by PushWorker when the pool is already at max_size.
var ErrAtCapacity = fmt.Errorf("worker pool at capacity")

// NewWorkerPool constructs a WorkerPool and spawns `min` workers.
func NewWorkerPool(minWorkers, maxWorkers, idleSize int, requestQ *BoundedQueue[RequestEnvelope], responseQ *BoundedQueue[ResponseEnvelope], dispatcher AnonymousDispatcher, online *atomic.Bool, rpcTimeout time.Duration, status *WorkerPoolStatus, log *logrus.Entry) *WorkerPool {
	p := &WorkerPool{
		minWorkers: minWorkers,
		maxWorkers: maxWorkers,
		idleSize:   idleSize,
		requestQ:   requestQ,
		responseQ:  responseQ,
		dispatcher: dispatcher,
		online:     online,
		rpcTimeout: rpcTimeout,
		status:     status,
		log:        log,
	}
	status.Store(Spawning)
	for i := 0; i < minWorkers; i++ {
		p.spawnLocked(context.Background())
	}
	status.Store(Ready)
	return p
}

// Count returns the current number of live workers.
func (p *WorkerPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func (p *WorkerPool) MaxSize() int  { return p.maxWorkers }
func (p *WorkerPool) IdleSize() int { return p.idleSize }

func (p *WorkerPool) spawnLocked(ctx context.Context) *workerHandle {
	p.nextID++
	w := NewWorker(p.nextID, p.requestQ, p.responseQ, p.dispatcher, p.online, p.rpcTimeout, p.log)
	h := &workerHandle{worker: w, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		w.Run(ctx)
	}()
	p.status.incWorker()
	p.handles = append(p.handles, h)
	return h
}

// PushWorker spawns one additional worker, or returns ErrAtCapacity if the
// pool is already at max_size.
func (p *WorkerPool) PushWorker(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handles) >= p.maxWorkers {
		return ErrAtCapacity
	}
	p.spawnLocked(ctx)
	return nil
}

// PopWorker retires one worker, waiting for it to finish its current unit
// of work before joining it. Per the recommended resolution to the scale-
// down ambiguity, it retires an idle (Ready-state) worker first, falling
// back to the most-recently-added worker only if none are currently idle
// — never a worker known to be mid-task when an idle alternative exists.
func (p *WorkerPool) PopWorker() error {
	p.mu.Lock()
	victim := -1
	for i, h := range p.handles {
		if h.worker.Status().Load() == Ready {
			victim = i
			break
		}
	}
	if victim == -1 && len(p.handles) > 0 {
		victim = len(p.handles) - 1
	}
	if victim == -1 {
		p.mu.Unlock()
		return fmt.Errorf("no workers to pop")
	}
	h := p.handles[victim]
	p.handles = append(p.handles[:victim], p.handles[victim+1:]...)
	p.mu.Unlock()

	// Drain closes the worker's stop channel, which wakes it immediately
	// even if it is idle-blocked waiting on an empty request queue.
	h.worker.Drain()
	<-h.done
	p.status.decWorker()
	return nil
}

// Shutdown signals every remaining worker to drain and waits for each to join.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()
	for _, h := range handles {
		h.worker.Drain()
	}
	for _, h := range handles {
		<-h.done
		p.status.decWorker()
	}
	p.status.Store(Offline)
}
