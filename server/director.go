// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// tcpIngestor is the subset of the TCP ingestor's lifecycle the Director
// drives directly: Serve blocks until the listener is told to stop, Stop
// requests it close down. Satisfied by *TCPIngestor.
type tcpIngestor interface {
	Status() *AtomicStatus
	Serve(ctx context.Context) error
	Stop()
}

// nymIngestor is the anonymous-transport receiver/dispatcher pair.
// Satisfied by *NymIngestor.
type nymIngestor interface {
	Status() *AtomicStatus
	DispatcherStatus() *AtomicStatus
	Serve(ctx context.Context) error
	Stop()
}

// Config holds the Director's tunables, named for the recognized
// configuration options this proxy is started with.
type Config struct {
	MaxQueueSize       int
	MaxWorkerPoolSize  int
	IdleWorkerPoolSize int
	RPCTimeout         time.Duration
	TickInterval       time.Duration
}

// Director is the supervisory task: it owns the request/response queues,
// the worker pool, and both ingestors, and runs the fixed-interval tick
// loop that scales the pool and checks component health. Grounded on
// zaino-serve's Server::spawn/serve/check_for_shutdown/shutdown.
type Director struct {
	cfg Config
	log *logrus.Entry

	requestQ  *BoundedQueue[RequestEnvelope]
	responseQ *BoundedQueue[ResponseEnvelope]
	pool      *WorkerPool
	status    *ServerStatus

	tcp tcpIngestor
	nym nymIngestor

	online        atomic.Bool
	atCapacityLog sync.Once
	wg            sync.WaitGroup
}

// NewDirector constructs the serving fabric: queues sized per Config,
// the worker pool pre-spawned to IdleWorkerPoolSize, and the aggregated
// status. Ingestors are wired in afterwards with AttachTCP/AttachNym.
func NewDirector(cfg Config, dispatcher AnonymousDispatcher, log *logrus.Entry) *Director {
	d := &Director{
		cfg:    cfg,
		log:    log,
		status: NewServerStatus(),
	}
	d.status.Server.Store(Spawning)
	d.online.Store(true)

	d.requestQ = NewBoundedQueue[RequestEnvelope](cfg.MaxQueueSize)
	d.responseQ = NewBoundedQueue[ResponseEnvelope](cfg.MaxQueueSize)
	d.status.RequestQueueDepth = d.requestQ.Length
	d.status.ResponseQueueDepth = d.responseQ.Length

	d.pool = NewWorkerPool(cfg.IdleWorkerPoolSize, cfg.MaxWorkerPoolSize, cfg.IdleWorkerPoolSize, d.requestQ, d.responseQ, dispatcher, &d.online, cfg.RPCTimeout, d.status.WorkerPool, log)

	return d
}

// RequestQueue is exposed so ingestors constructed separately (TCP
// interceptors, the anonymous receiver) can try-enqueue onto it.
func (d *Director) RequestQueue() *BoundedQueue[RequestEnvelope] { return d.requestQ }

// ResponseQueue is exposed so the anonymous dispatcher can drain replies.
func (d *Director) ResponseQueue() *BoundedQueue[ResponseEnvelope] { return d.responseQ }

// Status returns the aggregated ServerStatus for external health reporting.
func (d *Director) Status() *ServerStatus { return d.status }

// Online reports whether the Director is still accepting work; ingestors
// poll this instead of a channel so a single atomic flip is visible to
// every producer immediately.
func (d *Director) Online() *atomic.Bool { return &d.online }

// AttachTCP wires a TCP ingestor into the status subsystem and launches
// its Serve loop.
func (d *Director) AttachTCP(ctx context.Context, ing tcpIngestor) {
	d.tcp = ing
	d.status.TCPIngestor = ing.Status()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := ing.Serve(ctx); err != nil {
			d.log.WithError(err).Error("TCP ingestor exited")
		}
	}()
}

// AttachNym wires an anonymous-transport ingestor into the status
// subsystem and launches its Serve loop.
func (d *Director) AttachNym(ctx context.Context, ing nymIngestor) {
	d.nym = ing
	d.status.NymIngestor = ing.Status()
	d.status.NymDispatcher = ing.DispatcherStatus()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := ing.Serve(ctx); err != nil {
			d.log.WithError(err).Error("anonymous ingestor exited")
		}
	}()
}

// Run starts the 50ms supervisory tick loop and blocks until the
// Director is told to shut down (ctx cancellation or Shutdown called from
// another goroutine). It scales the worker pool up when the request
// queue is backing up and down when it has gone quiet, and surfaces any
// CheckStatuses problems via the logger.
func (d *Director) Run(ctx context.Context) {
	d.status.Server.Store(Ready)
	interval := d.cfg.TickInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Shutdown()
			return
		case <-ticker.C:
			if !d.online.Load() {
				d.Shutdown()
				return
			}
			d.tick(ctx)
		}
	}
}

// tick applies one round of scale-up/scale-down rules and logs any
// CheckStatuses findings. Scale-up triggers when the request queue is at
// least a quarter full and the pool has headroom; scale-down triggers
// when the queue has drained to at most one outstanding item and the
// pool is above its idle floor. Each decision uses only the queue depth
// and pool size observed on this tick; there is no smoothing across ticks.
func (d *Director) tick(ctx context.Context) {
	depth := d.requestQ.Length()
	capacity := d.requestQ.Capacity()
	count := d.pool.Count()

	if capacity > 0 && depth*4 >= capacity && count < d.pool.MaxSize() {
		if err := d.pool.PushWorker(ctx); err != nil {
			if err == ErrAtCapacity {
				d.atCapacityLog.Do(func() {
					d.log.Warn("worker pool at capacity, continuing without scaling up")
				})
			} else {
				d.log.WithError(err).Warn("failed to scale up worker pool")
			}
		}
	} else if depth <= 1 && count > d.pool.IdleSize() {
		if err := d.pool.PopWorker(); err != nil {
			d.log.WithError(err).Warn("failed to scale down worker pool")
		}
	}

	for _, problem := range d.status.CheckStatuses() {
		d.log.Warn(problem)
	}
}

// Shutdown transitions the Director offline: flips the shared online
// flag so every ingestor/worker stops taking new work, stops both
// ingestors, drains the worker pool, and closes the queues. Safe to call
// more than once.
func (d *Director) Shutdown() {
	if !d.online.CompareAndSwap(true, false) {
		return
	}
	d.status.Server.Store(ShuttingDown)

	if d.tcp != nil {
		d.tcp.Stop()
	}
	if d.nym != nil {
		d.nym.Stop()
	}

	d.pool.Shutdown()
	d.requestQ.Close()
	d.responseQ.Close()

	d.wg.Wait()
	d.status.Server.Store(Offline)
}
