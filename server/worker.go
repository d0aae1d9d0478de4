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

// AnonymousDispatcher handles one decoded anonymous-transport datagram and
// returns the encoded response payload. frontend.Service implements this
// by method-name switch plus JSON marshal/unmarshal of the request and
// reply, the anonymous path's stand-in wire encoding (see DESIGN.md).
type AnonymousDispatcher interface {
	Dispatch(ctx context.Context, method string, payload []byte) ([]byte, error)
}

// Worker is a long-lived task: Spawning → Ready → (loop: Working → Ready)
// → Draining → Offline, per the worker state machine. It pulls one
// envelope at a time from the request queue, dispatches it, and loops
// until told to drain.
type Worker struct {
	id         int
	requestQ   *BoundedQueue[RequestEnvelope]
	responseQ  *BoundedQueue[ResponseEnvelope]
	dispatcher AnonymousDispatcher
	status     *AtomicStatus
	online     *atomic.Bool
	draining   atomic.Bool
	stop       chan struct{}
	stopOnce   sync.Once
	log        *logrus.Entry
	rpcTimeout time.Duration
}

// NewWorker constructs a Worker bound to the shared queues and dispatcher.
func NewWorker(id int, requestQ *BoundedQueue[RequestEnvelope], responseQ *BoundedQueue[ResponseEnvelope], dispatcher AnonymousDispatcher, online *atomic.Bool, rpcTimeout time.Duration, log *logrus.Entry) *Worker {
	return &Worker{
		id:         id,
		requestQ:   requestQ,
		responseQ:  responseQ,
		dispatcher: dispatcher,
		status:     NewAtomicStatus(Spawning),
		online:     online,
		stop:       make(chan struct{}),
		rpcTimeout: rpcTimeout,
		log:        log.WithField("worker", id),
	}
}

// Status returns the worker's AtomicStatus, read by the pool/status subsystem.
func (w *Worker) Status() *AtomicStatus { return w.status }

// Drain requests that the worker finish its current unit of work (if any)
// and exit, rather than dequeuing another envelope. Closing stop wakes a
// worker that is idle-blocked in DequeueCtx on an empty queue, since
// setting the flag alone is invisible to a goroutine parked in a channel
// receive.
func (w *Worker) Drain() {
	w.draining.Store(true)
	w.stopOnce.Do(func() { close(w.stop) })
}

// Run is the worker's main loop. It returns once the worker has
// transitioned to Offline, either because Drain was called or the
// request queue was closed (process shutdown).
func (w *Worker) Run(ctx context.Context) {
	w.status.Store(Ready)
	for {
		if w.draining.Load() || !w.online.Load() {
			break
		}
		env, ok := w.requestQ.DequeueCtx(w.stop)
		if !ok {
			break // draining, or queue closed: process shutdown
		}
		w.status.Store(Working)
		w.handle(ctx, env)
		w.status.Store(Ready)
	}
	w.status.Store(Draining)
	w.status.Store(Offline)
}

func (w *Worker) handle(ctx context.Context, env RequestEnvelope) {
	switch e := env.(type) {
	case *TCPGrpcEnvelope:
		e.Run(ctx)
	case *AnonymousDatagramEnvelope:
		w.handleAnonymous(ctx, e)
	default:
		w.log.Errorf("unknown request envelope type %T", env)
	}
}

func (w *Worker) handleAnonymous(ctx context.Context, e *AnonymousDatagramEnvelope) {
	callCtx := ctx
	var cancel context.CancelFunc
	if w.rpcTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, w.rpcTimeout)
		defer cancel()
	}
	respPayload, err := w.dispatcher.Dispatch(callCtx, e.Method, e.Payload)
	if err != nil {
		w.log.WithFields(logrus.Fields{"method": e.Method, "error": err}).Warn("anonymous request failed")
		return
	}
	resp := ResponseEnvelope{Payload: respPayload, ReplyTag: e.ReplyTag}
	// Bounded retry: try a few times in case the response queue is
	// momentarily full, then drop and log, per the worker's contract for
	// a full response queue.
	for attempt := 0; attempt < 3; attempt++ {
		if w.responseQ.TryEnqueue(resp) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.log.WithField("reply_tag", e.ReplyTag).Warn("response queue full, dropping anonymous reply")
}
