// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package server

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(discardWriter{})
	return logrus.NewEntry(log)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// blockingEnvelope signals on started as soon as a worker picks it up, then
// blocks until release is closed, letting a test pin exactly N workers as
// occupied before asserting on queue depth or pool size.
func blockingEnvelope(started chan<- struct{}, release <-chan struct{}) *TCPGrpcEnvelope {
	return &TCPGrpcEnvelope{Run: func(ctx context.Context) {
		started <- struct{}{}
		<-release
	}}
}

func inertEnvelope() *TCPGrpcEnvelope {
	return &TCPGrpcEnvelope{Run: func(ctx context.Context) {}}
}

const testIdle = 5

func newTestDirector(t *testing.T) *Director {
	t.Helper()
	cfg := Config{
		MaxQueueSize:       100,
		MaxWorkerPoolSize:  50,
		IdleWorkerPoolSize: testIdle,
		RPCTimeout:         0,
		TickInterval:       50 * time.Millisecond,
	}
	return NewDirector(cfg, nil, testLogger())
}

// pinIdleWorkers blocks every pre-spawned idle worker on its own envelope
// and waits for all of them to report started, so the caller can reason
// about queue depth without racing the pool's own consumers.
func pinIdleWorkers(t *testing.T, d *Director, release <-chan struct{}) {
	t.Helper()
	started := make(chan struct{}, testIdle)
	for i := 0; i < testIdle; i++ {
		if !d.requestQ.TryEnqueue(blockingEnvelope(started, release)) {
			t.Fatalf("failed to enqueue blocking envelope %d", i)
		}
	}
	for i := 0; i < testIdle; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("worker %d never picked up its blocking envelope", i)
		}
	}
}

// TestDirectorScalesUpUnderPressure exercises the scaling scenario: with a
// capacity-100 queue pre-loaded with 26 items once every idle worker is
// pinned, one supervisor tick should grow the pool by exactly one worker.
func TestDirectorScalesUpUnderPressure(t *testing.T) {
	d := newTestDirector(t)
	release := make(chan struct{})
	defer close(release)

	pinIdleWorkers(t, d, release)

	for i := 0; i < 26; i++ {
		if !d.requestQ.TryEnqueue(inertEnvelope()) {
			t.Fatalf("failed to enqueue inert envelope %d", i)
		}
	}
	if depth := d.requestQ.Length(); depth != 26 {
		t.Fatalf("queue depth = %d, want 26", depth)
	}

	d.tick(context.Background())

	if count := d.pool.Count(); count != testIdle+1 {
		t.Fatalf("pool count after one tick = %d, want %d", count, testIdle+1)
	}
}

// TestDirectorScalesDownToIdle exercises the complementary scale-down
// scenario: once the pool has grown past its idle floor and the queue has
// drained, successive ticks retire workers back down to the idle floor.
func TestDirectorScalesDownToIdle(t *testing.T) {
	d := newTestDirector(t)
	release := make(chan struct{})
	defer close(release)

	pinIdleWorkers(t, d, release)

	ctx := context.Background()
	if err := d.pool.PushWorker(ctx); err != nil {
		t.Fatalf("PushWorker: %v", err)
	}
	if err := d.pool.PushWorker(ctx); err != nil {
		t.Fatalf("PushWorker: %v", err)
	}
	if count := d.pool.Count(); count != testIdle+2 {
		t.Fatalf("pool count after growing = %d, want %d", count, testIdle+2)
	}

	// At most one item outstanding: the two freshly pushed workers are
	// idle and may drain it immediately, which only helps satisfy the
	// scale-down queue-depth condition.
	d.requestQ.TryEnqueue(inertEnvelope())

	d.tick(ctx)
	if count := d.pool.Count(); count != testIdle+1 {
		t.Fatalf("pool count after first scale-down tick = %d, want %d", count, testIdle+1)
	}

	d.tick(ctx)
	if count := d.pool.Count(); count != testIdle {
		t.Fatalf("pool count after second scale-down tick = %d, want %d", count, testIdle)
	}
}

// TestDirectorShutdownIsReachable checks that Shutdown completes promptly
// and is idempotent: calling Shutdown twice in a row must not deadlock or
// panic, the online flag ends up false, and the request queue ends up
// closed.
func TestDirectorShutdownIsReachable(t *testing.T) {
	d := newTestDirector(t)

	done := make(chan struct{})
	go func() {
		d.Shutdown()
		d.Shutdown() // idempotent: must not block or panic
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not complete within bound")
	}

	if d.online.Load() {
		t.Fatal("online flag still true after Shutdown")
	}
	if _, ok := d.requestQ.Dequeue(); ok {
		t.Fatal("request queue still open after Shutdown")
	}
}
