// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package server

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// TCPIngestor owns the plain-TCP (or TLS) gRPC listener. grpc-go's own
// transport already accepts connections and hands each call its own
// goroutine; what this type adds is the pair of interceptors that move
// the actual handler invocation onto the shared worker pool, so pool
// size — not grpc-go's unbounded per-call goroutines — is what bounds
// concurrent request processing. Register UnaryInterceptor/
// StreamInterceptor with grpc.NewServer alongside the teacher's existing
// logging/metrics interceptor chain.
type TCPIngestor struct {
	requestQ *BoundedQueue[RequestEnvelope]
	online   *atomic.Bool
	log      *logrus.Entry

	addr   string
	lis    net.Listener
	gsrv   *grpc.Server
	status *AtomicStatus
}

// NewTCPIngestor constructs a TCPIngestor bound to the Director's shared
// request queue and online flag. gsrv may be nil and bound later with
// SetServer; whichever server is served must have been built with the
// returned ingestor's UnaryInterceptor/StreamInterceptor among its options.
func NewTCPIngestor(addr string, gsrv *grpc.Server, requestQ *BoundedQueue[RequestEnvelope], online *atomic.Bool, log *logrus.Entry) *TCPIngestor {
	return &TCPIngestor{
		requestQ: requestQ,
		online:   online,
		log:      log,
		addr:     addr,
		gsrv:     gsrv,
		status:   NewAtomicStatus(Spawning),
	}
}

// Status implements the Director's tcpIngestor interface.
func (t *TCPIngestor) Status() *AtomicStatus { return t.status }

// SetServer binds the grpc.Server this ingestor serves once it has been
// constructed with the ingestor's own Unary/StreamInterceptor methods
// already registered as server options.
func (t *TCPIngestor) SetServer(gsrv *grpc.Server) { t.gsrv = gsrv }

// Serve binds the listen address and blocks serving gRPC until Stop is
// called or the listener errors.
func (t *TCPIngestor) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", t.addr)
	if err != nil {
		t.status.Store(Offline)
		return NewBindFailed("failed to bind "+t.addr, err)
	}
	t.lis = lis
	t.status.Store(Ready)
	err = t.gsrv.Serve(lis)
	t.status.Store(Offline)
	return err
}

// Stop gracefully stops the gRPC server, letting in-flight calls drain.
func (t *TCPIngestor) Stop() {
	t.status.Store(ShuttingDown)
	if t.gsrv != nil {
		t.gsrv.GracefulStop()
	}
}

// UnaryInterceptor queues a unary call's handler invocation onto the
// worker pool and blocks until it completes or the call's context is
// done. If the queue is full or the Director has gone offline, the call
// fails fast with Unavailable rather than blocking a grpc-go goroutine
// indefinitely — grpc-go itself already accepted the connection, so this
// is purely backpressure on processing, never on accept.
func (t *TCPIngestor) UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if !t.online.Load() {
		return nil, NewShutdown("server is shutting down").GRPCStatus().Err()
	}

	type result struct {
		resp interface{}
		err  error
	}
	done := make(chan result, 1)
	env := &TCPGrpcEnvelope{Run: func(runCtx context.Context) {
		resp, err := handler(runCtx, req)
		done <- result{resp, err}
	}}

	if !t.requestQ.TryEnqueue(env) {
		return nil, NewQueueFull("request queue full, rejecting " + info.FullMethod).GRPCStatus().Err()
	}

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StreamInterceptor queues a streaming call's handler invocation the
// same way UnaryInterceptor does; the handler owns ss for the entire
// call, so the worker is occupied for the stream's full lifetime.
func (t *TCPIngestor) StreamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if !t.online.Load() {
		return NewShutdown("server is shutting down").GRPCStatus().Err()
	}

	done := make(chan error, 1)
	env := &TCPGrpcEnvelope{Run: func(_ context.Context) {
		done <- handler(srv, ss)
	}}

	if !t.requestQ.TryEnqueue(env) {
		return NewQueueFull("request queue full, rejecting " + info.FullMethod).GRPCStatus().Err()
	}

	select {
	case err := <-done:
		return err
	case <-ss.Context().Done():
		return ss.Context().Err()
	}
}
