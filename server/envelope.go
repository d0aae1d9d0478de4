// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package server

import "context"

// RequestEnvelope is the tagged union over the two ways a request can
// enter the serving fabric: a live TCP-origin gRPC call, or a decoded
// anonymous-transport datagram. Workers dispatch on the concrete type.
type RequestEnvelope interface {
	isRequestEnvelope()
}

// TCPGrpcEnvelope carries ownership of one in-flight gRPC call: Run
// invokes the real handler (unary) or stream handler (server-streaming)
// that grpc-go's own per-call goroutine is blocked waiting on. The
// interceptor that constructs the envelope already owns the inbound
// stream handle via grpc-go's transport layer; the envelope's job is
// purely to move the handler invocation itself onto a worker so the
// worker pool — not grpc-go's unbounded per-call goroutines — is what
// bounds concurrent request processing.
type TCPGrpcEnvelope struct {
	Run func(ctx context.Context)
}

func (*TCPGrpcEnvelope) isRequestEnvelope() {}

// ReplyTag is the opaque anonymous-sender identifier the mixnet transport
// hands back with each inbound datagram; outbound replies reference it to
// route back to the original (unknown) sender. It is never threaded into
// TCP paths.
type ReplyTag string

// AnonymousDatagramEnvelope carries a decoded gRPC request payload
// received over the anonymous transport, plus the reply tag needed to
// route the eventual response back through the mixnet.
type AnonymousDatagramEnvelope struct {
	Method   string
	Payload  []byte
	ReplyTag ReplyTag
}

func (*AnonymousDatagramEnvelope) isRequestEnvelope() {}

// ResponseEnvelope is produced by a worker for every AnonymousDatagramEnvelope
// it processes and pushed onto the response queue for the anonymous
// dispatcher to relay.
type ResponseEnvelope struct {
	Payload  []byte
	ReplyTag ReplyTag
}
