// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package server

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the error taxonomy shared across the serving fabric: every
// failure a worker or ingestor can hit is classified as one of these, and
// Error.GRPCStatus carries the mapping to a gRPC status code so handlers
// never hand-roll status.Errorf independently.
type Kind int

const (
	KindConfig Kind = iota
	KindBindFailed
	KindParse
	KindRPCCallFailed
	KindTransport
	KindQueueFull
	KindWorkerCrash
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "Config"
	case KindBindFailed:
		return "BindFailed"
	case KindParse:
		return "Parse"
	case KindRPCCallFailed:
		return "RpcCallFailed"
	case KindTransport:
		return "Transport"
	case KindQueueFull:
		return "QueueFull"
	case KindWorkerCrash:
		return "WorkerCrash"
	case KindShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// RPCCallFailedReason refines KindRPCCallFailed, since its gRPC mapping
// depends on why the validator call failed.
type RPCCallFailedReason int

const (
	ReasonNoSuchMethod RPCCallFailedReason = iota
	ReasonBadParams
	ReasonNotFound
	ReasonOther
)

// Error is the error type every server-package component returns; it
// carries enough detail to pick a gRPC status code without the caller
// needing to inspect strings.
type Error struct {
	Kind    Kind
	Reason  RPCCallFailedReason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// GRPCStatus maps this error onto the gRPC status the client should see,
// per the error handling design's Kind→status table.
func (e *Error) GRPCStatus() *status.Status {
	switch e.Kind {
	case KindRPCCallFailed:
		switch e.Reason {
		case ReasonNoSuchMethod, ReasonBadParams:
			return status.New(codes.InvalidArgument, e.Error())
		case ReasonNotFound:
			return status.New(codes.NotFound, e.Error())
		default:
			return status.New(codes.Internal, e.Error())
		}
	case KindTransport:
		return status.New(codes.Internal, e.Error())
	case KindQueueFull:
		return status.New(codes.Unavailable, e.Error())
	case KindParse:
		return status.New(codes.Internal, "internal error processing request")
	case KindConfig, KindBindFailed:
		return status.New(codes.Internal, e.Error())
	case KindShutdown:
		return status.New(codes.Unavailable, e.Error())
	default:
		return status.New(codes.Internal, e.Error())
	}
}

// NewRPCCallFailed builds a KindRPCCallFailed Error classified by reason.
func NewRPCCallFailed(reason RPCCallFailedReason, msg string, cause error) *Error {
	return &Error{Kind: KindRPCCallFailed, Reason: reason, Message: msg, Cause: cause}
}

// NewQueueFull builds the error an ingestor returns to a caller when its
// try-enqueue hits a full queue.
func NewQueueFull(msg string) *Error {
	return &Error{Kind: KindQueueFull, Message: msg}
}

// NewParse builds the sanitized Internal error a worker surfaces when
// consensus-format parsing fails; the underlying parse error is logged,
// never relayed to the client.
func NewParse(cause error) *Error {
	return &Error{Kind: KindParse, Message: "internal error processing request", Cause: cause}
}

// NewTransport builds a transport-layer failure (validator unreachable, etc).
func NewTransport(msg string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: msg, Cause: cause}
}

// NewConfig builds a configuration error, fatal at start-up.
func NewConfig(msg string) *Error {
	return &Error{Kind: KindConfig, Message: msg}
}

// NewBindFailed builds a listener-bind failure, fatal at start-up.
func NewBindFailed(msg string, cause error) *Error {
	return &Error{Kind: KindBindFailed, Message: msg, Cause: cause}
}

// NewShutdown builds the error a caller sees when it reaches an ingestor
// that has already flipped offline.
func NewShutdown(msg string) *Error {
	return &Error{Kind: KindShutdown, Message: msg}
}
