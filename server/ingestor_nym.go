// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/openconfig/grpctunnel/tunnel"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// anonymousEnvelopeWire is the on-the-wire shape of one decoded
// AnonymousDatagramEnvelope/ResponseEnvelope, JSON-encoded and
// length-prefixed over the tunnel session's byte stream. This is a
// documented stand-in for full protobuf framing: the anonymous transport
// here is a reverse tunnel session (grpctunnel), not a protobuf codec, so
// a self-describing envelope is simplest for request/response pairing by
// reply tag (see DESIGN.md).
type anonymousEnvelopeWire struct {
	Method  string `json:"method"`
	Payload []byte `json:"payload"`
}

// NymIngestorConfig names the anonymous-transport listen configuration,
// matching the `nym_conf_path`-rooted options in spec.md §6.
type NymIngestorConfig struct {
	ConfPath string
}

// NymIngestor is the anonymous-transport receiver/dispatcher pair (C7):
// a grpctunnel server accepts reverse-tunnel sessions (one per anonymous
// peer, keyed by its Target as the reply tag), decodes each inbound
// frame into an AnonymousDatagramEnvelope and try-enqueues it, and a
// dispatcher goroutine drains the response queue and writes matching
// replies back out their originating session.
type NymIngestor struct {
	cfg NymIngestorConfig
	log *logrus.Entry

	requestQ  *BoundedQueue[RequestEnvelope]
	responseQ *BoundedQueue[ResponseEnvelope]
	online    *atomic.Bool

	status     *AtomicStatus
	dispStatus *AtomicStatus

	mu       sync.Mutex
	sessions map[ReplyTag]io.ReadWriteCloser

	dropped atomic.Int64 // datagrams dropped because the request queue was full

	tsrv *tunnel.Server
	lis  net.Listener
	gsrv *grpc.Server
}

// NewNymIngestor constructs a NymIngestor bound to the Director's shared
// queues and online flag.
func NewNymIngestor(cfg NymIngestorConfig, requestQ *BoundedQueue[RequestEnvelope], responseQ *BoundedQueue[ResponseEnvelope], online *atomic.Bool, log *logrus.Entry) *NymIngestor {
	return &NymIngestor{
		cfg:        cfg,
		log:        log,
		requestQ:   requestQ,
		responseQ:  responseQ,
		online:     online,
		status:     NewAtomicStatus(Spawning),
		dispStatus: NewAtomicStatus(Spawning),
		sessions:   make(map[ReplyTag]io.ReadWriteCloser),
	}
}

// Status implements NymIngestor (Director interface).
func (n *NymIngestor) Status() *AtomicStatus { return n.status }

// DispatcherStatus implements NymIngestor (Director interface).
func (n *NymIngestor) DispatcherStatus() *AtomicStatus { return n.dispStatus }

// Dropped returns how many inbound datagrams were dropped on a full request queue.
func (n *NymIngestor) Dropped() int64 { return n.dropped.Load() }

// Serve accepts anonymous-transport sessions until Stop is called. Each
// accepted tunnel session is handled by handleSession, which decodes one
// datagram per frame, try-enqueues an AnonymousDatagramEnvelope (dropping
// and counting on Full, per the anonymous ingestor's contract), and
// registers the session so the dispatcher can find it again by reply tag.
func (n *NymIngestor) Serve(ctx context.Context) error {
	n.status.Store(Spawning)
	ts, err := tunnel.NewServer(tunnel.ServerConfig{
		Handler: n.handleSession,
	})
	if err != nil {
		return fmt.Errorf("construct anonymous-transport tunnel server: %w", err)
	}
	n.tsrv = ts

	n.gsrv = grpc.NewServer()
	ts.Register(n.gsrv)

	lis, err := net.Listen("unix", n.cfg.ConfPath)
	if err != nil {
		return fmt.Errorf("listen on nym_conf_path %q: %w", n.cfg.ConfPath, err)
	}
	n.lis = lis

	go n.dispatch(ctx)

	n.status.Store(Ready)
	n.dispStatus.Store(Ready)
	if err := n.gsrv.Serve(lis); err != nil {
		n.status.Store(Offline)
		return err
	}
	return nil
}

// Stop tears down the listener, draining any in-flight sessions.
func (n *NymIngestor) Stop() {
	n.status.Store(ShuttingDown)
	if n.gsrv != nil {
		n.gsrv.GracefulStop()
	}
	n.status.Store(Offline)
	n.dispStatus.Store(Offline)
}

func (n *NymIngestor) handleSession(sess *tunnel.Session, rwc io.ReadWriteCloser) error {
	tag := ReplyTag(sess.Target.ID)
	n.mu.Lock()
	n.sessions[tag] = rwc
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.sessions, tag)
		n.mu.Unlock()
		rwc.Close()
	}()

	n.status.Store(Working)
	defer n.status.Store(Ready)

	for {
		frame, err := readFrame(rwc)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		var wire anonymousEnvelopeWire
		if err := json.Unmarshal(frame, &wire); err != nil {
			n.log.WithError(err).Warn("dropping malformed anonymous datagram")
			continue
		}
		env := &AnonymousDatagramEnvelope{Method: wire.Method, Payload: wire.Payload, ReplyTag: tag}
		if !n.requestQ.TryEnqueue(env) {
			n.dropped.Add(1)
			n.log.WithField("reply_tag", tag).Warn("request queue full, dropping anonymous datagram")
		}
	}
}

// dispatch drains the response queue and writes each reply back through
// its originating tunnel session, keyed by reply tag. If the session has
// already closed, the reply is dropped and logged — there is no inbound
// sender to retry against.
func (n *NymIngestor) dispatch(ctx context.Context) {
	for {
		if !n.online.Load() {
			return
		}
		resp, ok := n.responseQ.Dequeue()
		if !ok {
			return
		}
		n.mu.Lock()
		rwc, found := n.sessions[resp.ReplyTag]
		n.mu.Unlock()
		if !found {
			n.log.WithField("reply_tag", resp.ReplyTag).Warn("no open session for anonymous reply, dropping")
			continue
		}
		if err := writeFrame(rwc, resp.Payload); err != nil {
			n.log.WithError(err).WithField("reply_tag", resp.ReplyTag).Warn("failed to write anonymous reply")
		}
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	wire := anonymousEnvelopeWire{Payload: payload}
	body, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
