// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package reader provides a position-tracking byte cursor with an explicit
// error taxonomy, built on top of the parser's cryptobyte-style bytestring
// primitives. The block and transaction parsers do not use it; they read
// through bytestring directly, and no other package imports reader.
package reader

import (
	"encoding/hex"
	"fmt"

	"github.com/zcash/lightwalletd-proxy/parser/internal/bytestring"
)

// Kind classifies a ParseError the way the two broad failure modes of a
// binary parse naturally split: a transport-level I/O failure feeding the
// bytes in, versus the bytes themselves not meaning what was expected.
type Kind int

const (
	// KindIO wraps a lower-level I/O error encountered while the bytes were
	// being produced (for example, a short read from an RPC transport).
	KindIO Kind = iota
	// KindInvalidData means the bytes were all present but did not decode
	// to a valid value at the current cursor position.
	KindInvalidData
)

// ParseError is the sole error type surfaced by Reader. The caller aborts
// the current parse on any ParseError; there is no partial-decode recovery.
type ParseError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Kind == KindIO {
		return fmt.Sprintf("io error: %v", e.Cause)
	}
	return fmt.Sprintf("invalid data: %s", e.Message)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// InvalidData constructs a ParseError of kind KindInvalidData.
func InvalidData(msg string) *ParseError {
	return &ParseError{Kind: KindInvalidData, Message: msg}
}

// IOError constructs a ParseError wrapping a lower-level I/O error.
func IOError(err error) *ParseError {
	return &ParseError{Kind: KindIO, Message: err.Error(), Cause: err}
}

// Reader is a position-tracking view over a byte slice.
type Reader struct {
	s bytestring.String
}

// New returns a Reader positioned at the start of buf.
func New(buf []byte) *Reader {
	return &Reader{s: bytestring.String(buf)}
}

// Remaining returns the as-yet-unconsumed tail of the underlying slice.
func (r *Reader) Remaining() []byte { return []byte(r.s) }

// Len reports the number of unconsumed bytes.
func (r *Reader) Len() int { return len(r.s) }

// Skip advances the cursor by n bytes without returning them.
func (r *Reader) Skip(n int, errMsg string) error {
	if !r.s.Skip(n) {
		return InvalidData(errMsg)
	}
	return nil
}

// ReadBytes returns the next n bytes and advances the cursor over them.
func (r *Reader) ReadBytes(n int, errMsg string) ([]byte, error) {
	var out []byte
	if !r.s.ReadBytes(&out, n) {
		return nil, InvalidData(errMsg)
	}
	return out, nil
}

// ReadU64LE decodes a little-endian 64-bit unsigned integer.
func (r *Reader) ReadU64LE(errMsg string) (uint64, error) {
	var v uint64
	if !r.s.ReadUint64(&v) {
		return 0, InvalidData(errMsg)
	}
	return v, nil
}

// ReadU32LE decodes a little-endian 32-bit unsigned integer.
func (r *Reader) ReadU32LE(errMsg string) (uint32, error) {
	var v uint32
	if !r.s.ReadUint32(&v) {
		return 0, InvalidData(errMsg)
	}
	return v, nil
}

// ReadI32LE decodes a little-endian 32-bit signed integer.
func (r *Reader) ReadI32LE(errMsg string) (int32, error) {
	var v int32
	if !r.s.ReadInt32(&v) {
		return 0, InvalidData(errMsg)
	}
	return v, nil
}

// ReadBool reads exactly one byte and requires it to be 0x00 or 0x01.
func (r *Reader) ReadBool(errMsg string) (bool, error) {
	var b byte
	if !r.s.ReadByte(&b) {
		return false, InvalidData(errMsg)
	}
	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, InvalidData(errMsg)
	}
}

// ReadScriptI64 reads the Zcash/Bitcoin script compact-integer encoding: the
// first byte 0x4f means -1, 0x00 means 0, 0x51..0x60 mean 1..16, and any
// other leading byte k is followed by a k-byte little-endian magnitude
// reinterpreted as signed.
func (r *Reader) ReadScriptI64(errMsg string) (int64, error) {
	var v int64
	if !r.s.ReadScriptInt64(&v) {
		return 0, InvalidData(errMsg)
	}
	return v, nil
}

// HexTxidsToInternal decodes a slice of display-order (big-endian) hex txids
// into their internal little-endian byte representation, as returned by
// verbose validator responses and expected by downstream block parsing.
func HexTxidsToInternal(hexTxids []string) ([][]byte, error) {
	out := make([][]byte, len(hexTxids))
	for i, h := range hexTxids {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, InvalidData(fmt.Sprintf("invalid hex txid %q: %s", h, err))
		}
		for l, r := 0, len(b)-1; l < r; l, r = l+1, r-1 {
			b[l], b[r] = b[r], b[l]
		}
		out[i] = b
	}
	return out, nil
}
