// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package reader

import (
	"bytes"
	"testing"
)

func TestReadScriptI64(t *testing.T) {
	cases := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0x4f}, -1},
		{[]byte{0x00}, 0},
		{[]byte{0x51}, 1},
		{[]byte{0x60}, 16},
		{[]byte{0x02, 0x34, 0x12}, 4660},
	}
	for _, c := range cases {
		r := New(c.in)
		got, err := r.ReadScriptI64("bad script int")
		if err != nil {
			t.Fatalf("ReadScriptI64(%x): unexpected error %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ReadScriptI64(%x) = %d, want %d", c.in, got, c.want)
		}
		if r.Len() != 0 {
			t.Errorf("ReadScriptI64(%x) left %d trailing bytes", c.in, r.Len())
		}
	}
}

func TestReadScriptI64ShortRead(t *testing.T) {
	r := New([]byte{0x02, 0x34})
	if _, err := r.ReadScriptI64("short"); err == nil {
		t.Fatal("expected error on truncated script int")
	}
}

func TestHexTxidsToInternal(t *testing.T) {
	in := []string{"00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"}
	out, err := HexTxidsToInternal(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("want 1 txid, got %d", len(out))
	}
	if out[0][0] != 0xff {
		t.Errorf("first byte = %x, want 0xff", out[0][0])
	}
	if out[0][len(out[0])-1] != 0x00 {
		t.Errorf("last byte = %x, want 0x00", out[0][len(out[0])-1])
	}
}

func TestHexTxidsToInternalInvalid(t *testing.T) {
	if _, err := HexTxidsToInternal([]string{"zz"}); err == nil {
		t.Fatal("expected error on invalid hex")
	} else if pe, ok := err.(*ParseError); !ok || pe.Kind != KindInvalidData {
		t.Fatalf("expected InvalidData ParseError, got %v", err)
	}
}

func TestReadBoolStrict(t *testing.T) {
	r := New([]byte{0x02})
	if _, err := r.ReadBool("bad bool"); err == nil {
		t.Fatal("expected error on non-canonical bool byte")
	}
}

func TestSkipAndReadBytes(t *testing.T) {
	r := New([]byte{0xde, 0xad, 0xbe, 0xef})
	if err := r.Skip(2, "skip"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := r.ReadBytes(2, "read")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, []byte{0xbe, 0xef}) {
		t.Errorf("ReadBytes = %x, want beef", got)
	}
}

func TestReadBytesPastEnd(t *testing.T) {
	r := New([]byte{0x01})
	if _, err := r.ReadBytes(4, "too few"); err == nil {
		t.Fatal("expected error reading past end of buffer")
	}
}
