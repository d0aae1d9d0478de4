// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package validator

import (
	"errors"
	"testing"
)

func TestWrapRPCErrorParsesCode(t *testing.T) {
	err := wrapRPCError(errors.New("-8: Block height out of range"))
	if err.Kind != KindRPCError {
		t.Fatalf("Kind = %v, want KindRPCError", err.Kind)
	}
	if err.Code != -8 {
		t.Fatalf("Code = %d, want -8", err.Code)
	}
	if err.Message != "Block height out of range" {
		t.Fatalf("Message = %q", err.Message)
	}
}

func TestWrapRPCErrorFallsBackToTransport(t *testing.T) {
	err := wrapRPCError(errors.New("connection reset by peer"))
	if err.Kind != KindTransport {
		t.Fatalf("Kind = %v, want KindTransport", err.Kind)
	}
}
