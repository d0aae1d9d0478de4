// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package frontend

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/zcash/lightwalletd-proxy/parser"
	"github.com/zcash/lightwalletd-proxy/validator"
	"github.com/zcash/lightwalletd-proxy/walletrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeValidator satisfies validatorClient with canned responses, so
// Service's method bodies can be exercised without a real zcashd/zebrad.
type fakeValidator struct {
	chainInfo *validator.BlockchainInfo
	nodeInfo  *validator.NodeInfo
	rawTx     *validator.RawTxResult
	sendTxid  string
	sendErr   error
	addrTxids []string
	treeState *validator.TreeState
	blocks    map[uint64][]byte
	verbose   map[uint64]*validator.BlockResult
}

func (f *fakeValidator) GetBlockchainInfo(context.Context) (*validator.BlockchainInfo, error) {
	return f.chainInfo, nil
}

func (f *fakeValidator) GetInfo(context.Context) (*validator.NodeInfo, error) {
	return f.nodeInfo, nil
}

func (f *fakeValidator) GetRawTransaction(_ context.Context, _ string, _ bool) (*validator.RawTxResult, error) {
	return f.rawTx, nil
}

func (f *fakeValidator) SendRawTransaction(context.Context, string) (string, error) {
	return f.sendTxid, f.sendErr
}

func (f *fakeValidator) GetAddressTxids(context.Context, []string, uint64, uint64) ([]string, error) {
	return f.addrTxids, nil
}

func (f *fakeValidator) GetTreeState(context.Context, string) (*validator.TreeState, error) {
	return f.treeState, nil
}

func (f *fakeValidator) GetBlockRaw(_ context.Context, heightOrHash string) ([]byte, error) {
	return f.blocks[parseHeight(heightOrHash)], nil
}

func (f *fakeValidator) GetBlockVerbose(_ context.Context, heightOrHash string) (*validator.BlockResult, error) {
	return f.verbose[parseHeight(heightOrHash)], nil
}

func parseHeight(s string) uint64 {
	var h uint64
	for _, c := range s {
		h = h*10 + uint64(c-'0')
	}
	return h
}

// fakeBlockRangeServer captures the CompactBlocks a GetBlockRange call sends.
type fakeBlockRangeServer struct {
	grpc.ServerStream
	sent []*walletrpc.CompactBlock
}

func (f *fakeBlockRangeServer) Send(b *walletrpc.CompactBlock) error {
	f.sent = append(f.sent, b)
	return nil
}

func (f *fakeBlockRangeServer) Context() context.Context { return context.Background() }

// fakeTaddressTxidsServer captures the RawTransactions a GetTaddressTxids
// call sends.
type fakeTaddressTxidsServer struct {
	grpc.ServerStream
	sent []*walletrpc.RawTransaction
}

func (f *fakeTaddressTxidsServer) Send(tx *walletrpc.RawTransaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeTaddressTxidsServer) Context() context.Context { return context.Background() }

func newTestService(fv *fakeValidator) *Service {
	return &Service{validator: fv, chainName: "main"}
}

func TestGetLatestBlock(t *testing.T) {
	fv := &fakeValidator{chainInfo: &validator.BlockchainInfo{
		Blocks:   1234,
		BestHash: "00000000000000000000000000000000000000000000000000000000000000aa",
	}}
	s := newTestService(fv)

	resp, err := s.GetLatestBlock(context.Background(), &walletrpc.ChainSpec{})
	if err != nil {
		t.Fatalf("GetLatestBlock: %v", err)
	}
	if resp.Height != 1234 {
		t.Fatalf("Height = %d, want 1234", resp.Height)
	}
	if len(resp.Hash) != 32 {
		t.Fatalf("Hash length = %d, want 32", len(resp.Hash))
	}
}

func TestGetTransactionRejectsWrongLengthHash(t *testing.T) {
	s := newTestService(&fakeValidator{})

	_, err := s.GetTransaction(context.Background(), &walletrpc.TxFilter{Hash: []byte{0x01, 0x02, 0x03}})
	if err == nil {
		t.Fatal("expected an error for a short txid")
	}
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestGetTransactionReturnsRawBytes(t *testing.T) {
	fv := &fakeValidator{rawTx: &validator.RawTxResult{Hex: "deadbeef", Height: 100}}
	s := newTestService(fv)

	hash := make([]byte, 32)
	resp, err := s.GetTransaction(context.Background(), &walletrpc.TxFilter{Hash: hash})
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if resp.Height != 100 {
		t.Fatalf("Height = %d, want 100", resp.Height)
	}
	if len(resp.Data) != 4 {
		t.Fatalf("Data length = %d, want 4", len(resp.Data))
	}
}

func TestGetBlockRangeIsHalfOpen(t *testing.T) {
	fv := &fakeValidator{
		blocks:  map[uint64][]byte{},
		verbose: map[uint64]*validator.BlockResult{},
	}
	for h := uint64(5); h < 10; h++ {
		fv.blocks[h] = blockBytesAtHeight(h)
		fv.verbose[h] = &validator.BlockResult{}
	}
	s := newTestService(fv)

	fake := &fakeBlockRangeServer{}
	err := s.GetBlockRange(&walletrpc.BlockRange{
		Start: &walletrpc.BlockID{Height: 5},
		End:   &walletrpc.BlockID{Height: 10},
	}, fake)
	if err != nil {
		t.Fatalf("GetBlockRange: %v", err)
	}
	if len(fake.sent) != 5 {
		t.Fatalf("sent %d blocks, want 5 (heights 5..9, excluding end)", len(fake.sent))
	}
}

func TestGetBlockRangeSwapsReversedStartAndEnd(t *testing.T) {
	fv := &fakeValidator{
		blocks:  map[uint64][]byte{},
		verbose: map[uint64]*validator.BlockResult{},
	}
	for h := uint64(5); h < 10; h++ {
		fv.blocks[h] = blockBytesAtHeight(h)
		fv.verbose[h] = &validator.BlockResult{}
	}
	s := newTestService(fv)

	fake := &fakeBlockRangeServer{}
	err := s.GetBlockRange(&walletrpc.BlockRange{
		Start: &walletrpc.BlockID{Height: 10},
		End:   &walletrpc.BlockID{Height: 5},
	}, fake)
	if err != nil {
		t.Fatalf("GetBlockRange: %v", err)
	}
	if len(fake.sent) != 5 {
		t.Fatalf("sent %d blocks, want 5 (heights 5..9, excluding end)", len(fake.sent))
	}
	for i, cb := range fake.sent {
		want := uint64(5 + i)
		if cb.Height != want {
			t.Fatalf("sent[%d].Height = %d, want %d (ascending order)", i, cb.Height, want)
		}
	}
}

func TestGetBlockRangeRequiresStartAndEnd(t *testing.T) {
	s := newTestService(&fakeValidator{})
	fake := &fakeBlockRangeServer{}

	err := s.GetBlockRange(&walletrpc.BlockRange{Start: &walletrpc.BlockID{Height: 5}}, fake)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestSendTransactionSurfacesValidatorRPCError(t *testing.T) {
	fv := &fakeValidator{sendErr: &validator.Error{
		Kind:    validator.KindRPCError,
		Code:    -26,
		Message: "bad-txns-inputs-missingorspent",
	}}
	s := newTestService(fv)

	resp, err := s.SendTransaction(context.Background(), &walletrpc.RawTransaction{Data: []byte{0xde, 0xad}})
	if err != nil {
		t.Fatalf("SendTransaction returned transport error: %v", err)
	}
	if resp.ErrorCode != -26 {
		t.Fatalf("ErrorCode = %d, want -26", resp.ErrorCode)
	}
}

// blockBytesAtHeight returns a well-formed single-coinbase-transaction
// block whose BIP34 height script encodes height (1..16 only, via the
// opOne..opSixteen script opcodes): a consensus-serialized header (see
// parser.RawBlockHeader.MarshalBinary) followed by one transparent V4
// transaction with no shielded components.
func blockBytesAtHeight(height uint64) []byte {
	hdr := &parser.RawBlockHeader{}
	headerBytes, err := hdr.MarshalBinary()
	if err != nil {
		panic(err)
	}

	var buf bytes.Buffer
	buf.Write(headerBytes)
	parser.WriteCompactLengthPrefixedLen(&buf, 1) // tx_count

	binary.Write(&buf, binary.LittleEndian, uint32(0x80000004)) // fOverwintered | version 4
	binary.Write(&buf, binary.LittleEndian, uint32(0x892F2085)) // nVersionGroupID

	parser.WriteCompactLengthPrefixedLen(&buf, 1) // tx_in_count
	buf.Write(make([]byte, 32))                   // PrevTxHash
	binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFFF))
	scriptSig := []byte{byte(0x50 + height)} // BIP34 height, 1..16 only
	parser.WriteCompactLengthPrefixedLen(&buf, len(scriptSig))
	buf.Write(scriptSig)
	binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFFF)) // SequenceNumber

	parser.WriteCompactLengthPrefixedLen(&buf, 1) // tx_out_count
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	parser.WriteCompactLengthPrefixedLen(&buf, 0) // empty script

	binary.Write(&buf, binary.LittleEndian, uint32(0)) // nLockTime
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // nExpiryHeight
	binary.Write(&buf, binary.LittleEndian, int64(0))  // valueBalanceSapling
	parser.WriteCompactLengthPrefixedLen(&buf, 0)      // nShieldedSpend
	parser.WriteCompactLengthPrefixedLen(&buf, 0)      // nShieldedOutput
	parser.WriteCompactLengthPrefixedLen(&buf, 0)      // nJoinSplit

	return buf.Bytes()
}
