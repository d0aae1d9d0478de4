// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package walletrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TxFilter selects a single transaction by block+index or by hash.
type TxFilter struct {
	Block *BlockID
	Index uint64
	Hash  []byte
}

// RawTransaction is a transaction as returned by GetTransaction, tagged with
// the height it was mined at (or -1/mempool height for unconfirmed).
type RawTransaction struct {
	Data   []byte
	Height uint64
}

// SendResponse carries the validator's acceptance/rejection of a submitted
// transaction, mirroring zcashd's sendrawtransaction error shape.
type SendResponse struct {
	ErrorCode    int32
	ErrorMessage string
}

// TransparentAddressBlockFilter selects transactions touching a set of
// transparent addresses within a block range.
type TransparentAddressBlockFilter struct {
	Address string
	Range   *BlockRange
}

// TreeState carries the serialized Sapling/Orchard note commitment trees as
// of a given block.
type TreeState struct {
	Network     string
	Height      uint64
	Hash        string
	Time        uint32
	SaplingTree string
	OrchardTree string
}

// LightdInfo describes this proxy and the validator behind it.
type LightdInfo struct {
	Version                 string
	Vendor                  string
	TaddrSupport            bool
	ChainName               string
	SaplingActivationHeight uint64
	ConsensusBranchId       string
	BlockHeight             uint64
	GitCommit               string
	Branch                  string
	BuildDate               string
	BuildUser               string
	EstimatedHeight         uint64
	ZcashdBuild             string
	ZcashdSubversion        string
	DonationAddress         string
	UpgradeName             string
	UpgradeHeight           uint64
}

// Empty is a message with no fields, used for requests/replies that carry no data.
type Empty struct{}

// Duration carries an interval in microseconds, used by Ping.
type Duration struct {
	IntervalUs int64
}

// PingResponse echoes the mempool entry/exit heights observed around a Ping interval.
type PingResponse struct {
	Entry uint64
	Exit  uint64
}

// AddressList is a set of transparent addresses, used by balance and utxo queries.
type AddressList struct {
	Addresses []string
}

// Balance reports a cumulative balance in zatoshi.
type Balance struct {
	ValueZat int64
}

// GetAddressUtxosArg selects unspent transparent outputs for a set of addresses.
type GetAddressUtxosArg struct {
	Addresses  []string
	StartHeight uint64
	MaxEntries uint32
}

// GetAddressUtxosReply describes one unspent transparent output.
type GetAddressUtxosReply struct {
	Address  string
	Txid     []byte
	Index    int32
	Script   []byte
	ValueZat int64
	Height   uint64
}

// GetAddressUtxosReplyList bundles a GetAddressUtxosReply batch.
type GetAddressUtxosReplyList struct {
	AddressUtxos []*GetAddressUtxosReply
}

// GetSubtreeRootsArg selects Sapling/Orchard note commitment subtree roots.
type GetSubtreeRootsArg struct {
	StartIndex uint32
	ShieldedProtocol int32
	MaxEntries uint32
}

// SubtreeRoot describes one completed note commitment subtree.
type SubtreeRoot struct {
	RootHash          []byte
	CompletingBlockHash []byte
	CompletingBlockHeight uint64
}

// GetMempoolTxRequest filters a mempool stream by recently-seen txids to skip.
type GetMempoolTxRequest struct {
	TxidsKnown [][]byte
}

// CompactTxStreamerServer is the server API for CompactTxStreamer, the
// lightwallet-facing gRPC contract this proxy fronts.
type CompactTxStreamerServer interface {
	GetLatestBlock(context.Context, *ChainSpec) (*BlockID, error)
	GetBlock(context.Context, *BlockID) (*CompactBlock, error)
	GetBlockNullifiers(context.Context, *BlockID) (*CompactBlock, error)
	GetBlockRange(*BlockRange, CompactTxStreamer_GetBlockRangeServer) error
	GetBlockRangeNullifiers(*BlockRange, CompactTxStreamer_GetBlockRangeNullifiersServer) error
	GetTransaction(context.Context, *TxFilter) (*RawTransaction, error)
	SendTransaction(context.Context, *RawTransaction) (*SendResponse, error)
	GetTaddressTxids(*TransparentAddressBlockFilter, CompactTxStreamer_GetTaddressTxidsServer) error
	GetTaddressBalance(context.Context, *AddressList) (*Balance, error)
	GetTaddressBalanceStream(CompactTxStreamer_GetTaddressBalanceStreamServer) error
	GetMempoolTx(*GetMempoolTxRequest, CompactTxStreamer_GetMempoolTxServer) error
	GetMempoolStream(*Empty, CompactTxStreamer_GetMempoolStreamServer) error
	GetTreeState(context.Context, *BlockID) (*TreeState, error)
	GetLatestTreeState(context.Context, *ChainSpec) (*TreeState, error)
	GetSubtreeRoots(*GetSubtreeRootsArg, CompactTxStreamer_GetSubtreeRootsServer) error
	GetAddressUtxos(context.Context, *GetAddressUtxosArg) (*GetAddressUtxosReplyList, error)
	GetAddressUtxosStream(*GetAddressUtxosArg, CompactTxStreamer_GetAddressUtxosStreamServer) error
	GetLightdInfo(context.Context, *Empty) (*LightdInfo, error)
	Ping(context.Context, *Duration) (*PingResponse, error)
}

// UnimplementedCompactTxStreamerServer embeds into a concrete server
// implementation to satisfy CompactTxStreamerServer for any method the
// implementation does not override; each stub returns codes.Unimplemented,
// which is exactly the uniform "not supported by this proxy" contract named
// for the methods this proxy does not serve.
type UnimplementedCompactTxStreamerServer struct{}

func (UnimplementedCompactTxStreamerServer) GetLatestBlock(context.Context, *ChainSpec) (*BlockID, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLatestBlock not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetBlock(context.Context, *BlockID) (*CompactBlock, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBlock not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetBlockNullifiers(context.Context, *BlockID) (*CompactBlock, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBlockNullifiers not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetBlockRange(*BlockRange, CompactTxStreamer_GetBlockRangeServer) error {
	return status.Error(codes.Unimplemented, "method GetBlockRange not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetBlockRangeNullifiers(*BlockRange, CompactTxStreamer_GetBlockRangeNullifiersServer) error {
	return status.Error(codes.Unimplemented, "method GetBlockRangeNullifiers not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetTransaction(context.Context, *TxFilter) (*RawTransaction, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTransaction not implemented")
}
func (UnimplementedCompactTxStreamerServer) SendTransaction(context.Context, *RawTransaction) (*SendResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SendTransaction not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetTaddressTxids(*TransparentAddressBlockFilter, CompactTxStreamer_GetTaddressTxidsServer) error {
	return status.Error(codes.Unimplemented, "method GetTaddressTxids not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetTaddressBalance(context.Context, *AddressList) (*Balance, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTaddressBalance not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetTaddressBalanceStream(CompactTxStreamer_GetTaddressBalanceStreamServer) error {
	return status.Error(codes.Unimplemented, "method GetTaddressBalanceStream not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetMempoolTx(*GetMempoolTxRequest, CompactTxStreamer_GetMempoolTxServer) error {
	return status.Error(codes.Unimplemented, "method GetMempoolTx not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetMempoolStream(*Empty, CompactTxStreamer_GetMempoolStreamServer) error {
	return status.Error(codes.Unimplemented, "method GetMempoolStream not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetTreeState(context.Context, *BlockID) (*TreeState, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTreeState not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetLatestTreeState(context.Context, *ChainSpec) (*TreeState, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLatestTreeState not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetSubtreeRoots(*GetSubtreeRootsArg, CompactTxStreamer_GetSubtreeRootsServer) error {
	return status.Error(codes.Unimplemented, "method GetSubtreeRoots not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetAddressUtxos(context.Context, *GetAddressUtxosArg) (*GetAddressUtxosReplyList, error) {
	return nil, status.Error(codes.Unimplemented, "method GetAddressUtxos not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetAddressUtxosStream(*GetAddressUtxosArg, CompactTxStreamer_GetAddressUtxosStreamServer) error {
	return status.Error(codes.Unimplemented, "method GetAddressUtxosStream not implemented")
}
func (UnimplementedCompactTxStreamerServer) GetLightdInfo(context.Context, *Empty) (*LightdInfo, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLightdInfo not implemented")
}
func (UnimplementedCompactTxStreamerServer) Ping(context.Context, *Duration) (*PingResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Ping not implemented")
}

// --- server-streaming helper interfaces, mirroring protoc-gen-go-grpc output ---

type CompactTxStreamer_GetBlockRangeServer interface {
	Send(*CompactBlock) error
	grpc.ServerStream
}
type CompactTxStreamer_GetBlockRangeNullifiersServer interface {
	Send(*CompactBlock) error
	grpc.ServerStream
}
type CompactTxStreamer_GetTaddressTxidsServer interface {
	Send(*RawTransaction) error
	grpc.ServerStream
}
type CompactTxStreamer_GetTaddressBalanceStreamServer interface {
	Send(*Balance) error
	Recv() (*AddressList, error)
	grpc.ServerStream
}
type CompactTxStreamer_GetMempoolTxServer interface {
	Send(*RawTransaction) error
	grpc.ServerStream
}
type CompactTxStreamer_GetMempoolStreamServer interface {
	Send(*RawTransaction) error
	grpc.ServerStream
}
type CompactTxStreamer_GetSubtreeRootsServer interface {
	Send(*SubtreeRoot) error
	grpc.ServerStream
}
type CompactTxStreamer_GetAddressUtxosStreamServer interface {
	Send(*GetAddressUtxosReply) error
	grpc.ServerStream
}

// CompactTxStreamerClient is the client API for CompactTxStreamer, trimmed
// to the one method this proxy needs to call onward to an upstream
// lightwalletd: GetMempoolStream is specified as a genuine passthrough
// rather than a re-implementation, so the proxy dials the upstream and
// relays its stream instead of querying the validator directly.
type CompactTxStreamerClient interface {
	GetMempoolStream(ctx context.Context, in *Empty, opts ...grpc.CallOption) (CompactTxStreamer_GetMempoolStreamClient, error)
}

// CompactTxStreamer_GetMempoolStreamClient is the client-side half of the
// GetMempoolStream server stream.
type CompactTxStreamer_GetMempoolStreamClient interface {
	Recv() (*RawTransaction, error)
	grpc.ClientStream
}

type compactTxStreamerClient struct {
	cc grpc.ClientConnInterface
}

// NewCompactTxStreamerClient builds a client bound to an upstream
// CompactTxStreamer gRPC endpoint, mirroring protoc-gen-go-grpc's
// generated client constructor.
func NewCompactTxStreamerClient(cc grpc.ClientConnInterface) CompactTxStreamerClient {
	return &compactTxStreamerClient{cc}
}

func (c *compactTxStreamerClient) GetMempoolStream(ctx context.Context, in *Empty, opts ...grpc.CallOption) (CompactTxStreamer_GetMempoolStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &compactTxStreamerServiceDesc.Streams[5], "/cash.z.wallet.sdk.rpc.CompactTxStreamer/GetMempoolStream", opts...)
	if err != nil {
		return nil, err
	}
	x := &compactTxStreamerGetMempoolStreamClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type compactTxStreamerGetMempoolStreamClient struct {
	grpc.ClientStream
}

func (x *compactTxStreamerGetMempoolStreamClient) Recv() (*RawTransaction, error) {
	m := new(RawTransaction)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterCompactTxStreamerServer wires a CompactTxStreamerServer
// implementation into a grpc.Server, mirroring the registration call
// protoc-gen-go-grpc emits.
func RegisterCompactTxStreamerServer(s grpc.ServiceRegistrar, srv CompactTxStreamerServer) {
	s.RegisterService(&compactTxStreamerServiceDesc, srv)
}

func unaryHandler(name string, fn func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error), reqFactory func() interface{}) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := reqFactory()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/cash.z.wallet.sdk.rpc.CompactTxStreamer/%s", name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(srv, ctx, req)
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var compactTxStreamerServiceDesc = grpc.ServiceDesc{
	ServiceName: "cash.z.wallet.sdk.rpc.CompactTxStreamer",
	HandlerType: (*CompactTxStreamerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("GetLatestBlock", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).GetLatestBlock(ctx, req.(*ChainSpec))
		}, func() interface{} { return new(ChainSpec) }),
		unaryHandler("GetBlock", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).GetBlock(ctx, req.(*BlockID))
		}, func() interface{} { return new(BlockID) }),
		unaryHandler("GetBlockNullifiers", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).GetBlockNullifiers(ctx, req.(*BlockID))
		}, func() interface{} { return new(BlockID) }),
		unaryHandler("GetTransaction", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).GetTransaction(ctx, req.(*TxFilter))
		}, func() interface{} { return new(TxFilter) }),
		unaryHandler("SendTransaction", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).SendTransaction(ctx, req.(*RawTransaction))
		}, func() interface{} { return new(RawTransaction) }),
		unaryHandler("GetTaddressBalance", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).GetTaddressBalance(ctx, req.(*AddressList))
		}, func() interface{} { return new(AddressList) }),
		unaryHandler("GetTreeState", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).GetTreeState(ctx, req.(*BlockID))
		}, func() interface{} { return new(BlockID) }),
		unaryHandler("GetLatestTreeState", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).GetLatestTreeState(ctx, req.(*ChainSpec))
		}, func() interface{} { return new(ChainSpec) }),
		unaryHandler("GetAddressUtxos", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).GetAddressUtxos(ctx, req.(*GetAddressUtxosArg))
		}, func() interface{} { return new(GetAddressUtxosArg) }),
		unaryHandler("GetLightdInfo", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).GetLightdInfo(ctx, req.(*Empty))
		}, func() interface{} { return new(Empty) }),
		unaryHandler("Ping", func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return srv.(CompactTxStreamerServer).Ping(ctx, req.(*Duration))
		}, func() interface{} { return new(Duration) }),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "GetBlockRange",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				m := new(BlockRange)
				if err := stream.RecvMsg(m); err != nil {
					return err
				}
				return srv.(CompactTxStreamerServer).GetBlockRange(m, &compactTxStreamerGetBlockRangeServer{stream})
			},
			ServerStreams: true,
		},
		{
			StreamName: "GetBlockRangeNullifiers",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				m := new(BlockRange)
				if err := stream.RecvMsg(m); err != nil {
					return err
				}
				return srv.(CompactTxStreamerServer).GetBlockRangeNullifiers(m, &compactTxStreamerGetBlockRangeNullifiersServer{stream})
			},
			ServerStreams: true,
		},
		{
			StreamName: "GetTaddressTxids",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				m := new(TransparentAddressBlockFilter)
				if err := stream.RecvMsg(m); err != nil {
					return err
				}
				return srv.(CompactTxStreamerServer).GetTaddressTxids(m, &compactTxStreamerGetTaddressTxidsServer{stream})
			},
			ServerStreams: true,
		},
		{
			StreamName:    "GetTaddressBalanceStream",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(CompactTxStreamerServer).GetTaddressBalanceStream(&compactTxStreamerGetTaddressBalanceStreamServer{stream})
			},
			ServerStreams: true,
			ClientStreams: true,
		},
		{
			StreamName: "GetMempoolTx",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				m := new(GetMempoolTxRequest)
				if err := stream.RecvMsg(m); err != nil {
					return err
				}
				return srv.(CompactTxStreamerServer).GetMempoolTx(m, &compactTxStreamerGetMempoolTxServer{stream})
			},
			ServerStreams: true,
		},
		{
			StreamName: "GetMempoolStream",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				m := new(Empty)
				if err := stream.RecvMsg(m); err != nil {
					return err
				}
				return srv.(CompactTxStreamerServer).GetMempoolStream(m, &compactTxStreamerGetMempoolStreamServer{stream})
			},
			ServerStreams: true,
		},
		{
			StreamName: "GetSubtreeRoots",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				m := new(GetSubtreeRootsArg)
				if err := stream.RecvMsg(m); err != nil {
					return err
				}
				return srv.(CompactTxStreamerServer).GetSubtreeRoots(m, &compactTxStreamerGetSubtreeRootsServer{stream})
			},
			ServerStreams: true,
		},
		{
			StreamName: "GetAddressUtxosStream",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				m := new(GetAddressUtxosArg)
				if err := stream.RecvMsg(m); err != nil {
					return err
				}
				return srv.(CompactTxStreamerServer).GetAddressUtxosStream(m, &compactTxStreamerGetAddressUtxosStreamServer{stream})
			},
			ServerStreams: true,
		},
	},
	Metadata: "service.proto",
}

type compactTxStreamerGetBlockRangeServer struct{ grpc.ServerStream }

func (x *compactTxStreamerGetBlockRangeServer) Send(m *CompactBlock) error { return x.ServerStream.SendMsg(m) }

type compactTxStreamerGetBlockRangeNullifiersServer struct{ grpc.ServerStream }

func (x *compactTxStreamerGetBlockRangeNullifiersServer) Send(m *CompactBlock) error {
	return x.ServerStream.SendMsg(m)
}

type compactTxStreamerGetTaddressTxidsServer struct{ grpc.ServerStream }

func (x *compactTxStreamerGetTaddressTxidsServer) Send(m *RawTransaction) error {
	return x.ServerStream.SendMsg(m)
}

type compactTxStreamerGetTaddressBalanceStreamServer struct{ grpc.ServerStream }

func (x *compactTxStreamerGetTaddressBalanceStreamServer) Send(m *Balance) error {
	return x.ServerStream.SendMsg(m)
}
func (x *compactTxStreamerGetTaddressBalanceStreamServer) Recv() (*AddressList, error) {
	m := new(AddressList)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type compactTxStreamerGetMempoolTxServer struct{ grpc.ServerStream }

func (x *compactTxStreamerGetMempoolTxServer) Send(m *RawTransaction) error {
	return x.ServerStream.SendMsg(m)
}

type compactTxStreamerGetMempoolStreamServer struct{ grpc.ServerStream }

func (x *compactTxStreamerGetMempoolStreamServer) Send(m *RawTransaction) error {
	return x.ServerStream.SendMsg(m)
}

type compactTxStreamerGetSubtreeRootsServer struct{ grpc.ServerStream }

func (x *compactTxStreamerGetSubtreeRootsServer) Send(m *SubtreeRoot) error {
	return x.ServerStream.SendMsg(m)
}

type compactTxStreamerGetAddressUtxosStreamServer struct{ grpc.ServerStream }

func (x *compactTxStreamerGetAddressUtxosStreamServer) Send(m *GetAddressUtxosReply) error {
	return x.ServerStream.SendMsg(m)
}
