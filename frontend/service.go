// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package frontend implements the gRPC handlers called by the wallets
// (the worker-contract method bodies dispatched by server.Worker) and the
// anonymous-transport dispatcher those same bodies are shared with.
package frontend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/zcash/lightwalletd-proxy/common"
	"github.com/zcash/lightwalletd-proxy/hash32"
	"github.com/zcash/lightwalletd-proxy/parser"
	"github.com/zcash/lightwalletd-proxy/validator"
	"github.com/zcash/lightwalletd-proxy/walletrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// validatorClient is the subset of *validator.Client the worker-contract
// method bodies call, factored out so tests can substitute a fake
// without standing up a real validator.
type validatorClient interface {
	GetBlockchainInfo(ctx context.Context) (*validator.BlockchainInfo, error)
	GetInfo(ctx context.Context) (*validator.NodeInfo, error)
	GetRawTransaction(ctx context.Context, txidHex string, verbose bool) (*validator.RawTxResult, error)
	SendRawTransaction(ctx context.Context, hexTx string) (string, error)
	GetAddressTxids(ctx context.Context, addrs []string, start, end uint64) ([]string, error)
	GetTreeState(ctx context.Context, heightOrHash string) (*validator.TreeState, error)
	GetBlockRaw(ctx context.Context, heightOrHash string) ([]byte, error)
	GetBlockVerbose(ctx context.Context, heightOrHash string) (*validator.BlockResult, error)
}

// Service implements walletrpc.CompactTxStreamerServer. Only the methods
// spec.md §4.7 names are given real bodies; every other RPC falls
// through to the embedded UnimplementedCompactTxStreamerServer and
// returns codes.Unimplemented automatically.
type Service struct {
	validator validatorClient
	chainName string
	lwd       walletrpc.CompactTxStreamerClient
	log       *logrus.Entry
	walletrpc.UnimplementedCompactTxStreamerServer
}

// NewService constructs a Service bound to the validator client. If
// lightwalletdURI is non-empty, GetMempoolStream is wired as a genuine
// gRPC-to-gRPC passthrough to that upstream lightwalletd; otherwise it
// fails with Unavailable.
func NewService(ctx context.Context, v validatorClient, chainName string, lightwalletdURI string, log *logrus.Entry) (*Service, error) {
	s := &Service{validator: v, chainName: chainName, log: log}
	if lightwalletdURI != "" {
		cc, err := grpc.DialContext(ctx, lightwalletdURI, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, err
		}
		s.lwd = walletrpc.NewCompactTxStreamerClient(cc)
	}
	return s, nil
}

// checkTaddress verifies addr is a single transparent address.
func checkTaddress(taddr string) error {
	match, err := regexp.MatchString(`\At[a-zA-Z0-9]{34}\z`, taddr)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid transparent address %q: %s", taddr, err)
	}
	if !match {
		return status.Errorf(codes.InvalidArgument, "transparent address %q contains invalid characters", taddr)
	}
	return nil
}

// GetLatestBlock returns the height and hash of the validator's best chain tip.
func (s *Service) GetLatestBlock(ctx context.Context, _ *walletrpc.ChainSpec) (*walletrpc.BlockID, error) {
	info, err := s.validator.GetBlockchainInfo(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "GetLatestBlock: %s", err)
	}
	bigEndian, err := hash32.Decode(info.BestHash)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "GetLatestBlock: decoding block hash %q: %s", info.BestHash, err)
	}
	return &walletrpc.BlockID{
		Height: uint64(info.Blocks),
		Hash:   hash32.ToSlice(hash32.Reverse(bigEndian)),
	}, nil
}

// getCompactBlock fetches one block's raw bytes and verbose metadata from
// the validator and parses it into compact form.
func (s *Service) getCompactBlock(ctx context.Context, height uint64) (*walletrpc.CompactBlock, error) {
	heightStr := strconv.FormatUint(height, 10)
	raw, err := s.validator.GetBlockRaw(ctx, heightStr)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "getblock %d: %s", height, err)
	}
	verbose, err := s.validator.GetBlockVerbose(ctx, heightStr)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "getblock %d (verbose): %s", height, err)
	}
	block := parser.NewBlock()
	rest, err := block.ParseFromSlice(raw)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "parsing block %d: %s", height, err)
	}
	if len(rest) != 0 {
		return nil, status.Errorf(codes.Internal, "block %d: %d trailing bytes after parse", height, len(rest))
	}
	cBlock := block.ToCompact()
	cBlock.ChainMetadata.SaplingCommitmentTreeSize = verbose.Trees.Sapling.Size
	cBlock.ChainMetadata.OrchardCommitmentTreeSize = verbose.Trees.Orchard.Size
	return cBlock, nil
}

// GetBlockRange streams compact blocks for the half-open interval
// [span.Start, span.End), per spec.md §4.7 — deliberately excluding
// span.End, unlike the teacher's inclusive range. If Start > End the
// pair is swapped before streaming, so callers can ask for a range in
// either direction and still get ascending heights back.
func (s *Service) GetBlockRange(span *walletrpc.BlockRange, resp walletrpc.CompactTxStreamer_GetBlockRangeServer) error {
	if span.Start == nil || span.End == nil {
		return status.Error(codes.InvalidArgument, "GetBlockRange: must specify start and end heights")
	}
	start, end := span.Start.Height, span.End.Height
	if start > end {
		start, end = end, start
	}
	ctx := resp.Context()
	for h := start; h < end; h++ {
		cBlock, err := s.getCompactBlock(ctx, h)
		if err != nil {
			return err
		}
		if err := resp.Send(cBlock); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// GetTransaction returns the raw transaction bytes for a 32-byte
// (little-endian) txid.
func (s *Service) GetTransaction(ctx context.Context, txf *walletrpc.TxFilter) (*walletrpc.RawTransaction, error) {
	if txf.Hash == nil {
		return nil, status.Error(codes.InvalidArgument, "GetTransaction: specify a txid")
	}
	if len(txf.Hash) != 32 {
		return nil, status.Errorf(codes.InvalidArgument, "GetTransaction: txid has invalid length: %d", len(txf.Hash))
	}
	txidHex := hash32.Encode(hash32.Reverse(hash32.FromSlice(txf.Hash)))
	result, err := s.validator.GetRawTransaction(ctx, txidHex, true)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "GetTransaction: getrawtransaction %s: %s", txidHex, err)
	}
	data, err := hex.DecodeString(result.Hex)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "GetTransaction: decoding hex reply: %s", err)
	}
	return &walletrpc.RawTransaction{Data: data, Height: uint64(result.Height)}, nil
}

// SendTransaction forwards raw transaction bytes to the validator.
func (s *Service) SendTransaction(ctx context.Context, rawtx *walletrpc.RawTransaction) (*walletrpc.SendResponse, error) {
	if rawtx == nil || rawtx.Data == nil {
		return nil, status.Error(codes.InvalidArgument, "SendTransaction: bad transaction data")
	}
	txid, err := s.validator.SendRawTransaction(ctx, hex.EncodeToString(rawtx.Data))
	if err != nil {
		if verr, ok := err.(*validator.Error); ok && verr.Kind == validator.KindRPCError {
			return &walletrpc.SendResponse{ErrorCode: int32(verr.Code), ErrorMessage: verr.Message}, nil
		}
		return nil, status.Errorf(codes.Unknown, "SendTransaction: %s", err)
	}
	return &walletrpc.SendResponse{ErrorCode: 0, ErrorMessage: txid}, nil
}

// GetTaddressTxids is a streaming RPC returning transactions that have
// the given transparent address as either an input or output.
func (s *Service) GetTaddressTxids(filter *walletrpc.TransparentAddressBlockFilter, resp walletrpc.CompactTxStreamer_GetTaddressTxidsServer) error {
	if err := checkTaddress(filter.Address); err != nil {
		return err
	}
	if filter.Range == nil || filter.Range.Start == nil {
		return status.Error(codes.InvalidArgument, "GetTaddressTxids: must specify a start block height")
	}
	var end uint64
	if filter.Range.End != nil {
		end = filter.Range.End.Height
	}
	ctx := resp.Context()
	txids, err := s.validator.GetAddressTxids(ctx, []string{filter.Address}, filter.Range.Start.Height, end)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "GetTaddressTxids: %s", err)
	}
	for _, txidHex := range txids {
		txHash := hash32.ReverseSlice(mustHexDecode(txidHex))
		tx, err := s.GetTransaction(ctx, &walletrpc.TxFilter{Hash: txHash})
		if err != nil {
			return err
		}
		if err := resp.Send(tx); err != nil {
			return err
		}
	}
	return nil
}

func mustHexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// GetTreeState returns the note commitment tree state for a block,
// specified by height or hash.
func (s *Service) GetTreeState(ctx context.Context, id *walletrpc.BlockID) (*walletrpc.TreeState, error) {
	if id.Height == 0 && id.Hash == nil {
		return nil, status.Error(codes.InvalidArgument, "GetTreeState: must specify a block height or hash")
	}
	var arg string
	if id.Height > 0 {
		arg = strconv.FormatUint(id.Height, 10)
	} else {
		// id.Hash arrives little-endian; z_gettreestate wants big-endian hex.
		arg = hex.EncodeToString(hash32.ToSlice(hash32.Reverse(hash32.FromSlice(id.Hash))))
	}
	ts, err := s.validator.GetTreeState(ctx, arg)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "GetTreeState: %s", err)
	}
	if ts.Sapling.Commitments.FinalState == "" {
		return nil, status.Error(codes.InvalidArgument, "GetTreeState: z_gettreestate did not return a treestate")
	}
	return &walletrpc.TreeState{
		Network:     s.chainName,
		Height:      uint64(ts.Height),
		Hash:        ts.Hash,
		Time:        ts.Time,
		SaplingTree: ts.Sapling.Commitments.FinalState,
		OrchardTree: ts.Orchard.Commitments.FinalState,
	}, nil
}

// GetLightdInfo reports this proxy's build/version info plus whatever it
// learns from the validator.
func (s *Service) GetLightdInfo(ctx context.Context, _ *walletrpc.Empty) (*walletrpc.LightdInfo, error) {
	info, err := s.validator.GetBlockchainInfo(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "GetLightdInfo: %s", err)
	}
	node, err := s.validator.GetInfo(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "GetLightdInfo: %s", err)
	}
	// Per spec.md §4.7, absence of the sapling upgrade entry defaults the
	// activation height to 1, not 0.
	saplingHeight := 1
	var upgradeName string
	var upgradeHeight uint64
	if up, ok := info.Upgrades["76b809bb"]; ok {
		saplingHeight = up.ActivationHeight
	}
	for _, up := range info.Upgrades {
		if up.Status == "pending" {
			upgradeName = up.Name
			upgradeHeight = uint64(up.ActivationHeight)
		}
	}
	return &walletrpc.LightdInfo{
		Version:                 common.Version,
		Vendor:                  "lightwalletd-proxy",
		TaddrSupport:            true,
		ChainName:               info.Chain,
		SaplingActivationHeight: uint64(saplingHeight),
		ConsensusBranchId:       info.Consensus.Chaintip,
		BlockHeight:             uint64(info.Blocks),
		GitCommit:               common.GitCommit,
		Branch:                  common.Branch,
		BuildDate:               common.BuildDate,
		BuildUser:               common.BuildUser,
		EstimatedHeight:         uint64(info.EstimatedHeight),
		ZcashdBuild:             node.Build,
		ZcashdSubversion:        node.Subversion,
		UpgradeName:             upgradeName,
		UpgradeHeight:           upgradeHeight,
		DonationAddress:         common.DonationAddress,
	}, nil
}

// GetMempoolStream is a genuine gRPC-to-gRPC passthrough: this proxy does
// not reimplement mempool tracking, it forwards the call to an upstream
// lightwalletd instance and relays every message back to the caller.
func (s *Service) GetMempoolStream(_ *walletrpc.Empty, resp walletrpc.CompactTxStreamer_GetMempoolStreamServer) error {
	if s.lwd == nil {
		return status.Error(codes.Unavailable, "GetMempoolStream: no upstream lightwalletd configured")
	}
	upstream, err := s.lwd.GetMempoolStream(resp.Context(), &walletrpc.Empty{})
	if err != nil {
		return status.Errorf(codes.Unavailable, "GetMempoolStream: dialing upstream: %s", err)
	}
	for {
		tx, err := upstream.Recv()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := resp.Send(tx); err != nil {
			return err
		}
	}
}

// Dispatch implements server.AnonymousDispatcher: it decodes one
// method-tagged JSON payload, invokes the matching worker-contract
// method body, and re-encodes the reply the same way. This is a
// documented stand-in for full protobuf wire framing over the anonymous
// transport (see DESIGN.md); unary methods only — GetBlockRange and
// GetTaddressTxids are TCP-only since they stream.
func (s *Service) Dispatch(ctx context.Context, method string, payload []byte) ([]byte, error) {
	switch method {
	case "GetLatestBlock":
		var req walletrpc.ChainSpec
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.GetLatestBlock(ctx, &req)
		return marshalOrErr(resp, err)
	case "GetTransaction":
		var req walletrpc.TxFilter
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.GetTransaction(ctx, &req)
		return marshalOrErr(resp, err)
	case "SendTransaction":
		var req walletrpc.RawTransaction
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.SendTransaction(ctx, &req)
		return marshalOrErr(resp, err)
	case "GetTreeState":
		var req walletrpc.BlockID
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.GetTreeState(ctx, &req)
		return marshalOrErr(resp, err)
	case "GetLightdInfo":
		resp, err := s.GetLightdInfo(ctx, &walletrpc.Empty{})
		return marshalOrErr(resp, err)
	default:
		return nil, status.Errorf(codes.Unimplemented, "method %s not supported over the anonymous transport", method)
	}
}

func marshalOrErr(v interface{}, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
