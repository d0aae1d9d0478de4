// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package validator is the typed JSON-RPC client to the Zcash validator
// (zcashd or zebrad). It holds only the endpoint and credentials and issues
// one RawRequest per call; it never caches or mutates shared state, so a
// single Client may be shared read-only across workers or constructed fresh
// per worker, per the concurrency model's "cheap to construct or held
// per-worker" requirement.
package validator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/sirupsen/logrus"
)

// Kind classifies a validator call failure per the error taxonomy named in
// the worker-contract design: Http, Decode, RpcError, Transport.
type Kind int

const (
	KindHTTP Kind = iota
	KindDecode
	KindRPCError
	KindTransport
)

// Error is the typed error surfaced by every Client method.
type Error struct {
	Kind    Kind
	Code    int64
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func wrapRPCError(err error) *Error {
	// zcashd's RawRequest errors are not JSON; they come back as
	// "<code>: <message>" from btcsuite's HTTP POST transport.
	parts := strings.SplitN(err.Error(), ":", 2)
	if len(parts) == 2 {
		if code, perr := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 32); perr == nil {
			return &Error{Kind: KindRPCError, Code: code, Message: strings.TrimSpace(parts[1]), Cause: err}
		}
	}
	return &Error{Kind: KindTransport, Message: "validator call failed", Cause: err}
}

// Client is a stateless, concurrency-safe handle to the validator's
// JSON-RPC endpoint.
type Client struct {
	rpc *rpcclient.Client
	log *logrus.Entry
}

// NewFromCreds dials the validator over HTTP POST using basic-auth
// credentials, grounded on the teacher's frontend/rpc_client.go pattern.
func NewFromCreds(addr, username, password string, log *logrus.Entry) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         addr,
		User:         username,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "connecting to validator", Cause: err}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{rpc: rpc, log: log.WithField("component", "validator")}, nil
}

func (c *Client) call(ctx context.Context, method string, params ...json.RawMessage) (json.RawMessage, error) {
	type result struct {
		data json.RawMessage
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := c.rpc.RawRequest(method, params)
		ch <- result{data, err}
	}()
	select {
	case <-ctx.Done():
		return nil, &Error{Kind: KindTransport, Message: "validator call", Cause: ctx.Err()}
	case r := <-ch:
		if r.err != nil {
			return nil, wrapRPCError(r.err)
		}
		return r.data, nil
	}
}

// BlockchainInfo mirrors the zcashd getblockchaininfo reply.
type BlockchainInfo struct {
	Chain     string
	Upgrades  map[string]UpgradeInfo
	Blocks    int
	BestHash  string `json:"BestBlockHash"`
	Consensus struct {
		Chaintip  string
		Nextblock string
	}
	EstimatedHeight int
}

// UpgradeInfo describes one network upgrade entry.
type UpgradeInfo struct {
	Name             string
	ActivationHeight int
	Status           string
}

// NodeInfo mirrors the (deprecated, but still required) getinfo reply.
type NodeInfo struct {
	Build      string
	Subversion string
}

// RawTxResult mirrors the fields of getrawtransaction this proxy consumes.
type RawTxResult struct {
	Hex    string
	Height int64
}

// BlockResult mirrors the verbose=1 getblock reply.
type BlockResult struct {
	Hash  string
	Tx    []string
	Trees struct {
		Sapling struct{ Size uint32 }
		Orchard struct{ Size uint32 }
	}
}

// TreeState mirrors the z_gettreestate reply.
type TreeState struct {
	Height  int
	Hash    string
	Time    uint32
	Sapling struct {
		Commitments struct{ FinalState string }
		SkipHash    string
	}
	Orchard struct {
		Commitments struct{ FinalState string }
	}
}

func marshal(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// GetBlockchainInfo issues getblockchaininfo.
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	raw, err := c.call(ctx, "getblockchaininfo")
	if err != nil {
		return nil, err
	}
	var info BlockchainInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &Error{Kind: KindDecode, Message: "decoding getblockchaininfo reply", Cause: err}
	}
	return &info, nil
}

// GetInfo issues getinfo.
func (c *Client) GetInfo(ctx context.Context) (*NodeInfo, error) {
	raw, err := c.call(ctx, "getinfo")
	if err != nil {
		return nil, err
	}
	var info NodeInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &Error{Kind: KindDecode, Message: "decoding getinfo reply", Cause: err}
	}
	return &info, nil
}

// GetRawTransaction issues getrawtransaction with the given verbosity.
func (c *Client) GetRawTransaction(ctx context.Context, txidHex string, verbose bool) (*RawTxResult, error) {
	v := json.RawMessage("0")
	if verbose {
		v = json.RawMessage("1")
	}
	raw, err := c.call(ctx, "getrawtransaction", marshal(txidHex), v)
	if err != nil {
		return nil, err
	}
	var tx RawTxResult
	if !verbose {
		if err := json.Unmarshal(raw, &tx.Hex); err != nil {
			return nil, &Error{Kind: KindDecode, Message: "decoding raw getrawtransaction reply", Cause: err}
		}
		return &tx, nil
	}
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, &Error{Kind: KindDecode, Message: "decoding verbose getrawtransaction reply", Cause: err}
	}
	return &tx, nil
}

// GetAddressTxids issues getaddresstxids for a set of t-addresses.
func (c *Client) GetAddressTxids(ctx context.Context, addrs []string, start, end uint64) ([]string, error) {
	req := struct {
		Addresses []string `json:"addresses"`
		Start     uint64   `json:"start"`
		End       uint64   `json:"end,omitempty"`
	}{Addresses: addrs, Start: start, End: end}
	raw, err := c.call(ctx, "getaddresstxids", marshal(req))
	if err != nil {
		return nil, err
	}
	var txids []string
	if err := json.Unmarshal(raw, &txids); err != nil {
		return nil, &Error{Kind: KindDecode, Message: "decoding getaddresstxids reply", Cause: err}
	}
	return txids, nil
}

// SendRawTransaction issues sendrawtransaction and returns the accepted
// txid, or the (code, message) pair zcashd returns on rejection via Error.
func (c *Client) SendRawTransaction(ctx context.Context, hexTx string) (string, error) {
	raw, err := c.call(ctx, "sendrawtransaction", marshal(hexTx))
	if err != nil {
		return "", err
	}
	var txid string
	if err := json.Unmarshal(raw, &txid); err != nil {
		return "", &Error{Kind: KindDecode, Message: "decoding sendrawtransaction reply", Cause: err}
	}
	return txid, nil
}

// GetTreeState issues z_gettreestate for a height (decimal string) or hash
// (hex string).
func (c *Client) GetTreeState(ctx context.Context, heightOrHash string) (*TreeState, error) {
	raw, err := c.call(ctx, "z_gettreestate", marshal(heightOrHash))
	if err != nil {
		return nil, err
	}
	var ts TreeState
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, &Error{Kind: KindDecode, Message: "decoding z_gettreestate reply", Cause: err}
	}
	return &ts, nil
}

// GetBlock issues getblock with the given verbosity (0 = raw hex, 1 = verbose JSON).
func (c *Client) GetBlock(ctx context.Context, heightOrHash string, verbose int) (json.RawMessage, error) {
	return c.call(ctx, "getblock", marshal(heightOrHash), json.RawMessage(strconv.Itoa(verbose)))
}

// GetBlockVerbose fetches a block's verbose metadata (txid list, tree sizes).
func (c *Client) GetBlockVerbose(ctx context.Context, heightOrHash string) (*BlockResult, error) {
	raw, err := c.GetBlock(ctx, heightOrHash, 1)
	if err != nil {
		return nil, err
	}
	var br BlockResult
	if err := json.Unmarshal(raw, &br); err != nil {
		return nil, &Error{Kind: KindDecode, Message: "decoding verbose getblock reply", Cause: err}
	}
	return &br, nil
}

// GetBlockRaw fetches a block's raw consensus-serialized bytes.
func (c *Client) GetBlockRaw(ctx context.Context, heightOrHash string) ([]byte, error) {
	raw, err := c.GetBlock(ctx, heightOrHash, 0)
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, &Error{Kind: KindDecode, Message: "decoding raw getblock reply", Cause: err}
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Message: "hex-decoding raw getblock reply", Cause: err}
	}
	return b, nil
}
