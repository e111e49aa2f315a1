package node

import (
	"context"
	"net/http"
	"time"

	"github.com/chainx-org/psc-contributors/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type Config struct {
	Endpoint         string
	HandshakeTimeout time.Duration
	KeysPageSize     uint32 // 0 fetches all child keys with one call
}

// Client talks to a substrate node over websocket JSON-RPC.
type Client struct {
	rpc          *rpc.Client
	keysPageSize uint32
}

type runtimeVersion struct {
	SpecName    string `json:"specName"`
	SpecVersion uint32 `json:"specVersion"`
}

type header struct {
	ParentHash common.Hash    `json:"parentHash"`
	Number     hexutil.Uint64 `json:"number"`
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  1024,
	}
	cl, err := rpc.DialOptions(ctx, cfg.Endpoint, rpc.WithWebsocketDialer(dialer))
	if err != nil {
		return nil, errors.Wrapf(err, "dialing node [%s]", cfg.Endpoint)
	}
	return &Client{rpc: cl, keysPageSize: cfg.KeysPageSize}, nil
}

// NodeInfo completes the handshake by reading chain name and runtime version.
func (c *Client) NodeInfo(ctx context.Context) (*domain.NodeInfo, error) {
	var chain string
	if err := c.rpc.CallContext(ctx, &chain, "system_chain"); err != nil {
		return nil, errors.Wrap(err, "calling system_chain")
	}
	var version runtimeVersion
	if err := c.rpc.CallContext(ctx, &version, "state_getRuntimeVersion"); err != nil {
		return nil, errors.Wrap(err, "calling state_getRuntimeVersion")
	}
	return &domain.NodeInfo{
		Chain:       chain,
		SpecName:    version.SpecName,
		SpecVersion: version.SpecVersion,
	}, nil
}

func (c *Client) BlockRef(ctx context.Context, hash common.Hash) (*domain.BlockRef, error) {
	var head *header
	if err := c.rpc.CallContext(ctx, &head, "chain_getHeader", hash.Hex()); err != nil {
		return nil, errors.Wrapf(err, "calling chain_getHeader for [%s]", hash.Hex())
	}
	if head == nil {
		return nil, errors.Errorf("block [%s] not found", hash.Hex())
	}
	return &domain.BlockRef{Hash: hash.Hex(), Number: uint64(head.Number)}, nil
}

// Storage returns nil without error if there is no value for the key.
func (c *Client) Storage(ctx context.Context, key []byte, at common.Hash) ([]byte, error) {
	var value *hexutil.Bytes
	err := c.rpc.CallContext(ctx, &value, "state_getStorage", hexutil.Encode(key), at.Hex())
	if err != nil {
		return nil, errors.Wrap(err, "calling state_getStorage")
	}
	if value == nil {
		return nil, nil
	}
	return *value, nil
}

func (c *Client) ChildKeys(ctx context.Context, childKey []byte, at common.Hash) ([][]byte, error) {
	if c.keysPageSize > 0 {
		return c.childKeysPaged(ctx, childKey, at)
	}
	var keys []hexutil.Bytes
	err := c.rpc.CallContext(ctx, &keys, "childstate_getKeys", hexutil.Encode(childKey), "0x", at.Hex())
	if err != nil {
		return nil, errors.Wrap(err, "calling childstate_getKeys")
	}
	return toByteSlices(keys), nil
}

func (c *Client) childKeysPaged(ctx context.Context, childKey []byte, at common.Hash) ([][]byte, error) {
	var result [][]byte
	var startKey *string
	for {
		var page []hexutil.Bytes
		err := c.rpc.CallContext(ctx, &page, "childstate_getKeysPaged",
			hexutil.Encode(childKey), "0x", c.keysPageSize, startKey, at.Hex())
		if err != nil {
			return nil, errors.Wrapf(err, "calling childstate_getKeysPaged after [%d] keys", len(result))
		}
		result = append(result, toByteSlices(page)...)
		if len(page) < int(c.keysPageSize) {
			return result, nil
		}
		last := hexutil.Encode(page[len(page)-1])
		startKey = &last
	}
}

// ChildStorage returns nil without error if there is no value for the key.
func (c *Client) ChildStorage(ctx context.Context, childKey, key []byte, at common.Hash) ([]byte, error) {
	var value *hexutil.Bytes
	err := c.rpc.CallContext(ctx, &value, "childstate_getStorage", hexutil.Encode(childKey), hexutil.Encode(key), at.Hex())
	if err != nil {
		return nil, errors.Wrapf(err, "calling childstate_getStorage for key [%s]", hexutil.Encode(key))
	}
	if value == nil {
		return nil, nil
	}
	return *value, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func toByteSlices(values []hexutil.Bytes) [][]byte {
	result := make([][]byte, 0, len(values))
	for _, v := range values {
		result = append(result, v)
	}
	return result
}
