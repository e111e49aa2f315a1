// Package nodetest runs an in-process substrate JSON-RPC node for tests.
package nodetest

import (
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

type Node struct {
	Chain       string
	SpecName    string
	SpecVersion uint32
	BlockHash   common.Hash
	BlockNumber uint64

	mutex      sync.RWMutex
	storage    map[string][]byte
	childKeys  map[string][]string
	childValue map[string]map[string][]byte
	failing    map[string]bool

	childValueCalls atomic.Int64
	pagedCalls      atomic.Int64
}

func New(blockHash common.Hash, blockNumber uint64) *Node {
	return &Node{
		Chain:       "Polkadot",
		SpecName:    "polkadot",
		SpecVersion: 9360,
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		storage:     make(map[string][]byte),
		childKeys:   make(map[string][]string),
		childValue:  make(map[string]map[string][]byte),
		failing:     make(map[string]bool),
	}
}

func (n *Node) SetStorage(key, value []byte) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.storage[hexutil.Encode(key)] = value
}

// AddChildEntry appends a key to the child trie. Keys are listed in insertion order.
// A nil value makes the key enumerable without a stored value.
func (n *Node) AddChildEntry(childKey, key, value []byte) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	child, k := hexutil.Encode(childKey), hexutil.Encode(key)
	n.childKeys[child] = append(n.childKeys[child], k)
	if n.childValue[child] == nil {
		n.childValue[child] = make(map[string][]byte)
	}
	if value != nil {
		n.childValue[child][k] = value
	}
}

// FailChildValue makes childstate_getStorage return an error for the key.
func (n *Node) FailChildValue(key []byte) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.failing[hexutil.Encode(key)] = true
}

func (n *Node) ChildValueCalls() int {
	return int(n.childValueCalls.Load())
}

func (n *Node) PagedCalls() int {
	return int(n.pagedCalls.Load())
}

// Start serves the node over websocket and returns its ws:// url. The server is closed on test cleanup.
func (n *Node) Start(t testing.TB) string {
	t.Helper()
	srv := rpc.NewServer()
	for namespace, service := range map[string]any{
		"system":     &systemService{n},
		"state":      &stateService{n},
		"chain":      &chainService{n},
		"childstate": &childStateService{n},
	} {
		if err := srv.RegisterName(namespace, service); err != nil {
			t.Fatalf("registering [%s]: %v", namespace, err)
		}
	}
	httpServer := httptest.NewServer(srv.WebsocketHandler([]string{"*"}))
	t.Cleanup(func() {
		httpServer.Close()
		srv.Stop()
	})
	return "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func (n *Node) checkBlock(at string) error {
	if !strings.EqualFold(at, n.BlockHash.Hex()) {
		return errors.Errorf("unknown block [%s]", at)
	}
	return nil
}

type systemService struct{ node *Node }

func (s *systemService) Chain() (string, error) {
	return s.node.Chain, nil
}

type runtimeVersion struct {
	SpecName    string `json:"specName"`
	ImplName    string `json:"implName"`
	SpecVersion uint32 `json:"specVersion"`
}

type stateService struct{ node *Node }

func (s *stateService) GetRuntimeVersion() (*runtimeVersion, error) {
	return &runtimeVersion{SpecName: s.node.SpecName, ImplName: "parity-" + s.node.SpecName, SpecVersion: s.node.SpecVersion}, nil
}

func (s *stateService) GetStorage(key, at string) (*hexutil.Bytes, error) {
	if err := s.node.checkBlock(at); err != nil {
		return nil, err
	}
	s.node.mutex.RLock()
	defer s.node.mutex.RUnlock()
	value, ok := s.node.storage[strings.ToLower(key)]
	if !ok {
		return nil, nil
	}
	b := hexutil.Bytes(value)
	return &b, nil
}

type header struct {
	ParentHash string `json:"parentHash"`
	Number     string `json:"number"`
}

type chainService struct{ node *Node }

func (s *chainService) GetHeader(hash string) (*header, error) {
	if s.node.checkBlock(hash) != nil {
		return nil, nil
	}
	return &header{
		ParentHash: common.Hash{}.Hex(),
		Number:     hexutil.EncodeUint64(s.node.BlockNumber),
	}, nil
}

type childStateService struct{ node *Node }

func (s *childStateService) GetKeys(childKey, prefix, at string) ([]string, error) {
	if err := s.node.checkBlock(at); err != nil {
		return nil, err
	}
	s.node.mutex.RLock()
	defer s.node.mutex.RUnlock()
	var keys []string
	for _, key := range s.node.childKeys[strings.ToLower(childKey)] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *childStateService) GetKeysPaged(childKey, prefix string, count uint32, startKey *string, at string) ([]string, error) {
	s.node.pagedCalls.Add(1)
	keys, err := s.GetKeys(childKey, prefix, at)
	if err != nil {
		return nil, err
	}
	start := 0
	if startKey != nil {
		for i, key := range keys {
			if key == *startKey {
				start = i + 1
				break
			}
		}
	}
	end := min(start+int(count), len(keys))
	return keys[start:end], nil
}

func (s *childStateService) GetStorage(childKey, key, at string) (*hexutil.Bytes, error) {
	s.node.childValueCalls.Add(1)
	if err := s.node.checkBlock(at); err != nil {
		return nil, err
	}
	s.node.mutex.RLock()
	defer s.node.mutex.RUnlock()
	if s.node.failing[strings.ToLower(key)] {
		return nil, errors.Errorf("storage read failed for [%s]", key)
	}
	value, ok := s.node.childValue[strings.ToLower(childKey)][strings.ToLower(key)]
	if !ok {
		return nil, nil
	}
	b := hexutil.Bytes(value)
	return &b, nil
}
