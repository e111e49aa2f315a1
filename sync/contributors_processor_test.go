package sync

import (
	"bytes"
	"context"
	"math/big"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainx-org/psc-contributors/domain"
	"github.com/chainx-org/psc-contributors/export"
	"github.com/chainx-org/psc-contributors/metrics"
	"github.com/chainx-org/psc-contributors/substrate"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testBlock = common.HexToHash("0x0aa896860ba4c3bb4c538967e8cd290d1ad8c7b112404d10efbf4165043f2ef3")

var m = metrics.NewExportMetrics("test", prometheus.NewRegistry())

var logger = zap.NewNop().Sugar()

type FakeNodeClient struct {
	fund        []byte
	childKeys   [][]byte
	values      map[string][]byte
	getValue    func(key []byte) ([]byte, error) // overrides values
	infoErr     error
	closed      atomic.Bool
	queriedKeys atomic.Int64

	mutex         sync.Mutex
	childKeyAsked []byte
}

func (f *FakeNodeClient) NodeInfo(_ context.Context) (*domain.NodeInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return &domain.NodeInfo{Chain: "Polkadot", SpecName: "polkadot", SpecVersion: 9360}, nil
}

func (f *FakeNodeClient) BlockRef(_ context.Context, hash common.Hash) (*domain.BlockRef, error) {
	return &domain.BlockRef{Hash: hash.Hex(), Number: 13374400}, nil
}

func (f *FakeNodeClient) Storage(_ context.Context, key []byte, _ common.Hash) ([]byte, error) {
	if !bytes.Equal(key, substrate.FundStorageKey(2053)) {
		return nil, nil
	}
	return f.fund, nil
}

func (f *FakeNodeClient) ChildKeys(_ context.Context, childKey []byte, _ common.Hash) ([][]byte, error) {
	f.mutex.Lock()
	f.childKeyAsked = childKey
	f.mutex.Unlock()
	return f.childKeys, nil
}

func (f *FakeNodeClient) ChildStorage(_ context.Context, _, key []byte, _ common.Hash) ([]byte, error) {
	f.queriedKeys.Add(1)
	if f.getValue != nil {
		return f.getValue(key)
	}
	return f.values[string(key)], nil
}

func (f *FakeNodeClient) Close() {
	f.closed.Store(true)
}

type FakePublisher struct {
	name      string
	err       error
	published []*domain.Export
}

func (f *FakePublisher) Name() string {
	return f.name
}

func (f *FakePublisher) Publish(_ context.Context, export *domain.Export) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, export)
	return nil
}

func connectorFor(client NodeClient) Connector {
	return ConnectorFunc(func(_ context.Context) (NodeClient, error) { return client, nil })
}

func accountKey(seed byte) []byte {
	return bytes.Repeat([]byte{seed}, 32)
}

func encodeFund(t *testing.T, fundIndex uint32) []byte {
	data, err := substrate.EncodeFundInfo(&domain.FundInfo{
		Deposit:   big.NewInt(500),
		Raised:    big.NewInt(30000),
		Cap:       big.NewInt(1000000),
		FundIndex: fundIndex,
	})
	require.NoError(t, err)
	return data
}

func encodeValue(t *testing.T, balance int64) []byte {
	data, err := substrate.EncodeContribution(big.NewInt(balance), []byte("memo"))
	require.NoError(t, err)
	return data
}

func address(t *testing.T, key []byte) string {
	a, err := substrate.EncodeAddress(key, 0)
	require.NoError(t, err)
	return a
}

func testConfig() Config {
	return Config{ParaID: 2053, BlockHash: testBlock, AddressFormat: 0}
}

func newTwoContributorsClient(t *testing.T) *FakeNodeClient {
	return &FakeNodeClient{
		fund:      encodeFund(t, 7),
		childKeys: [][]byte{accountKey(1), accountKey(2)},
		values: map[string][]byte{
			string(accountKey(1)): encodeValue(t, 10000),
			string(accountKey(2)): encodeValue(t, 20000),
		},
	}
}

func tempDump(t *testing.T) string {
	dir, err := os.MkdirTemp("", "processor_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "psc-contributors.json")
}

func TestContributorsProcessor_Run(t *testing.T) {
	client := newTwoContributorsClient(t)
	dump := tempDump(t)
	var console bytes.Buffer
	publishers := []Publisher{export.NewJSONFileWriter(dump), export.NewConsoleReporter(&console)}
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), publishers, m, logger)

	result, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, client.closed.Load())
	assert.Equal(t, substrate.ChildStorageKey(7), client.childKeyAsked)

	addr1, addr2 := address(t, accountKey(1)), address(t, accountKey(2))
	require.Len(t, result.Contributions, 2)
	assert.Equal(t, addr1, result.Contributions[0].Contributor)
	assert.Equal(t, addr2, result.Contributions[1].Contributor)
	assert.Equal(t, uint32(7), result.FundIndex)
	assert.Equal(t, uint64(13374400), result.Block.Number)
	assert.Equal(t, "30000", result.Totals.Balance.String())
	assert.Equal(t, "99", result.Totals.Ob.String())

	content, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"contributor":"`+addr1+`","balance":10000,"ob":33},{"contributor":"`+addr2+`","balance":20000,"ob":66}]`, string(content))
	assert.Contains(t, console.String(), "total_dot: 30000\n")
	assert.Contains(t, console.String(), "total_ob: 99\n")
}

func TestContributorsProcessor_Run_fundNotFound(t *testing.T) {
	client := newTwoContributorsClient(t)
	client.fund = nil
	dump := tempDump(t)
	publisher := &FakePublisher{name: "fake"}
	publishers := []Publisher{export.NewJSONFileWriter(dump), publisher}
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), publishers, m, logger)

	result, err := processor.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, domain.KindMissingRecord, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrFundNotFound)
	assert.True(t, client.closed.Load())
	assert.Empty(t, publisher.published)
	assert.Equal(t, int64(0), client.queriedKeys.Load())
	assert.NoFileExists(t, dump)
}

func TestContributorsProcessor_Run_failingFetchAborts(t *testing.T) {
	client := newTwoContributorsClient(t)
	value := encodeValue(t, 10000)
	client.getValue = func(key []byte) ([]byte, error) {
		if bytes.Equal(key, accountKey(2)) {
			return nil, errors.New("connection reset")
		}
		return value, nil
	}
	dump := tempDump(t)
	publisher := &FakePublisher{name: "fake"}
	publishers := []Publisher{export.NewJSONFileWriter(dump), publisher}
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), publishers, m, logger)

	_, err := processor.Run(context.Background())
	require.ErrorContains(t, err, "connection reset")
	assert.Equal(t, domain.KindQuery, domain.KindOf(err))
	assert.True(t, client.closed.Load())
	assert.Empty(t, publisher.published)
	assert.NoFileExists(t, dump)
}

func TestContributorsProcessor_Run_missingValue(t *testing.T) {
	client := newTwoContributorsClient(t)
	delete(client.values, string(accountKey(1)))
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), nil, m, logger)

	_, err := processor.Run(context.Background())
	assert.Equal(t, domain.KindMissingRecord, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrValueNotFound)
}

func TestContributorsProcessor_Run_malformedValue(t *testing.T) {
	client := newTwoContributorsClient(t)
	client.values[string(accountKey(2))] = []byte{0x10, 0x27}
	publisher := &FakePublisher{name: "fake"}
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), []Publisher{publisher}, m, logger)

	_, err := processor.Run(context.Background())
	assert.Equal(t, domain.KindDecode, domain.KindOf(err))
	assert.Empty(t, publisher.published)
}

func TestContributorsProcessor_Run_malformedFund(t *testing.T) {
	client := newTwoContributorsClient(t)
	client.fund = []byte{0x01}
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), nil, m, logger)

	_, err := processor.Run(context.Background())
	assert.Equal(t, domain.KindDecode, domain.KindOf(err))
	assert.True(t, client.closed.Load())
}

func TestContributorsProcessor_Run_connectionFailure(t *testing.T) {
	connector := ConnectorFunc(func(_ context.Context) (NodeClient, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	processor := NewContributorsProcessor(testConfig(), connector, nil, m, logger)

	_, err := processor.Run(context.Background())
	assert.Equal(t, domain.KindConnection, domain.KindOf(err))
}

func TestContributorsProcessor_Run_handshakeFailure(t *testing.T) {
	client := newTwoContributorsClient(t)
	client.infoErr = errors.New("unexpected EOF")
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), nil, m, logger)

	_, err := processor.Run(context.Background())
	assert.Equal(t, domain.KindConnection, domain.KindOf(err))
	assert.True(t, client.closed.Load())
}

func TestContributorsProcessor_Run_keepsKeyOrder(t *testing.T) {
	const count = 64
	client := &FakeNodeClient{fund: encodeFund(t, 3), values: make(map[string][]byte)}
	for i := 0; i < count; i++ {
		key := accountKey(byte(i))
		client.childKeys = append(client.childKeys, key)
		client.values[string(key)] = encodeValue(t, int64(i)*10000)
	}
	client.getValue = func(key []byte) ([]byte, error) {
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond) // random completion order
		return client.values[string(key)], nil
	}
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), nil, m, logger)

	result, err := processor.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Contributions, count)
	for i, contribution := range result.Contributions {
		assert.Equal(t, address(t, accountKey(byte(i))), contribution.Contributor)
		assert.Equal(t, int64(i)*10000, contribution.Balance.Int64())
		assert.Equal(t, int64(i)*33, contribution.Ob.Int64())
	}
}

func TestContributorsProcessor_Run_maxInFlight(t *testing.T) {
	const count = 20
	client := &FakeNodeClient{fund: encodeFund(t, 3)}
	var inFlight, maxInFlight atomic.Int64
	value := encodeValue(t, 100)
	for i := 0; i < count; i++ {
		client.childKeys = append(client.childKeys, accountKey(byte(i)))
	}
	client.getValue = func(key []byte) ([]byte, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := maxInFlight.Load()
			if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return value, nil
	}
	cfg := testConfig()
	cfg.MaxInFlight = 3
	processor := NewContributorsProcessor(cfg, connectorFor(client), nil, m, logger)

	result, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Contributions, count)
	assert.LessOrEqual(t, maxInFlight.Load(), int64(3))
}

func TestContributorsProcessor_Run_noContributors(t *testing.T) {
	client := &FakeNodeClient{fund: encodeFund(t, 3)}
	dump := tempDump(t)
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), []Publisher{export.NewJSONFileWriter(dump)}, m, logger)

	result, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Contributions)
	assert.Equal(t, "0", result.Totals.Balance.String())

	content, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(content))
}

func TestContributorsProcessor_Run_publisherFailure(t *testing.T) {
	client := newTwoContributorsClient(t)
	first := &FakePublisher{name: "first", err: errors.New("broker unavailable")}
	second := &FakePublisher{name: "second"}
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), []Publisher{first, second}, m, logger)

	_, err := processor.Run(context.Background())
	assert.Equal(t, domain.KindPublish, domain.KindOf(err))
	assert.ErrorContains(t, err, "publishing to [first]")
	assert.Empty(t, second.published)
	assert.True(t, client.closed.Load())
}

func TestContributorsProcessor_Run_writeFailureKeepsKind(t *testing.T) {
	client := newTwoContributorsClient(t)
	writer := export.NewJSONFileWriter(filepath.Join(os.TempDir(), "missing-dir-for-test", "x", "out.json"))
	processor := NewContributorsProcessor(testConfig(), connectorFor(client), []Publisher{writer}, m, logger)

	_, err := processor.Run(context.Background())
	assert.Equal(t, domain.KindWrite, domain.KindOf(err))
}
