package kafka

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/chainx-org/psc-contributors/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type FakeKafkaClient struct {
	records []*kgo.Record
	err     error
}

func (f *FakeKafkaClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	var results kgo.ProduceResults
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func testExport() *domain.Export {
	contributions := []domain.Contribution{
		domain.NewContribution("Addr1", big.NewInt(10000)),
		domain.NewContribution("Addr2", big.NewInt(20000)),
	}
	return &domain.Export{
		ParaID:        2053,
		Block:         domain.BlockRef{Hash: "0xabc", Number: 13374400},
		FundIndex:     7,
		Contributions: contributions,
		Totals:        domain.Summarize(contributions),
	}
}

func TestContributionProducer_Publish(t *testing.T) {
	client := &FakeKafkaClient{}
	producer := NewContributionProducer(client)

	err := producer.Publish(context.Background(), testExport())
	require.NoError(t, err)
	require.Len(t, client.records, 2)
	assert.Equal(t, "Addr1", string(client.records[0].Key))
	assert.Equal(t, "Addr2", string(client.records[1].Key))

	var message ContributionMessage
	require.NoError(t, json.Unmarshal(client.records[1].Value, &message))
	assert.Equal(t, ContributionMessage{
		ParaID:      2053,
		BlockHash:   "0xabc",
		BlockNumber: 13374400,
		FundIndex:   7,
		Contributor: "Addr2",
		Balance:     "20000",
		Ob:          "66",
	}, message)
}

func TestContributionProducer_Publish_empty(t *testing.T) {
	client := &FakeKafkaClient{}

	err := NewContributionProducer(client).Publish(context.Background(), &domain.Export{})
	require.NoError(t, err)
	assert.Empty(t, client.records)
}

func TestContributionProducer_Publish_error(t *testing.T) {
	client := &FakeKafkaClient{err: errors.New("broker down")}

	err := NewContributionProducer(client).Publish(context.Background(), testExport())
	assert.ErrorContains(t, err, "broker down")
}

func TestCreateRecord_largeBalance(t *testing.T) {
	balance, ok := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	require.True(t, ok)

	record, err := createRecord(testExport(), domain.NewContribution("Addr1", balance))
	require.NoError(t, err)
	assert.Contains(t, string(record.Value), `"balance":"340282366920938463463374607431768211455"`)
}
