package kafka

import (
	"context"
	"encoding/json"

	"github.com/chainx-org/psc-contributors/domain"
	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
)

type KafkaClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type ContributionProducer struct {
	kcl KafkaClient
}

type ContributionMessage struct {
	ParaID      uint32 `json:"paraId"`
	BlockHash   string `json:"blockHash"`
	BlockNumber uint64 `json:"blockNumber"`
	FundIndex   uint32 `json:"fundIndex"`
	Contributor string `json:"contributor"`
	Balance     string `json:"balance"` // u128 as decimal string
	Ob          string `json:"ob"`
}

func NewContributionProducer(client KafkaClient) *ContributionProducer {
	return &ContributionProducer{
		kcl: client,
	}
}

func (p *ContributionProducer) Name() string {
	return "kafka"
}

func (p *ContributionProducer) Publish(ctx context.Context, export *domain.Export) error {
	records := make([]*kgo.Record, 0, len(export.Contributions))
	for _, contribution := range export.Contributions {
		record, err := createRecord(export, contribution)
		if err != nil {
			return err
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil
	}
	if err := p.kcl.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return errors.Wrap(err, "failed to produce records")
	}
	return nil
}

func createRecord(export *domain.Export, contribution domain.Contribution) (*kgo.Record, error) {
	payload, err := json.Marshal(ContributionMessage{
		ParaID:      export.ParaID,
		BlockHash:   export.Block.Hash,
		BlockNumber: export.Block.Number,
		FundIndex:   export.FundIndex,
		Contributor: contribution.Contributor,
		Balance:     contribution.Balance.String(),
		Ob:          contribution.Ob.String(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "marshalling to json")
	}

	return &kgo.Record{
		Key:   []byte(contribution.Contributor),
		Value: payload,
	}, nil
}
