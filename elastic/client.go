package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"runtime"
	"time"

	"github.com/chainx-org/psc-contributors/domain"
	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	Addresses   []string
	Username    string
	Password    string
	IndexName   string
	CACert      []byte
	MaxRetries  int
	LogRequests io.Writer // optional request and response logging
}

type EsDocument struct {
	Id      string
	Payload []byte
}

// ContributionDocument is the indexed form of one contribution.
type ContributionDocument struct {
	ParaID      uint32 `json:"paraId"`
	BlockHash   string `json:"blockHash"`
	BlockNumber uint64 `json:"blockNumber"`
	FundIndex   uint32 `json:"fundIndex"`
	Contributor string `json:"contributor"`
	Balance     string `json:"balance"`
	Ob          string `json:"ob"`
}

type Client struct {
	esClient  *elasticsearch.Client
	indexName string
	logger    *zap.SugaredLogger
}

func NewClient(cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	esConfig := elasticsearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		CACert:        cfg.CACert,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  calculateBackoff(logger),
	}
	if cfg.LogRequests != nil {
		esConfig.Logger = &elastictransport.TextLogger{
			Output:             cfg.LogRequests,
			EnableRequestBody:  true,
			EnableResponseBody: true,
		}
	}
	esClient, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "creating elasticsearch client")
	}
	return &Client{
		esClient:  esClient,
		indexName: cfg.IndexName,
		logger:    logger,
	}, nil
}

func (c *Client) Name() string {
	return "elastic"
}

func (c *Client) Publish(ctx context.Context, export *domain.Export) error {
	documents, err := createDocuments(export)
	if err != nil {
		return err
	}
	if len(documents) == 0 {
		return nil
	}
	return c.BulkIndex(ctx, documents)
}

func createDocuments(export *domain.Export) ([]*EsDocument, error) {
	documents := make([]*EsDocument, 0, len(export.Contributions))
	for _, contribution := range export.Contributions {
		payload, err := json.Marshal(ContributionDocument{
			ParaID:      export.ParaID,
			BlockHash:   export.Block.Hash,
			BlockNumber: export.Block.Number,
			FundIndex:   export.FundIndex,
			Contributor: contribution.Contributor,
			Balance:     contribution.Balance.String(),
			Ob:          contribution.Ob.String(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "marshalling document")
		}
		documents = append(documents, &EsDocument{
			Id:      fmt.Sprintf("%d-%d-%s", export.ParaID, export.Block.Number, contribution.Contributor),
			Payload: payload,
		})
	}
	return documents, nil
}

func (c *Client) BulkIndex(ctx context.Context, data []*EsDocument) error {
	start := time.Now()
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:      c.indexName,
		Client:     c.esClient,
		NumWorkers: min(runtime.NumCPU(), 8),
	})
	if err != nil {
		return errors.Wrap(err, "creating bulk indexer")
	}

	for _, d := range data {
		item := esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: d.Id,
			Body:       bytes.NewReader(d.Payload),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					c.logger.Errorw("Error indexing document", "id", d.Id, "error", err)
				} else {
					c.logger.Errorw("Error indexing document", "id", d.Id, "type", res.Error.Type, "reason", res.Error.Reason)
				}
			},
		}
		if err = bi.Add(ctx, item); err != nil {
			_ = bi.Close(ctx)
			return errors.Wrapf(err, "adding document [%s]", d.Id)
		}
	}

	if err = bi.Close(ctx); err != nil {
		return errors.Wrap(err, "closing bulk indexer")
	}

	stats := bi.Stats()
	if stats.NumFailed > 0 {
		return errors.Errorf("%d errors indexing [%d] documents", stats.NumFailed, stats.NumFlushed)
	}
	c.logger.Infow("Indexed documents",
		"documents", stats.NumFlushed,
		"bytes", stats.FlushedBytes,
		"requests", stats.NumRequests,
		"duration", time.Since(start))
	return nil
}

func calculateBackoff(logger *zap.SugaredLogger) func(i int) time.Duration {
	return func(i int) time.Duration {
		var d time.Duration
		if i < 10 {
			d = time.Second*time.Duration(i) + randomMillis()
		} else {
			d = time.Second*30 + randomMillis()
		}
		logger.Warnw("elasticsearch client retry", "attempt", i, "backoff", d)
		return d
	}
}

func randomMillis() time.Duration {
	return time.Duration(rand.Intn(1000)) * time.Millisecond
}
