package sync

import (
	"context"

	"github.com/chainx-org/psc-contributors/domain"
	"github.com/chainx-org/psc-contributors/metrics"
	"github.com/chainx-org/psc-contributors/substrate"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NodeClient reads historical state. Storage and ChildStorage return a nil value if the key is absent.
type NodeClient interface {
	NodeInfo(ctx context.Context) (*domain.NodeInfo, error)
	BlockRef(ctx context.Context, hash common.Hash) (*domain.BlockRef, error)
	Storage(ctx context.Context, key []byte, at common.Hash) ([]byte, error)
	ChildKeys(ctx context.Context, childKey []byte, at common.Hash) ([][]byte, error)
	ChildStorage(ctx context.Context, childKey, key []byte, at common.Hash) ([]byte, error)
	Close()
}

type Connector interface {
	Connect(ctx context.Context) (NodeClient, error)
}

type ConnectorFunc func(ctx context.Context) (NodeClient, error)

func (f ConnectorFunc) Connect(ctx context.Context) (NodeClient, error) {
	return f(ctx)
}

type Publisher interface {
	Name() string
	Publish(ctx context.Context, export *domain.Export) error
}

type Config struct {
	ParaID        uint32
	BlockHash     common.Hash
	AddressFormat uint16
	MaxInFlight   int // 0 fetches all values at once
}

type ContributorsProcessor struct {
	cfg        Config
	connector  Connector
	publishers []Publisher
	metrics    *metrics.ExportMetrics
	logger     *zap.SugaredLogger
}

func NewContributorsProcessor(cfg Config, connector Connector, publishers []Publisher,
	m *metrics.ExportMetrics, logger *zap.SugaredLogger) *ContributorsProcessor {

	if cfg.MaxInFlight > 0 {
		logger.Infof("using up to [%d] concurrent value requests", cfg.MaxInFlight)
	}
	return &ContributorsProcessor{
		cfg:        cfg,
		connector:  connector,
		publishers: publishers,
		metrics:    m,
		logger:     logger,
	}
}

// Run exports the contributions of the configured crowdloan. Publishers are only called after
// every contribution has been fetched and decoded.
func (p *ContributorsProcessor) Run(ctx context.Context) (*domain.Export, error) {
	client, err := p.connector.Connect(ctx)
	if err != nil {
		return nil, domain.NewFailure(domain.KindConnection, errors.Wrap(err, "connecting to node"))
	}
	defer client.Close()

	export, err := p.collect(ctx, client)
	if err != nil {
		return nil, err
	}

	for _, publisher := range p.publishers {
		if err = publisher.Publish(ctx, export); err != nil {
			err = errors.Wrapf(err, "publishing to [%s]", publisher.Name())
			if domain.KindOf(err) == domain.KindUnknown {
				err = domain.NewFailure(domain.KindPublish, err)
			}
			return nil, err
		}
		p.metrics.IncPublishedExports(publisher.Name())
	}
	return export, nil
}

func (p *ContributorsProcessor) collect(ctx context.Context, client NodeClient) (*domain.Export, error) {
	info, err := client.NodeInfo(ctx)
	if err != nil {
		return nil, domain.NewFailure(domain.KindConnection, errors.Wrap(err, "node handshake"))
	}
	p.logger.Infow("Connected to node", "chain", info.Chain, "specName", info.SpecName, "specVersion", info.SpecVersion)

	block, err := client.BlockRef(ctx, p.cfg.BlockHash)
	if err != nil {
		return nil, domain.NewFailure(domain.KindQuery, errors.Wrap(err, "get block"))
	}

	fund, err := p.fetchFund(ctx, client)
	if err != nil {
		return nil, err
	}
	p.logger.Infow("Found crowdloan fund", "paraId", p.cfg.ParaID, "block", block.Number,
		"fundIndex", fund.FundIndex, "raised", fund.Raised, "cap", fund.Cap)
	p.metrics.SetSource(block.Number, fund.FundIndex)

	childKey := substrate.ChildStorageKey(fund.FundIndex)
	keys, err := client.ChildKeys(ctx, childKey, p.cfg.BlockHash)
	if err != nil {
		return nil, domain.NewFailure(domain.KindQuery, errors.Wrap(err, "get contributor keys"))
	}
	p.logger.Infow("Fetching contributions", "contributors", len(keys))

	contributions, err := p.fetchContributions(ctx, client, childKey, keys)
	if err != nil {
		return nil, err
	}

	totals := domain.Summarize(contributions)
	p.metrics.SetTotals(totals.Count, totals.Balance, totals.Ob)
	return &domain.Export{
		ParaID:        p.cfg.ParaID,
		Block:         *block,
		FundIndex:     fund.FundIndex,
		ChildKey:      hexutil.Encode(childKey),
		Contributions: contributions,
		Totals:        totals,
	}, nil
}

func (p *ContributorsProcessor) fetchFund(ctx context.Context, client NodeClient) (*domain.FundInfo, error) {
	value, err := client.Storage(ctx, substrate.FundStorageKey(p.cfg.ParaID), p.cfg.BlockHash)
	if err != nil {
		return nil, domain.NewFailure(domain.KindQuery, errors.Wrap(err, "get fund"))
	}
	if value == nil {
		return nil, domain.NewFailure(domain.KindMissingRecord,
			errors.Wrapf(domain.ErrFundNotFound, "para id [%d] at [%s]", p.cfg.ParaID, p.cfg.BlockHash.Hex()))
	}
	fund, err := substrate.DecodeFundInfo(value)
	if err != nil {
		return nil, domain.NewFailure(domain.KindDecode, errors.Wrapf(err, "fund of para id [%d]", p.cfg.ParaID))
	}
	return fund, nil
}

// fetchContributions fetches all values concurrently. Every goroutine writes the slot of its key,
// so the result keeps the key order. The first error cancels the remaining requests.
func (p *ContributorsProcessor) fetchContributions(ctx context.Context, client NodeClient, childKey []byte, keys [][]byte) ([]domain.Contribution, error) {
	contributions := make([]domain.Contribution, len(keys))
	errorGroup, groupCtx := errgroup.WithContext(ctx)
	if p.cfg.MaxInFlight > 0 {
		errorGroup.SetLimit(p.cfg.MaxInFlight)
	}
	for i, key := range keys {
		errorGroup.Go(func() error {
			contribution, err := p.fetchContribution(groupCtx, client, childKey, key)
			if err != nil {
				return err
			}
			contributions[i] = contribution
			return nil
		})
	}
	if err := errorGroup.Wait(); err != nil {
		return nil, err
	}
	return contributions, nil
}

func (p *ContributorsProcessor) fetchContribution(ctx context.Context, client NodeClient, childKey, key []byte) (domain.Contribution, error) {
	value, err := client.ChildStorage(ctx, childKey, key, p.cfg.BlockHash)
	if err != nil {
		return domain.Contribution{}, domain.NewFailure(domain.KindQuery, errors.Wrap(err, "get contribution"))
	}
	if value == nil {
		return domain.Contribution{}, domain.NewFailure(domain.KindMissingRecord,
			errors.Wrapf(domain.ErrValueNotFound, "key [%s]", hexutil.Encode(key)))
	}
	p.metrics.IncFetchedValues()

	balance, _, err := substrate.DecodeContribution(value)
	if err != nil {
		return domain.Contribution{}, domain.NewFailure(domain.KindDecode, errors.Wrapf(err, "key [%s]", hexutil.Encode(key)))
	}
	address, err := substrate.EncodeAddress(key, p.cfg.AddressFormat)
	if err != nil {
		return domain.Contribution{}, domain.NewFailure(domain.KindDecode, errors.Wrapf(err, "address of key [%s]", hexutil.Encode(key)))
	}
	return domain.NewContribution(address, balance), nil
}
