package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/chainx-org/psc-contributors/db"
	"github.com/chainx-org/psc-contributors/domain"
	"github.com/chainx-org/psc-contributors/elastic"
	"github.com/chainx-org/psc-contributors/export"
	"github.com/chainx-org/psc-contributors/kafka"
	"github.com/chainx-org/psc-contributors/metrics"
	"github.com/chainx-org/psc-contributors/node"
	"github.com/chainx-org/psc-contributors/substrate"
	"github.com/chainx-org/psc-contributors/sync"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// no prefix, the variable names are fixed by the env tags
const envPrefix = ""

// block 13374400
const blockHash = "0x0aa896860ba4c3bb4c538967e8cd290d1ad8c7b112404d10efbf4165043f2ef3"

var build = "develop"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with %s error: %s", domain.KindOf(err), err.Error())
	}
}

func run() error {
	log.SetOutput(os.Stdout) // default is stderr

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "loading .env file")
	}

	var cfg struct {
		conf.Version
		Node struct {
			Endpoint         string        `conf:"default:wss://rpc.polkadot.io,env:ENDPOINT"`
			HandshakeTimeout time.Duration `conf:"default:45s"`
			KeysPageSize     uint32        `conf:"default:0"` // 0 lists all keys in one request
			MaxInFlight      int           `conf:"default:0"` // 0 requests all values at once
		}
		Crowdloan struct {
			ParaID uint32 `conf:"default:2053,env:PARAID"`
		}
		Output struct {
			Dump string `conf:"default:./psc-contributors.json,env:DUMP"` // empty disables the file
		}
		Log struct {
			Level string `conf:"default:info"`
		}
		Broker struct {
			BootstrapServers []string // kafka publishing is disabled if empty
			ProduceTopic     string   `conf:"default:psc-crowdloan-contributions"`
		}
		Elastic struct {
			Addresses   []string // indexing is disabled if empty
			Username    string
			Password    string `conf:"mask"`
			IndexName   string `conf:"default:psc-crowdloan-contributions"`
			Certificate string
			MaxRetries  int  `conf:"default:5"`
			LogRequests bool `conf:"default:false"`
		}
		Store struct {
			Folder string // ledger of past exports, disabled if empty
		}
		Metrics struct {
			Namespace   string `conf:"default:psc_contributors"`
			PushGateway string
			Job         string `conf:"default:psc-contributors"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "exports the contributors of a polkadot crowdloan"

	if err := conf.Parse(os.Args[1:], envPrefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	log.Printf("main: Config :\n%v\n", out)

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	exportMetrics := metrics.NewExportMetrics(cfg.Metrics.Namespace, registry)
	if cfg.Metrics.PushGateway != "" {
		defer func() {
			if err := metrics.Push(context.Background(), cfg.Metrics.PushGateway, cfg.Metrics.Job, registry); err != nil {
				sLogger.Warnw("Pushing metrics failed", "error", err)
			}
		}()
	}

	var publishers []sync.Publisher
	if cfg.Output.Dump != "" {
		publishers = append(publishers, export.NewJSONFileWriter(cfg.Output.Dump))
	} else {
		sLogger.Infow("JSON dump disabled")
	}
	publishers = append(publishers, export.NewConsoleReporter(os.Stdout))

	if cfg.Store.Folder != "" {
		store, err := db.NewPebbleStore(cfg.Store.Folder, sLogger)
		if err != nil {
			return errors.Wrap(err, "creating db")
		}
		defer store.Close()

		previous, err := store.GetLastExport(cfg.Crowdloan.ParaID)
		if errors.Is(err, db.ErrNotFound) {
			sLogger.Infow("No previous export", "paraId", cfg.Crowdloan.ParaID)
		} else if err != nil {
			return errors.Wrap(err, "getting last export")
		} else {
			sLogger.Infow("Previous export", "paraId", previous.ParaID, "block", previous.Block.Number,
				"contributors", previous.Totals.Count, "totalBalance", previous.Totals.Balance, "exportedAt", previous.ExportedAt)
		}
		publishers = append(publishers, store)
	}

	if len(cfg.Broker.BootstrapServers) > 0 {
		m := kprom.NewMetrics(cfg.Metrics.Namespace,
			kprom.Registerer(registry),
			kprom.Gatherer(registry))
		kcl, err := kgo.NewClient(
			kgo.WithHooks(m),
			kgo.SeedBrokers(cfg.Broker.BootstrapServers...),
			kgo.DefaultProduceTopic(cfg.Broker.ProduceTopic),
			kgo.ProducerBatchCompression(kgo.ZstdCompression()),
			kgo.WithLogger(kgo.BasicLogger(os.Stdout, kgo.LogLevelInfo, nil)),
		)
		if err != nil {
			return errors.Wrap(err, "creating kafka client")
		}
		defer kcl.Close()
		publishers = append(publishers, kafka.NewContributionProducer(kcl))
	}

	if len(cfg.Elastic.Addresses) > 0 {
		var cert []byte
		if cfg.Elastic.Certificate != "" {
			cert, err = os.ReadFile(cfg.Elastic.Certificate)
			if err != nil {
				sLogger.Warnw("Could not read elastic certificate", "error", err)
			}
		}
		esConfig := elastic.Config{
			Addresses:  cfg.Elastic.Addresses,
			Username:   cfg.Elastic.Username,
			Password:   cfg.Elastic.Password,
			IndexName:  cfg.Elastic.IndexName,
			CACert:     cert,
			MaxRetries: cfg.Elastic.MaxRetries,
		}
		if cfg.Elastic.LogRequests {
			esConfig.LogRequests = os.Stdout
		}
		elasticClient, err := elastic.NewClient(esConfig, sLogger)
		if err != nil {
			return errors.Wrap(err, "creating elastic client")
		}
		publishers = append(publishers, elasticClient)
	}

	nodeConfig := node.Config{
		Endpoint:         cfg.Node.Endpoint,
		HandshakeTimeout: cfg.Node.HandshakeTimeout,
		KeysPageSize:     cfg.Node.KeysPageSize,
	}
	connector := sync.ConnectorFunc(func(ctx context.Context) (sync.NodeClient, error) {
		client, err := node.NewClient(ctx, nodeConfig)
		if err != nil {
			return nil, err
		}
		return client, nil
	})

	processor := sync.NewContributorsProcessor(sync.Config{
		ParaID:        cfg.Crowdloan.ParaID,
		BlockHash:     common.HexToHash(blockHash),
		AddressFormat: substrate.PolkadotAddressFormat,
		MaxInFlight:   cfg.Node.MaxInFlight,
	}, connector, publishers, exportMetrics, sLogger)

	result, err := processor.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "exporting contributors")
	}
	sLogger.Infow("Export finished", "paraId", result.ParaID, "block", result.Block.Number,
		"contributors", result.Totals.Count)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing log level [%s]", level)
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	return config.Build()
}
