package db

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"path/filepath"
	"time"

	"github.com/chainx-org/psc-contributors/domain"
	"github.com/cockroachdb/pebble/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("store resource not found")

const lastExportPerParaIdKey = 0x00

// PebbleStore keeps a ledger of the last export summary per parachain.
type PebbleStore struct {
	db     *pebble.DB
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewPebbleStore(storeDir string, logger *zap.SugaredLogger) (*PebbleStore, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "psc-contributors-store"), &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening pebble db")
	}

	return &PebbleStore{db: db, logger: logger, now: time.Now}, nil
}

func (ps *PebbleStore) Name() string {
	return "ledger"
}

func (ps *PebbleStore) Publish(_ context.Context, export *domain.Export) error {
	return ps.SetLastExport(export.Summary(ps.now()))
}

func (ps *PebbleStore) SetLastExport(summary domain.ExportSummary) error {
	value, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "marshalling export summary")
	}

	err = ps.db.Set(lastExportKey(summary.ParaID), value, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting last export for para id [%d]", summary.ParaID)
	}
	return nil
}

func (ps *PebbleStore) GetLastExport(paraID uint32) (*domain.ExportSummary, error) {
	value, closer, err := ps.db.Get(lastExportKey(paraID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting last export for para id [%d]", paraID)
	}
	defer func(closer io.Closer) {
		err := closer.Close()
		if err != nil {
			ps.logger.Errorw("closing db value", "error", err)
		}
	}(closer)

	var summary domain.ExportSummary
	if err = json.Unmarshal(value, &summary); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling last export for para id [%d]", paraID)
	}
	return &summary, nil
}

func (ps *PebbleStore) Close() error {
	return ps.db.Close()
}

func lastExportKey(paraID uint32) []byte {
	key := []byte{lastExportPerParaIdKey}
	return binary.BigEndian.AppendUint32(key, paraID)
}
