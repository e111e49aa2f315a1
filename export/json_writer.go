package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/chainx-org/psc-contributors/domain"
	"github.com/pkg/errors"
)

// JSONFileWriter writes the contributions as an indented JSON array.
type JSONFileWriter struct {
	path string
}

func NewJSONFileWriter(path string) *JSONFileWriter {
	return &JSONFileWriter{path: path}
}

func (w *JSONFileWriter) Name() string {
	return "json"
}

func (w *JSONFileWriter) Publish(_ context.Context, export *domain.Export) error {
	contributions := export.Contributions
	if contributions == nil {
		contributions = []domain.Contribution{} // [] instead of null
	}
	payload, err := json.MarshalIndent(contributions, "", "  ")
	if err != nil {
		return domain.NewFailure(domain.KindWrite, errors.Wrap(err, "marshalling contributions"))
	}
	if err = writeFile(w.path, payload); err != nil {
		return domain.NewFailure(domain.KindWrite, errors.Wrapf(err, "writing [%s]", w.path))
	}
	return nil
}

// writeFile replaces the file in one step so that readers never see a partial dump.
func writeFile(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	if _, err = tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
