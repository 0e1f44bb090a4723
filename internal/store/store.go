// Package store persists datasets to a single file and reads them back.
//
// Two encodings are supported, picked by the double extension of the path:
// ".mrds.db" is a SQLite database, ".mrds.bson" a single BSON document.
// Both carry SchemaVersion; a file written under another version is refused
// rather than migrated.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/errs"

	"github.com/agentic-research/mrds/internal/dataset"
)

// SchemaVersion is the layout version written into every saved file.
const SchemaVersion = 1

const (
	ExtSQLite = ".mrds.db"
	ExtBSON   = ".mrds.bson"
)

var (
	// ErrCorrupt classifies files that cannot be decoded into a dataset.
	ErrCorrupt = errs.Class("corrupt dataset file")
	// ErrVersion classifies files written under another SchemaVersion.
	ErrVersion = errs.Class("unsupported schema version")
	// ErrExtension is returned for paths without a known double extension.
	ErrExtension = errors.New("dataset path must end in " + ExtSQLite + " or " + ExtBSON)
)

type codec interface {
	save(doc *document, path string) error
	load(path string) (*document, error)
}

func codecFor(path string) (codec, error) {
	switch {
	case strings.HasSuffix(path, ExtSQLite):
		return sqliteCodec{}, nil
	case strings.HasSuffix(path, ExtBSON):
		return bsonCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrExtension, path)
}

// SaveDataset writes ds to path, replacing any existing file. The file is
// written next to path and renamed into place, so readers never observe a
// partial file. Concurrent savers of the same path are serialized.
func SaveDataset(ds *dataset.Dataset, path string) (err error) {
	c, err := codecFor(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	unlock, err := lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if err := c.save(snapshot(ds), tmp); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// LoadDataset reads a dataset saved by SaveDataset. Undecodable content
// fails with ErrCorrupt and a foreign layout with ErrVersion; no partial
// tree is ever returned.
func LoadDataset(path string) (*dataset.Dataset, error) {
	c, err := codecFor(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	doc, err := c.load(path)
	if err != nil {
		return nil, err
	}
	return doc.restore()
}

func checkVersion(v int) error {
	if v != SchemaVersion {
		return ErrVersion.New("file has version %d, want %d", v, SchemaVersion)
	}
	return nil
}
