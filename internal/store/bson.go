package store

import (
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/bson"
)

// bsonCodec stores the whole document as one BSON value.
type bsonCodec struct{}

func (bsonCodec) save(doc *document, path string) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (bsonCodec) load(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := bson.Raw(data).Validate(); err != nil {
		return nil, ErrCorrupt.Wrap(fmt.Errorf("%s: %w", path, err))
	}
	// Check the version before decoding the rest, whose shape may differ.
	var head struct {
		Version int `bson:"version"`
	}
	if err := bson.Unmarshal(data, &head); err != nil {
		return nil, ErrCorrupt.Wrap(fmt.Errorf("%s: %w", path, err))
	}
	if err := checkVersion(head.Version); err != nil {
		return nil, err
	}
	var doc document
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, ErrCorrupt.Wrap(fmt.Errorf("%s: %w", path, err))
	}
	return &doc, nil
}
