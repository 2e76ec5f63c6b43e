// Package indexer provides the walk-and-index Job the location watcher
// triggers: it walks a directory tree dispatching one leaf Task per
// entry into the Task System, and persists what it finds through an
// IndexSink (the real external-collaborator boundary spec.md §1 calls
// out as "indexer rules...external collaborator"), with a bleve-backed
// implementation grounded on pkg/search/manager.go's
// openOrCreateIndex/index-mapping pattern.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Entry is the minimal file metadata an IndexSink stores for one path.
type Entry struct {
	Path     string
	Name     string
	Size     int64
	ModTime  time.Time
	IsDir    bool
}

// IndexSink is the external collaborator an IndexerJob writes entries
// through. It is intentionally small: walking, rule filtering, and task
// dispatch live in this package; only the actual storage write is
// delegated.
type IndexSink interface {
	IndexEntry(ctx context.Context, e Entry) error
	RemoveEntry(ctx context.Context, path string) error
	Close() error
}

// BleveSink is a bleve-backed IndexSink, the concrete implementation of
// the "indexer" external collaborator this expansion wires in.
type BleveSink struct {
	index bleve.Index
}

// OpenBleveSink opens an existing bleve index at path, creating one
// with a minimal field mapping if none exists yet, exactly as
// pkg/search/manager.go's openOrCreateIndex does for its own file
// index.
func OpenBleveSink(path string) (*BleveSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("indexer: create index directory: %w", err)
	}

	index, err := bleve.Open(path)
	if err == nil {
		return &BleveSink{index: index}, nil
	}

	mapping := buildIndexMapping()
	index, err = bleve.New(path, mapping)
	if err != nil {
		return nil, fmt.Errorf("indexer: create index at %s: %w", path, err)
	}
	return &BleveSink{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	entryMapping := bleve.NewDocumentMapping()

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = "keyword"
	entryMapping.AddFieldMappingsAt("Path", pathField)

	nameField := bleve.NewTextFieldMapping()
	entryMapping.AddFieldMappingsAt("Name", nameField)

	sizeField := bleve.NewNumericFieldMapping()
	entryMapping.AddFieldMappingsAt("Size", sizeField)

	modField := bleve.NewDateTimeFieldMapping()
	entryMapping.AddFieldMappingsAt("ModTime", modField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("entry", entryMapping)
	indexMapping.DefaultMapping = entryMapping
	return indexMapping
}

func (s *BleveSink) IndexEntry(ctx context.Context, e Entry) error {
	return s.index.Index(e.Path, e)
}

func (s *BleveSink) RemoveEntry(ctx context.Context, path string) error {
	return s.index.Delete(path)
}

func (s *BleveSink) Close() error {
	return s.index.Close()
}
