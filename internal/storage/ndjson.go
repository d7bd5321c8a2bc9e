package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/yegors/stationmap/internal/fsutil"
	"github.com/yegors/stationmap/internal/stations"
	"github.com/yegors/stationmap/internal/synoptic"
	"github.com/yegors/stationmap/pkg/logger"
)

// ndjsonHeader is the first line of every NDJSON artifact
type ndjsonHeader struct {
	Kind    synoptic.Kind `json:"kind"`
	Columns []string      `json:"columns"`
	SavedAt time.Time     `json:"saved_at"`
	Rows    int           `json:"rows"`
}

// NDJSONStore keeps one <kind>.ndjson file per kind: a header line followed by
// one JSON object per row
type NDJSONStore struct {
	dir    string
	logger *logger.Logger
}

// NewNDJSONStore creates a store rooted at dir
func NewNDJSONStore(dir string, log *logger.Logger) *NDJSONStore {
	return &NDJSONStore{
		dir:    dir,
		logger: log.Named("ndjson-store"),
	}
}

// Path returns the artifact path for kind
func (s *NDJSONStore) Path(kind synoptic.Kind) string {
	return filepath.Join(s.dir, string(kind)+".ndjson")
}

// Save replaces the artifact for the table's kind
func (s *NDJSONStore) Save(ctx context.Context, table stations.Table, savedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := table.Kind.Validate(); err != nil {
		return err
	}

	path := s.Path(table.Kind)
	err := fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		enc := json.NewEncoder(bw)
		enc.SetEscapeHTML(false)

		header := ndjsonHeader{
			Kind:    table.Kind,
			Columns: table.Columns(),
			SavedAt: savedAt.UTC(),
			Rows:    table.Len(),
		}
		if err := enc.Encode(header); err != nil {
			return fmt.Errorf("failed to encode header: %w", err)
		}
		for i, row := range table.Rows {
			if err := enc.Encode(row); err != nil {
				return fmt.Errorf("failed to encode row %d: %w", i, err)
			}
		}
		return bw.Flush()
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.logger.Debug("Saved station table",
		logger.String("path", path),
		logger.Int("rows", table.Len()))
	return nil
}

// Load reads the artifact for kind
func (s *NDJSONStore) Load(ctx context.Context, kind synoptic.Kind) (stations.Table, stations.ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return stations.Table{}, stations.ArtifactInfo{}, err
	}

	path := s.Path(kind)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stations.Table{}, stations.ArtifactInfo{}, stations.ErrCacheMiss
		}
		return stations.Table{}, stations.ArtifactInfo{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	header, err := readHeader(dec, kind, path)
	if err != nil {
		return stations.Table{}, stations.ArtifactInfo{}, err
	}

	table := stations.Table{Kind: kind, Rows: []stations.Row{}}
	for {
		var row stations.Row
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stations.Table{}, stations.ArtifactInfo{}, fmt.Errorf("corrupt row %d in %s: %w", len(table.Rows), path, err)
		}
		table.Rows = append(table.Rows, row)
	}

	if len(table.Rows) != header.Rows {
		return stations.Table{}, stations.ArtifactInfo{}, fmt.Errorf("corrupt %s: header declares %d rows, found %d", path, header.Rows, len(table.Rows))
	}

	return table, infoFromHeader(header, path), nil
}

// Stat reads only the header of the artifact for kind
func (s *NDJSONStore) Stat(ctx context.Context, kind synoptic.Kind) (stations.ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return stations.ArtifactInfo{}, err
	}

	path := s.Path(kind)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stations.ArtifactInfo{}, stations.ErrCacheMiss
		}
		return stations.ArtifactInfo{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	header, err := readHeader(json.NewDecoder(bufio.NewReader(f)), kind, path)
	if err != nil {
		return stations.ArtifactInfo{}, err
	}
	return infoFromHeader(header, path), nil
}

// Delete removes the artifact for kind; a missing artifact is not an error
func (s *NDJSONStore) Delete(ctx context.Context, kind synoptic.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return removeIfExists(s.Path(kind))
}

// Close is a no-op
func (s *NDJSONStore) Close() error {
	return nil
}

func readHeader(dec *json.Decoder, kind synoptic.Kind, path string) (ndjsonHeader, error) {
	var header ndjsonHeader
	if err := dec.Decode(&header); err != nil {
		return ndjsonHeader{}, fmt.Errorf("corrupt header in %s: %w", path, err)
	}
	if header.Kind != kind {
		return ndjsonHeader{}, fmt.Errorf("%w: %s holds %q, want %q", stations.ErrKindMismatch, path, header.Kind, kind)
	}
	if header.Rows < 0 {
		return ndjsonHeader{}, fmt.Errorf("corrupt header in %s: negative row count %d", path, header.Rows)
	}
	if !slices.Equal(header.Columns, stations.Columns(kind)) {
		return ndjsonHeader{}, fmt.Errorf("corrupt header in %s: columns %v do not match %s schema", path, header.Columns, kind)
	}
	return header, nil
}

func infoFromHeader(h ndjsonHeader, path string) stations.ArtifactInfo {
	return stations.ArtifactInfo{
		Kind:     h.Kind,
		SavedAt:  h.SavedAt,
		Rows:     h.Rows,
		Location: path,
	}
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
