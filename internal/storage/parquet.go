package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	parquet "github.com/parquet-go/parquet-go"
	"github.com/yegors/stationmap/internal/fsutil"
	"github.com/yegors/stationmap/internal/stations"
	"github.com/yegors/stationmap/internal/synoptic"
	"github.com/yegors/stationmap/pkg/logger"
)

// Key/value metadata stored in every parquet footer
const (
	parquetKeyKind    = "stationmap.kind"
	parquetKeySavedAt = "stationmap.saved_at"
	parquetKeyColumns = "stationmap.columns"
)

// metadataParquetRow is the parquet schema for the metadata kind
type metadataParquetRow struct {
	Name      string  `parquet:"name"`
	StationID string  `parquet:"station_id"`
	Latitude  float64 `parquet:"latitude"`
	Longitude float64 `parquet:"longitude"`
}

// latestParquetRow is the parquet schema for the latest kind; observations
// are kept as compact JSON text
type latestParquetRow struct {
	Name         string  `parquet:"name"`
	StationID    string  `parquet:"station_id"`
	Latitude     float64 `parquet:"latitude"`
	Longitude    float64 `parquet:"longitude"`
	Observations string  `parquet:"observations"`
}

// ParquetStore keeps one <kind>.parquet file per kind
type ParquetStore struct {
	dir    string
	logger *logger.Logger
}

// NewParquetStore creates a store rooted at dir
func NewParquetStore(dir string, log *logger.Logger) *ParquetStore {
	return &ParquetStore{
		dir:    dir,
		logger: log.Named("parquet-store"),
	}
}

// Path returns the artifact path for kind
func (s *ParquetStore) Path(kind synoptic.Kind) string {
	return filepath.Join(s.dir, string(kind)+".parquet")
}

// Save replaces the artifact for the table's kind
func (s *ParquetStore) Save(ctx context.Context, table stations.Table, savedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := table.Kind.Validate(); err != nil {
		return err
	}

	options := []parquet.WriterOption{
		parquet.KeyValueMetadata(parquetKeyKind, string(table.Kind)),
		parquet.KeyValueMetadata(parquetKeySavedAt, savedAt.UTC().Format(time.RFC3339Nano)),
		parquet.KeyValueMetadata(parquetKeyColumns, strings.Join(table.Columns(), ",")),
	}

	path := s.Path(table.Kind)
	err := fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		if table.Kind == synoptic.KindLatest {
			return writeParquetRows(w, toLatestRows(table.Rows), options)
		}
		return writeParquetRows(w, toMetadataRows(table.Rows), options)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.logger.Debug("Saved station table",
		logger.String("path", path),
		logger.Int("rows", table.Len()))
	return nil
}

func writeParquetRows[T any](w io.Writer, rows []T, options []parquet.WriterOption) error {
	pw := parquet.NewGenericWriter[T](w, options...)
	if _, err := pw.Write(rows); err != nil {
		pw.Close()
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}

// Load reads the artifact for kind
func (s *ParquetStore) Load(ctx context.Context, kind synoptic.Kind) (stations.Table, stations.ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return stations.Table{}, stations.ArtifactInfo{}, err
	}

	path := s.Path(kind)
	f, size, err := openSized(path)
	if err != nil {
		return stations.Table{}, stations.ArtifactInfo{}, err
	}
	defer f.Close()

	info, err := s.readInfo(f, size, kind, path)
	if err != nil {
		return stations.Table{}, stations.ArtifactInfo{}, err
	}

	var rows []stations.Row
	if kind == synoptic.KindLatest {
		raw, err := parquet.Read[latestParquetRow](f, size)
		if err != nil {
			return stations.Table{}, stations.ArtifactInfo{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = fromLatestRows(raw)
	} else {
		raw, err := parquet.Read[metadataParquetRow](f, size)
		if err != nil {
			return stations.Table{}, stations.ArtifactInfo{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = fromMetadataRows(raw)
	}

	if len(rows) != info.Rows {
		return stations.Table{}, stations.ArtifactInfo{}, fmt.Errorf("corrupt %s: expected %d rows, read %d", path, info.Rows, len(rows))
	}

	return stations.Table{Kind: kind, Rows: rows}, info, nil
}

// Stat reads only the file footer of the artifact for kind
func (s *ParquetStore) Stat(ctx context.Context, kind synoptic.Kind) (stations.ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return stations.ArtifactInfo{}, err
	}

	path := s.Path(kind)
	f, size, err := openSized(path)
	if err != nil {
		return stations.ArtifactInfo{}, err
	}
	defer f.Close()

	return s.readInfo(f, size, kind, path)
}

// Delete removes the artifact for kind; a missing artifact is not an error
func (s *ParquetStore) Delete(ctx context.Context, kind synoptic.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return removeIfExists(s.Path(kind))
}

// Close is a no-op
func (s *ParquetStore) Close() error {
	return nil
}

func (s *ParquetStore) readInfo(f *os.File, size int64, kind synoptic.Kind, path string) (stations.ArtifactInfo, error) {
	pf, err := parquet.OpenFile(f, size)
	if err != nil {
		return stations.ArtifactInfo{}, fmt.Errorf("corrupt parquet file %s: %w", path, err)
	}

	stored, ok := pf.Lookup(parquetKeyKind)
	if !ok {
		return stations.ArtifactInfo{}, fmt.Errorf("corrupt parquet file %s: missing %s", path, parquetKeyKind)
	}
	if synoptic.Kind(stored) != kind {
		return stations.ArtifactInfo{}, fmt.Errorf("%w: %s holds %q, want %q", stations.ErrKindMismatch, path, stored, kind)
	}

	if cols, _ := pf.Lookup(parquetKeyColumns); cols != strings.Join(stations.Columns(kind), ",") {
		return stations.ArtifactInfo{}, fmt.Errorf("corrupt parquet file %s: columns %q do not match %s schema", path, cols, kind)
	}

	savedAtText, _ := pf.Lookup(parquetKeySavedAt)
	savedAt, err := time.Parse(time.RFC3339Nano, savedAtText)
	if err != nil {
		return stations.ArtifactInfo{}, fmt.Errorf("corrupt parquet file %s: bad %s %q", path, parquetKeySavedAt, savedAtText)
	}

	return stations.ArtifactInfo{
		Kind:     kind,
		SavedAt:  savedAt,
		Rows:     int(pf.NumRows()),
		Location: path,
	}, nil
}

func openSized(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, stations.ErrCacheMiss
		}
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return f, st.Size(), nil
}

func toMetadataRows(rows []stations.Row) []metadataParquetRow {
	out := make([]metadataParquetRow, len(rows))
	for i, r := range rows {
		out[i] = metadataParquetRow{Name: r.Name, StationID: r.StationID, Latitude: r.Latitude, Longitude: r.Longitude}
	}
	return out
}

func toLatestRows(rows []stations.Row) []latestParquetRow {
	out := make([]latestParquetRow, len(rows))
	for i, r := range rows {
		out[i] = latestParquetRow{
			Name:         r.Name,
			StationID:    r.StationID,
			Latitude:     r.Latitude,
			Longitude:    r.Longitude,
			Observations: string(r.Observations),
		}
	}
	return out
}

func fromMetadataRows(rows []metadataParquetRow) []stations.Row {
	out := make([]stations.Row, len(rows))
	for i, r := range rows {
		out[i] = stations.Row{Name: r.Name, StationID: r.StationID, Latitude: r.Latitude, Longitude: r.Longitude}
	}
	return out
}

func fromLatestRows(rows []latestParquetRow) []stations.Row {
	out := make([]stations.Row, len(rows))
	for i, r := range rows {
		out[i] = stations.Row{
			Name:         r.Name,
			StationID:    r.StationID,
			Latitude:     r.Latitude,
			Longitude:    r.Longitude,
			Observations: json.RawMessage(r.Observations),
		}
	}
	return out
}
