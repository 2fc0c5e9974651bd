// Package store persists continuous-scanner output under the training-data
// tree: JSON day-files for signals and clustering, parquet for OHLCV.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/sawpanic/momentumscan/internal/config"
	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/stream"
)

// Store writes the three file layouts and serves the range reader. File
// writes are serialized; readers always see a fully written file because
// every write goes through a temp file and rename.
type Store struct {
	dir     string
	maxRows int
	log     zerolog.Logger
	archive *Archive

	mu sync.Mutex
}

func New(cfg config.StoreConfig, log zerolog.Logger) (*Store, error) {
	maxRows := cfg.ParquetMaxRows
	if maxRows <= 0 {
		maxRows = 500
	}
	s := &Store{
		dir:     cfg.Dir,
		maxRows: maxRows,
		log:     log.With().Str("component", "store").Logger(),
	}
	for _, sub := range []string{"signals", "ohlcv", "clustering"} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return s, nil
}

// SetArchive attaches the optional relational archive; signals are mirrored
// there best-effort.
func (s *Store) SetArchive(a *Archive) { s.archive = a }

// AppendSignal appends one signal to the symbol's day-file.
func (s *Store) AppendSignal(ctx context.Context, symbol string, sig stream.Signal) error {
	path := s.dayFile("signals", symbol, sig.Timestamp)

	s.mu.Lock()
	defer s.mu.Unlock()
	var records []stream.Signal
	if err := readJSON(path, &records); err != nil {
		return err
	}
	records = append(records, sig)
	if err := writeJSONAtomic(path, records); err != nil {
		return err
	}

	if s.archive != nil {
		if err := s.archive.InsertSignal(ctx, symbol, sig); err != nil {
			s.log.Warn().Err(err).Msg("archive insert failed")
		}
	}
	return nil
}

// WriteOHLCV overwrites the series file with the newest maxRows candles,
// gzip-compressed parquet.
func (s *Store) WriteOHLCV(_ context.Context, symbol string, tf domain.Timeframe, series domain.Series) error {
	series = series.Tail(s.maxRows)
	path := filepath.Join(s.dir, "ohlcv", fmt.Sprintf("%s_%s.parquet", slug(symbol), tf))

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create parquet temp: %w", err)
	}
	w := parquet.NewGenericWriter[domain.Candle](f, parquet.Compression(&parquet.Gzip))
	if _, err := w.Write(series); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("close parquet: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadOHLCV loads one series file; an absent file yields an empty series.
func (s *Store) ReadOHLCV(symbol string, tf domain.Timeframe) (domain.Series, error) {
	path := filepath.Join(s.dir, "ohlcv", fmt.Sprintf("%s_%s.parquet", slug(symbol), tf))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[domain.Candle](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// AppendCluster appends one clustering record to its day-file.
func (s *Store) AppendCluster(_ context.Context, rec stream.ClusterRecord) error {
	path := s.dayFile("clustering", rec.Symbol, rec.Timestamp)

	s.mu.Lock()
	defer s.mu.Unlock()
	var records []stream.ClusterRecord
	if err := readJSON(path, &records); err != nil {
		return err
	}
	records = append(records, rec)
	return writeJSONAtomic(path, records)
}

// Dataset is the assembled training bundle for one symbol.
type Dataset struct {
	Signals    []stream.Signal                    `json:"signals"`
	OHLCV      map[domain.Timeframe]domain.Series `json:"ohlcv"`
	Clustering []stream.ClusterRecord             `json:"clustering"`
}

// TrainingDataset walks [today-days, today] and assembles signals, per-
// timeframe OHLCV, and clustering records for one symbol. Missing files are
// skipped.
func (s *Store) TrainingDataset(symbol string, days int, timeframes []domain.Timeframe) (*Dataset, error) {
	if days <= 0 {
		days = 30
	}
	ds := &Dataset{OHLCV: make(map[domain.Timeframe]domain.Series)}

	end := time.Now().UTC()
	for d := days; d >= 0; d-- {
		day := end.AddDate(0, 0, -d)

		var sigs []stream.Signal
		if err := readJSON(s.dayFile("signals", symbol, day), &sigs); err == nil {
			ds.Signals = append(ds.Signals, sigs...)
		}
		var clusters []stream.ClusterRecord
		if err := readJSON(s.dayFile("clustering", symbol, day), &clusters); err == nil {
			ds.Clustering = append(ds.Clustering, clusters...)
		}
	}

	for _, tf := range timeframes {
		series, err := s.ReadOHLCV(symbol, tf)
		if err != nil {
			s.log.Warn().Str("timeframe", string(tf)).Err(err).Msg("ohlcv load failed")
			continue
		}
		if len(series) > 0 {
			ds.OHLCV[tf] = series
		}
	}
	return ds, nil
}

func (s *Store) dayFile(kind, symbol string, ts time.Time) string {
	return filepath.Join(s.dir, kind,
		fmt.Sprintf("%s_%s.json", slug(symbol), ts.UTC().Format("2006-01-02")))
}

// slug flattens "exchange:BASE/QUOTE" into a file-name-safe token.
func slug(symbol string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(symbol)
}

// readJSON loads a JSON array file into v; an absent file leaves v empty.
func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeJSONAtomic writes v two-space indented via temp file and rename.
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
