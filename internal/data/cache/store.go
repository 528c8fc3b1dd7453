// Package cache is the content-addressed local bar store. Each (provider,
// asset, timestep) triple owns one DuckDB file named by the sha256 of the
// triple; inside live a columnar bars table, a coverage table of cached date
// ranges and a meta table carrying the format version. New entries are built
// in a temp file and renamed into place so a crash never leaves a partial
// entry visible; updates run in a transaction.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"
)

// FormatVersion is written into every new entry's meta table.
const FormatVersion = "1.0.0"

// formatConstraint decides which entry versions this build can read. Entries
// outside the constraint are treated as cache misses.
const formatConstraint = "^1"

// Range is one contiguous cached interval, inclusive on both ends.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether [start, end] lies inside the range.
func (r Range) Contains(start, end time.Time) bool {
	return !start.Before(r.Start) && !end.After(r.End)
}

// Store manages cache entries under one directory.
type Store struct {
	dir string
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// NewStore opens (creating if needed) a cache directory.
func NewStore(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to create cache directory", err)
	}

	return &Store{
		dir: dir,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// EntryPath returns the file backing a triple. The name is the sha256 of the
// triple, so distinct series can never collide however the symbol is spelled.
func (s *Store) EntryPath(provider string, asset types.Asset, step types.Timestep) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", provider, asset, step))

	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".duckdb")
}

// Coverage returns the cached ranges for a triple, sorted by start. A missing
// or version-incompatible entry yields no ranges.
func (s *Store) Coverage(provider string, asset types.Asset, step types.Timestep) ([]Range, error) {
	db, err := s.openCompatible(provider, asset, step)
	if err != nil || db == nil {
		return nil, err
	}
	defer db.Close()

	return s.readCoverage(db)
}

// Covered reports whether [start, end] lies entirely inside one cached range.
func (s *Store) Covered(provider string, asset types.Asset, step types.Timestep, start, end time.Time) (bool, error) {
	ranges, err := s.Coverage(provider, asset, step)
	if err != nil {
		return false, err
	}

	for _, r := range ranges {
		if r.Contains(start, end) {
			return true, nil
		}
	}

	return false, nil
}

// Read returns the cached bars for [start, end] in time order.
func (s *Store) Read(provider string, asset types.Asset, step types.Timestep, start, end time.Time) ([]types.Bar, error) {
	db, err := s.openCompatible(provider, asset, step)
	if err != nil {
		return nil, err
	}

	if db == nil {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "no cache entry for %s %s %s", provider, asset, step)
	}
	defer db.Close()

	query, args, err := s.sq.
		Select("time", "open", "high", "low", "close", "volume").
		From("bars").
		Where(squirrel.GtOrEq{"time": start}).
		Where(squirrel.LtOrEq{"time": end}).
		OrderBy("time ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build cache query", err)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "cache read failed", err)
	}
	defer rows.Close()

	var bars []types.Bar

	for rows.Next() {
		var bar types.Bar
		if err := rows.Scan(&bar.Time, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeCacheCorrupted, "cache row unreadable", err)
		}

		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "cache read failed", err)
	}

	return bars, nil
}

// Write stores bars and records [covStart, covEnd] as covered. A brand-new
// entry is built in a temp file and renamed into place; an existing entry is
// updated in a transaction with existing timestamps replaced.
func (s *Store) Write(provider string, asset types.Asset, step types.Timestep, bars []types.Bar, covStart, covEnd time.Time) error {
	path := s.EntryPath(provider, asset, step)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s.createEntry(path, provider, asset, step, bars, covStart, covEnd)
	}

	db, err := s.openCompatible(provider, asset, step)
	if err != nil {
		return err
	}

	if db == nil {
		// Incompatible format: rebuild the entry from scratch.
		if err := os.Remove(path); err != nil {
			return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to drop incompatible cache entry", err)
		}

		return s.createEntry(path, provider, asset, step, bars, covStart, covEnd)
	}
	defer db.Close()

	return s.appendEntry(db, bars, covStart, covEnd)
}

func (s *Store) createEntry(path, provider string, asset types.Asset, step types.Timestep, bars []types.Bar, covStart, covEnd time.Time) error {
	tmp := path + ".tmp-" + uuid.New().String()

	db, err := sql.Open("duckdb", tmp)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to create cache entry", err)
	}

	err = func() error {
		if _, err := db.Exec(`
			CREATE TABLE meta (format_version VARCHAR, provider VARCHAR, symbol VARCHAR, timestep VARCHAR, created_at TIMESTAMP);
			CREATE TABLE bars (time TIMESTAMP PRIMARY KEY, open DOUBLE, high DOUBLE, low DOUBLE, close DOUBLE, volume DOUBLE);
			CREATE TABLE coverage (range_start TIMESTAMP, range_end TIMESTAMP);
		`); err != nil {
			return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to create cache schema", err)
		}

		insert := s.sq.
			Insert("meta").
			Columns("format_version", "provider", "symbol", "timestep", "created_at").
			Values(FormatVersion, provider, asset.String(), string(step), time.Now().UTC())

		query, args, err := insert.ToSql()
		if err != nil {
			return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to build meta insert", err)
		}

		if _, err := db.Exec(query, args...); err != nil {
			return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to write cache meta", err)
		}

		return s.appendEntry(db, bars, covStart, covEnd)
	}()

	if closeErr := db.Close(); err == nil && closeErr != nil {
		err = errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to close cache entry", closeErr)
	}

	if err != nil {
		os.Remove(tmp)

		return err
	}

	// Atomic publish: readers either see the whole entry or none of it.
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)

		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to publish cache entry", err)
	}

	s.log.Debug("cache entry created", zap.String("path", path), zap.Int("bars", len(bars)))

	return nil
}

func (s *Store) appendEntry(db *sql.DB, bars []types.Bar, covStart, covEnd time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to begin cache write", err)
	}
	defer tx.Rollback()

	for _, bar := range bars {
		insert := s.sq.
			Insert("bars").
			Columns("time", "open", "high", "low", "close", "volume").
			Values(bar.Time.UTC(), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume).
			Options("OR REPLACE")

		query, args, err := insert.ToSql()
		if err != nil {
			return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to build bar insert", err)
		}

		if _, err := tx.Exec(query, args...); err != nil {
			return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to write bar", err)
		}
	}

	existing, err := s.readCoverageTx(tx)
	if err != nil {
		return err
	}

	merged := mergeRanges(append(existing, Range{Start: covStart, End: covEnd}))

	if _, err := tx.Exec("DELETE FROM coverage"); err != nil {
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to rewrite coverage", err)
	}

	for _, r := range merged {
		insert := s.sq.
			Insert("coverage").
			Columns("range_start", "range_end").
			Values(r.Start.UTC(), r.End.UTC())

		query, args, err := insert.ToSql()
		if err != nil {
			return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to build coverage insert", err)
		}

		if _, err := tx.Exec(query, args...); err != nil {
			return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to write coverage", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to commit cache write", err)
	}

	return nil
}

// openCompatible opens an entry and checks its format version. Returns
// (nil, nil) when the entry does not exist or its version is outside the
// readable constraint — both are plain misses to the caller.
func (s *Store) openCompatible(provider string, asset types.Asset, step types.Timestep) (*sql.DB, error) {
	path := s.EntryPath(provider, asset, step)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheCorrupted, "failed to open cache entry", err)
	}

	var version string
	if err := db.QueryRow("SELECT format_version FROM meta LIMIT 1").Scan(&version); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeCacheCorrupted, "cache entry has no readable meta", err)
	}

	ok, err := versionCompatible(version)
	if err != nil {
		db.Close()

		return nil, err
	}

	if !ok {
		db.Close()
		s.log.Warn("cache entry format incompatible, treating as miss",
			zap.String("path", path),
			zap.String("entry_version", version),
			zap.String("constraint", formatConstraint),
		)

		return nil, nil
	}

	return db, nil
}

func versionCompatible(version string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeCacheCorrupted, "cache entry version unparseable", err)
	}

	constraint, err := semver.NewConstraint(formatConstraint)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeCacheCorrupted, "bad format constraint", err)
	}

	return constraint.Check(v), nil
}

type rowQuerier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func (s *Store) readCoverage(db *sql.DB) ([]Range, error) {
	return readCoverageFrom(db)
}

func (s *Store) readCoverageTx(tx *sql.Tx) ([]Range, error) {
	return readCoverageFrom(tx)
}

func readCoverageFrom(q rowQuerier) ([]Range, error) {
	rows, err := q.Query("SELECT range_start, range_end FROM coverage ORDER BY range_start ASC")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "coverage read failed", err)
	}
	defer rows.Close()

	var ranges []Range

	for rows.Next() {
		var r Range
		if err := rows.Scan(&r.Start, &r.End); err != nil {
			return nil, errors.Wrap(errors.ErrCodeCacheCorrupted, "coverage row unreadable", err)
		}

		ranges = append(ranges, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "coverage read failed", err)
	}

	return ranges, nil
}

// mergeRanges collapses overlapping or touching ranges.
func mergeRanges(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Start.Before(ranges[j].Start)
	})

	merged := []Range{ranges[0]}

	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if !r.Start.After(last.End) {
			if r.End.After(last.End) {
				last.End = r.End
			}

			continue
		}

		merged = append(merged, r)
	}

	return merged
}
