package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/martpoint/promo-engine/internal/repository"
)

// promo-ingest loads crowd-sourced promotion scan dumps into the reverse
// index. Each dump file is a gzipped list of "barcode,promotion_id" lines
// collected from a different scanner fleet; a pair is trusted only when at
// least two independent fleets reported it.
const (
	bloomCapacity = 50_000_000
	bloomFPR      = 0.001
	numFiles      = 3
	progressEvery = 5_000_000
	writeWorkers  = 8

	minBarcodeLen = 8
	maxBarcodeLen = 14
)

// fileResult holds candidate pairs found in a single file during pass 2. The
// mask records which files contributed the pair.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing promoscanN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("promo ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files := make([]string, numFiles)
	for i := range numFiles {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("promoscan%d.gz", i+1))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: build one bloom filter per fleet, concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", numFiles))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: find pairs corroborated by 2+ fleets.
	slog.Info("pass 2: finding corroborated pairs")

	trusted, err := findTrustedPairs(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find trusted pairs")
	}

	slog.Info("trusted pairs found", slog.Int("count", len(trusted)))

	if len(trusted) == 0 {
		slog.Info("no trusted pairs to index")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeIndex(ctx, repository.NewIndexRepository(pool), trusted); err != nil {
		return errors.Wrap(err, "write index entries")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(pair string) {
			filter.AddString(pair)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.Int("file", idx+1),
					slog.Uint64("pairs", count),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for file %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_pairs", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findTrustedPairs re-streams each file and checks pairs against OTHER files'
// bloom filters. A pair is trusted if it appears in 2 or more files. The
// result maps barcode to the promotion ids trusted for it.
func findTrustedPairs(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string][]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge bitmasks from all files.
	merged := make(map[string]uint)
	for _, r := range results {
		for pair, mask := range r.candidates {
			merged[pair] |= mask
		}
	}

	// Keep pairs reported by 2+ fleets, grouped by barcode.
	trusted := make(map[string][]string)
	for pair, mask := range merged {
		if bits.OnesCount(mask) < 2 {
			continue
		}
		barcode, promotionID, ok := strings.Cut(pair, ",")
		if !ok {
			continue
		}
		trusted[barcode] = append(trusted[barcode], promotionID)
	}

	return trusted, nil
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		fileBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(pair string) {
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("file", idx+1),
					slog.Uint64("pairs", count),
				)
			}

			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(pair) {
					candidates[pair] |= fileBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan file %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_pairs", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = fileResult{candidates: candidates}
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each
// well-formed "barcode,promotion_id" line.
func streamGzFile(ctx context.Context, path string, fn func(pair string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		barcode, promotionID, ok := strings.Cut(line, ",")
		if !ok || promotionID == "" {
			continue
		}
		if len(barcode) < minBarcodeLen || len(barcode) > maxBarcodeLen {
			continue
		}
		fn(line)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// writeIndex upserts the trusted pairs into the reverse index. The upserts
// are idempotent, so a partially completed run is safe to repeat.
func writeIndex(ctx context.Context, entries *repository.IndexRepository, trusted map[string][]string) error {
	slog.Info("writing index entries", slog.Int("barcodes", len(trusted)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(writeWorkers)

	for barcode, ids := range trusted {
		g.Go(func() error {
			return errors.Wrapf(entries.Upsert(gctx, barcode, ids, nil), "upsert barcode %s", barcode)
		})
	}

	return g.Wait()
}
