package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/tillpoint/internal/cache"
	"github.com/xenking/tillpoint/internal/domain/catalog"
	"github.com/xenking/tillpoint/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	syncBatchSize = 500
)

// feedRecord is one product row from a supplier feed, line-delimited JSON.
type feedRecord struct {
	Code      string
	Name      string
	CostPrice decimal.Decimal
	SalePrice decimal.Decimal
	Quantity  int
}

// fileResult holds the cross-listed candidates found in a single feed during
// pass 2: a per-code bitmask of the feeds it was seen in, plus the record
// itself so the import never re-reads the feed.
type fileResult struct {
	candidates map[string]uint
	records    map[string]feedRecord
}

func main() {
	var (
		dataDir     string
		databaseURL string
		storeID     string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing supplier *.jsonl.gz feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&storeID, "store", "", "store to import the catalog into (or TILL_IMPORT_STORE env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if storeID == "" {
		storeID = os.Getenv("TILL_IMPORT_STORE")
	}
	if storeID == "" {
		slog.Error("store is required: set --store or TILL_IMPORT_STORE")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, storeID); err != nil {
		slog.Error("catalog import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL, storeID string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "list feeds")
	}
	sort.Strings(files)
	if len(files) < 2 {
		return errors.Errorf("cross-listing needs at least two feeds, found %d in %s", len(files), dataDir)
	}

	// Pass 1: build one bloom filter of product codes per feed, concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("feeds", len(files)))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: keep products listed by two or more suppliers.
	slog.Info("pass 2: finding cross-listed products")

	records, err := findCrossListed(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find cross-listed products")
	}

	slog.Info("cross-listed products found", slog.Int("count", len(records)))

	if len(records) == 0 {
		slog.Info("no products to import")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	svc := catalog.NewService(repository.NewCatalogRepository(pool), cache.Noop{})
	if err := writeCatalog(ctx, svc, storeID, records); err != nil {
		return errors.Wrap(err, "write catalog to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per feed, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFeed(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFeed(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count, skipped uint64

		if err := streamFeed(ctx, path, func(line []byte) {
			rec, err := decodeRecord(line)
			if err != nil || rec.Code == "" {
				skipped++
				return
			}
			filter.AddString(rec.Code)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("products", count),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for feed %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("products", count),
			slog.Uint64("skipped", skipped),
		)

		filters[idx] = filter
		return nil
	}
}

// findCrossListed re-streams each feed and checks codes against the OTHER
// feeds' bloom filters. A product makes the catalog when two or more
// suppliers list it; where feeds disagree on a record, the last feed in sort
// order wins.
func findCrossListed(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]feedRecord, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFeed(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge bitmasks from all feeds.
	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	// Keep codes appearing in 2+ feeds, with the record from the last feed
	// that carried them.
	valid := make(map[string]feedRecord)
	for code, mask := range merged {
		if bits.OnesCount(mask) < 2 {
			continue
		}
		for _, r := range results {
			if rec, ok := r.records[code]; ok {
				valid[code] = rec
			}
		}
	}

	return valid, nil
}

func findCandidatesInFeed(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		records := make(map[string]feedRecord)
		fileBit := uint(1) << uint(idx)
		var count uint64

		if err := streamFeed(ctx, path, func(line []byte) {
			rec, err := decodeRecord(line)
			if err != nil || rec.Code == "" {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("products", count),
				)
			}

			// Check if this code appears in any OTHER feed's bloom filter.
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(rec.Code) {
					candidates[rec.Code] |= fileBit
					records[rec.Code] = rec
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan feed %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("products", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = fileResult{candidates: candidates, records: records}
		return nil
	}
}

// streamFeed opens a gzip-compressed feed and calls fn for each line.
func streamFeed(ctx context.Context, path string, fn func(line []byte)) error {
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
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// decodeRecord parses one JSONL feed line.
func decodeRecord(line []byte) (feedRecord, error) {
	var rec feedRecord
	d := jx.DecodeBytes(line)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			rec.Code, err = d.Str()
		case "name":
			rec.Name, err = d.Str()
		case "cost_price":
			rec.CostPrice, err = decimalField(d)
		case "sale_price":
			rec.SalePrice, err = decimalField(d)
		case "quantity":
			rec.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return feedRecord{}, err
	}
	return rec, nil
}

func decimalField(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(string(n))
}

// writeCatalog syncs the cross-listed products into the store in batches.
func writeCatalog(ctx context.Context, svc *catalog.Service, storeID string, records map[string]feedRecord) error {
	codes := make([]string, 0, len(records))
	for code := range records {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	inputs := make([]catalog.ProductInput, len(codes))
	for i, code := range codes {
		rec := records[code]
		inputs[i] = catalog.ProductInput{
			Code:      rec.Code,
			Name:      rec.Name,
			CostPrice: rec.CostPrice,
			SalePrice: rec.SalePrice,
			Quantity:  rec.Quantity,
		}
	}

	slog.Info("writing catalog to database", slog.String("store", storeID), slog.Int("count", len(inputs)))

	for start := 0; start < len(inputs); start += syncBatchSize {
		end := min(start+syncBatchSize, len(inputs))
		if _, err := svc.Sync(ctx, storeID, inputs[start:end]); err != nil {
			return errors.Wrapf(err, "sync batch starting at %d", start)
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(inputs)))
	}

	return nil
}
