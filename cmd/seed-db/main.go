package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/tillpoint/internal/cache"
	"github.com/xenking/tillpoint/internal/domain/catalog"
	"github.com/xenking/tillpoint/internal/repository"
)

type productJSON struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	CostPrice decimal.Decimal `json:"cost_price"`
	SalePrice decimal.Decimal `json:"sale_price"`
	Quantity  int             `json:"quantity"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		storeID      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&storeID, "store", "", "store to load the catalog into (or TILL_SEED_STORE env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if storeID == "" {
		storeID = os.Getenv("TILL_SEED_STORE")
	}
	if storeID == "" {
		slog.Error("store is required: set --store or TILL_SEED_STORE")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, storeID); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, storeID string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc := catalog.NewService(repository.NewCatalogRepository(pool), cache.Noop{})

	return seedProducts(ctx, svc, storeID, productsFile)
}

func seedProducts(ctx context.Context, svc *catalog.Service, storeID, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	inputs := make([]catalog.ProductInput, len(products))
	for i, p := range products {
		inputs[i] = catalog.ProductInput{
			Code:      p.Code,
			Name:      p.Name,
			CostPrice: p.CostPrice,
			SalePrice: p.SalePrice,
			Quantity:  p.Quantity,
		}
	}

	slog.Info("upserting products", slog.String("store", storeID), slog.Int("count", len(inputs)))

	n, err := svc.Sync(ctx, storeID, inputs)
	if err != nil {
		return errors.Wrapf(err, "synced %d of %d products", n, len(inputs))
	}

	slog.Info("catalog synced", slog.String("store", storeID), slog.Int("products", n))
	return nil
}
