// Command catalog-import loads a gzipped JSONL catalog feed into PostgreSQL.
//
// Each line describes one product with its options. Variants are expanded as
// the Cartesian product of option values; combinations that already exist in
// the database keep their price, stock, and active flag, so re-importing a
// feed never wipes inventory.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/roastline/orderd/internal/domain/catalog"
	"github.com/roastline/orderd/internal/storage/postgres"
)

const importWorkers = 4

type feedValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type feedOption struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Values []feedValue `json:"values"`
}

// feedProduct is one JSONL line of the catalog feed. Option and value IDs
// are stable across feeds; they anchor variant identity between imports.
type feedProduct struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Price       string       `json:"price"`
	Stock       int          `json:"stock"`
	Active      bool         `json:"active"`
	Options     []feedOption `json:"options"`
}

func main() {
	var (
		feedPath    string
		databaseURL string
	)
	flag.StringVar(&feedPath, "feed", "", "path to the catalog feed (.jsonl.gz)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if feedPath == "" || databaseURL == "" {
		slog.Error("both --feed and a database URL are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, feedPath, databaseURL); err != nil {
		slog.Error("import failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, feedPath, databaseURL string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	repo := postgres.NewCatalogRepository(pool)

	f, err := os.Open(feedPath)
	if err != nil {
		return errors.Wrap(err, "open feed")
	}
	defer f.Close()

	zr, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "open gzip stream")
	}
	defer zr.Close()

	// One goroutine scans lines, a small pool imports products. Products are
	// independent rows, so import order does not matter.
	products := make(chan feedProduct, importWorkers)
	var imported atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(products)
		sc := bufio.NewScanner(zr)
		sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
		lineNo := 0
		for sc.Scan() {
			lineNo++
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var p feedProduct
			if err := json.Unmarshal(line, &p); err != nil {
				return errors.Wrapf(err, "parse line %d", lineNo)
			}
			select {
			case products <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return errors.Wrap(sc.Err(), "scan feed")
	})

	for range importWorkers {
		g.Go(func() error {
			for p := range products {
				if err := importProduct(ctx, repo, p); err != nil {
					return errors.Wrapf(err, "import product %q", p.ID)
				}
				imported.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("catalog import complete", "products", imported.Load())
	return nil
}

func importProduct(ctx context.Context, repo *postgres.CatalogRepository, p feedProduct) error {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return errors.Wrapf(err, "parse price %q", p.Price)
	}

	options := make([]catalog.Option, 0, len(p.Options))
	for i, opt := range p.Options {
		values := make([]catalog.OptionValue, 0, len(opt.Values))
		for j, val := range opt.Values {
			values = append(values, catalog.OptionValue{ID: val.ID, Value: val.Value, Position: j})
		}
		options = append(options, catalog.Option{ID: opt.ID, Name: opt.Name, Position: i, Values: values})
	}

	hasVariants := false
	for _, opt := range options {
		if len(opt.Values) > 0 {
			hasVariants = true
			break
		}
	}

	// Read the current variant set before replacing anything so surviving
	// combinations keep their price and stock.
	prev, err := repo.ListVariants(ctx, p.ID)
	if err != nil {
		return errors.Wrap(err, "list previous variants")
	}

	err = repo.UpsertProduct(ctx, catalog.Product{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       price,
		Stock:       p.Stock,
		Active:      p.Active,
		HasVariants: hasVariants,
	})
	if err != nil {
		return err
	}
	if err := repo.ReplaceOptions(ctx, p.ID, options); err != nil {
		return err
	}
	if !hasVariants {
		return nil
	}
	return repo.ReplaceVariants(ctx, p.ID, catalog.ExpandVariants(p.ID, options, price, prev))
}
