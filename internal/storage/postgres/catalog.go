package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/roastline/orderd/internal/domain/catalog"
)

const (
	getProductSQL = `SELECT id, name, description, price, stock, is_active, has_variants
		FROM products WHERE id = $1`

	resolveVariantSQL = `SELECT v.id, v.product_id, p.name, v.price, v.stock, v.is_active AND p.is_active
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = $1 AND v.product_id = $2`

	listOptionsSQL = `SELECT o.id, o.name, o.position, v.id, v.value, v.position
		FROM product_options o
		JOIN option_values v ON v.option_id = o.id
		WHERE o.product_id = $1
		ORDER BY o.position, v.position`

	listVariantsSQL = `SELECT id, product_id, price, stock, is_active, selections
		FROM product_variants WHERE product_id = $1 ORDER BY variant_key`

	upsertProductSQL = `INSERT INTO products (id, name, description, price, stock, is_active, has_variants)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			is_active = EXCLUDED.is_active,
			has_variants = EXCLUDED.has_variants,
			updated_at = now()`

	insertOptionSQL = `INSERT INTO product_options (id, product_id, name, position) VALUES ($1, $2, $3, $4)`

	insertValueSQL = `INSERT INTO option_values (id, option_id, value, position) VALUES ($1, $2, $3, $4)`

	insertVariantSQL = `INSERT INTO product_variants (id, product_id, price, stock, is_active, variant_key, selections)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL. It
// also carries the write operations used by the catalog import tool.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetProduct returns a single product row by its identifier.
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// ResolveSaleItem resolves a (product, optional variant) pair into the
// authoritative price/stock/active view for an order line.
func (r *CatalogRepository) ResolveSaleItem(ctx context.Context, productID, variantID string) (*catalog.SaleItem, error) {
	if variantID != "" {
		var item catalog.SaleItem
		err := r.pool.QueryRow(ctx, resolveVariantSQL, variantID, productID).Scan(
			&item.VariantID, &item.ProductID, &item.Name, &item.Price, &item.Stock, &item.Active,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, catalog.ErrNotFound
			}
			return nil, errors.Wrapf(err, "resolve variant %q", variantID)
		}
		item.StockID = item.VariantID
		return &item, nil
	}

	p, err := r.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.HasVariants {
		return nil, catalog.ErrVariantRequired
	}
	return &catalog.SaleItem{
		StockID:   p.ID,
		ProductID: p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Stock:     p.Stock,
		Active:    p.Active,
	}, nil
}

// ListOptions returns a product's options with their ordered values.
func (r *CatalogRepository) ListOptions(ctx context.Context, productID string) ([]catalog.Option, error) {
	rows, err := r.pool.Query(ctx, listOptionsSQL, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "list options for %q", productID)
	}
	defer rows.Close()

	var options []catalog.Option
	index := make(map[string]int)
	for rows.Next() {
		var (
			opt catalog.Option
			val catalog.OptionValue
		)
		if err := rows.Scan(&opt.ID, &opt.Name, &opt.Position, &val.ID, &val.Value, &val.Position); err != nil {
			return nil, errors.Wrap(err, "scan option row")
		}
		i, ok := index[opt.ID]
		if !ok {
			i = len(options)
			index[opt.ID] = i
			options = append(options, opt)
		}
		options[i].Values = append(options[i].Values, val)
	}
	return options, rows.Err()
}

// ListVariants returns a product's current variant set.
func (r *CatalogRepository) ListVariants(ctx context.Context, productID string) ([]catalog.Variant, error) {
	rows, err := r.pool.Query(ctx, listVariantsSQL, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "list variants for %q", productID)
	}
	return pgx.CollectRows(rows, scanVariant)
}

// UpsertProduct inserts or updates a product row.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.Active, p.HasVariants,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}

// ReplaceOptions swaps a product's option set in one transaction. Dependent
// option values are replaced along with their options.
func (r *CatalogRepository) ReplaceOptions(ctx context.Context, productID string, options []catalog.Option) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM product_options WHERE product_id = $1`, productID); err != nil {
		return errors.Wrapf(err, "delete options for %q", productID)
	}
	for _, opt := range options {
		if _, err := tx.Exec(ctx, insertOptionSQL, opt.ID, productID, opt.Name, opt.Position); err != nil {
			return errors.Wrapf(err, "insert option %q", opt.Name)
		}
		for _, val := range opt.Values {
			if _, err := tx.Exec(ctx, insertValueSQL, val.ID, opt.ID, val.Value, val.Position); err != nil {
				return errors.Wrapf(err, "insert option value %q", val.Value)
			}
		}
	}
	return tx.Commit(ctx)
}

// ReplaceVariants swaps a product's variant set in one transaction. Callers
// are expected to have carried surviving combinations over via
// catalog.ExpandVariants, so a full replace preserves price and stock.
func (r *CatalogRepository) ReplaceVariants(ctx context.Context, productID string, variants []catalog.Variant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM product_variants WHERE product_id = $1`, productID); err != nil {
		return errors.Wrapf(err, "delete variants for %q", productID)
	}
	for _, v := range variants {
		selections, err := json.Marshal(v.Selections)
		if err != nil {
			return errors.Wrap(err, "marshal selections")
		}
		key := catalog.VariantKey(v.Selections)
		if _, err := tx.Exec(ctx, insertVariantSQL,
			v.ID, productID, v.Price, v.Stock, v.Active, key, selections,
		); err != nil {
			return errors.Wrapf(err, "insert variant %q", key)
		}
	}
	return tx.Commit(ctx)
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p     catalog.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock, &p.Active, &p.HasVariants)
	p.Price = price
	return p, err
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var (
		v          catalog.Variant
		selections []byte
	)
	if err := row.Scan(&v.ID, &v.ProductID, &v.Price, &v.Stock, &v.Active, &selections); err != nil {
		return v, err
	}
	if err := json.Unmarshal(selections, &v.Selections); err != nil {
		return v, errors.Wrap(err, "unmarshal selections")
	}
	return v, nil
}
