// Package catalog is a small SQLite-backed product catalog with handlers
// for the prepare engine. The server binary uses it as demo data.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const createProductsTable = `
CREATE TABLE IF NOT EXISTS products (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    category    TEXT NOT NULL,
    price_cents INTEGER NOT NULL
)`

const createCategoryIndex = `CREATE INDEX IF NOT EXISTS idx_products_category ON products (category)`

const (
	defaultLimit = 20
	maxLimit     = 100
)

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is one catalog row.
type Product struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
}

// CategoryCount is one row of the category summary.
type CategoryCount struct {
	Category string `json:"category"`
	Products int    `json:"products"`
}

// Catalog reads and writes products.
type Catalog struct {
	db *sql.DB
}

// Open opens the SQLite database at path and creates the schema.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" would see its own empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createProductsTable, createCategoryIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

var demoProducts = []Product{
	{Name: "Trail Runner", Category: "shoes", PriceCents: 12900},
	{Name: "City Sneaker", Category: "shoes", PriceCents: 8900},
	{Name: "Rain Boot", Category: "shoes", PriceCents: 6500},
	{Name: "Wool Beanie", Category: "hats", PriceCents: 2500},
	{Name: "Sun Hat", Category: "hats", PriceCents: 3200},
	{Name: "Day Pack", Category: "bags", PriceCents: 7400},
}

// Seed inserts the demo products into an empty catalog.
func (c *Catalog) Seed(ctx context.Context) error {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return fmt.Errorf("count products: %w", err)
	}
	if n > 0 {
		return nil
	}

	for _, p := range demoProducts {
		if _, err := c.Insert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Insert adds p and returns its new ID. p.ID is ignored.
func (c *Catalog) Insert(ctx context.Context, p Product) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO products (name, category, price_cents) VALUES (?, ?, ?)`,
		p.Name, p.Category, p.PriceCents,
	)
	if err != nil {
		return 0, fmt.Errorf("insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert product: %w", err)
	}
	return id, nil
}

// Get returns the product with id.
func (c *Catalog) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, category, price_cents FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// List returns products ordered by ID, optionally restricted to one
// category.
func (c *Catalog) List(ctx context.Context, category string, limit int) ([]Product, error) {
	limit = clampLimit(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if category == "" {
		rows, err = c.db.QueryContext(ctx,
			`SELECT id, name, category, price_cents FROM products ORDER BY id LIMIT ?`, limit)
	} else {
		rows, err = c.db.QueryContext(ctx,
			`SELECT id, name, category, price_cents FROM products WHERE category = ? ORDER BY id LIMIT ?`,
			category, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return scanProducts(rows)
}

// Related returns other products in p's category.
func (c *Catalog) Related(ctx context.Context, p Product, limit int) ([]Product, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, category, price_cents FROM products
		WHERE category = ? AND id != ? ORDER BY id LIMIT ?`,
		p.Category, p.ID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("related products: %w", err)
	}
	return scanProducts(rows)
}

// Summary counts products per category, ordered by category.
func (c *Catalog) Summary(ctx context.Context) ([]CategoryCount, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM products GROUP BY category ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("category summary: %w", err)
	}
	defer rows.Close()

	out := []CategoryCount{}
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Products); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

func scanProducts(rows *sql.Rows) ([]Product, error) {
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
