package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store is a SQLite-backed catalog.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a catalog database.
// The path should be a file path (e.g., "./catalog.db") or ":memory:" for testing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps :memory: databases coherent (each
	// connection would otherwise get its own) and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS materials (
			material_id INTEGER PRIMARY KEY AUTOINCREMENT,
			material_name TEXT NOT NULL,
			brand TEXT,
			unit TEXT,
			base_cost DECIMAL(10,2) NOT NULL,
			stock_quantity INTEGER DEFAULT 0,
			last_updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS builders (
			builder_id INTEGER PRIMARY KEY AUTOINCREMENT,
			builder_name TEXT NOT NULL,
			contact_number TEXT,
			email TEXT UNIQUE,
			city TEXT,
			payment_history TEXT DEFAULT 'good',
			total_orders INTEGER DEFAULT 0,
			total_value DECIMAL(12,2) DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS sales_history (
			sale_id INTEGER PRIMARY KEY AUTOINCREMENT,
			builder_id INTEGER REFERENCES builders(builder_id),
			material_id INTEGER REFERENCES materials(material_id),
			quantity INTEGER NOT NULL,
			unit_price DECIMAL(10,2) NOT NULL,
			total_amount DECIMAL(12,2) NOT NULL,
			sale_date DATE NOT NULL,
			payment_status TEXT DEFAULT 'pending',
			delivery_status TEXT DEFAULT 'pending'
		);

		CREATE TABLE IF NOT EXISTS pricing_rules (
			rule_id INTEGER PRIMARY KEY AUTOINCREMENT,
			material_id INTEGER REFERENCES materials(material_id),
			min_quantity INTEGER NOT NULL,
			max_quantity INTEGER,
			discount_percentage DECIMAL(5,2),
			rule_type TEXT,
			margin_percentage DECIMAL(5,2) NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// MaterialByNameAndBrand returns the newest material row matching the name,
// and brand if given. Matching is case-insensitive; an empty brand matches
// any brand. Returns ErrNotFound when no row matches.
func (s *Store) MaterialByNameAndBrand(ctx context.Context, name, brand string) (*Material, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT material_id, material_name, COALESCE(brand, ''), COALESCE(unit, ''),
		       base_cost, stock_quantity
		FROM materials
		WHERE LOWER(material_name) = LOWER(?)
		  AND (? = '' OR LOWER(COALESCE(brand, '')) = LOWER(?))
		ORDER BY last_updated DESC, material_id DESC
		LIMIT 1
	`, name, brand, brand)

	m, err := scanMaterial(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query material: %w", err)
	}
	return m, nil
}

// AlternativeBrands returns other brands of the same material with enough
// stock for the requested quantity, cheapest first. The current brand is
// excluded so the caller only sees genuine alternatives.
func (s *Store) AlternativeBrands(ctx context.Context, materialName, excludeBrand string, quantity int64) ([]Material, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT material_id, material_name, COALESCE(brand, ''), COALESCE(unit, ''),
		       base_cost, stock_quantity
		FROM materials
		WHERE LOWER(material_name) = LOWER(?)
		  AND LOWER(COALESCE(brand, '')) != LOWER(?)
		  AND stock_quantity >= ?
		ORDER BY base_cost ASC
	`, materialName, excludeBrand, quantity)
	if err != nil {
		return nil, fmt.Errorf("query alternative brands: %w", err)
	}
	defer rows.Close()

	var alts []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alternative brand: %w", err)
		}
		alts = append(alts, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alternative brands: %w", err)
	}
	return alts, nil
}

// BuilderByID returns a builder profile. Returns ErrNotFound when unknown.
func (s *Store) BuilderByID(ctx context.Context, builderID int64) (*Builder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT builder_id, builder_name, COALESCE(city, ''),
		       COALESCE(payment_history, ''), total_orders, total_value
		FROM builders
		WHERE builder_id = ?
	`, builderID)
	return scanBuilder(row)
}

// BuilderByEmail returns the newest builder profile registered under the
// given email (case-insensitive). Returns ErrNotFound when unknown.
func (s *Store) BuilderByEmail(ctx context.Context, email string) (*Builder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT builder_id, builder_name, COALESCE(city, ''),
		       COALESCE(payment_history, ''), total_orders, total_value
		FROM builders
		WHERE LOWER(email) = LOWER(?)
		ORDER BY created_at DESC, builder_id DESC
		LIMIT 1
	`, email)
	return scanBuilder(row)
}

// PricingRuleForQuantity returns the most specific rule whose quantity range
// contains the requested quantity, or nil when no rule applies.
func (s *Store) PricingRuleForQuantity(ctx context.Context, materialID, quantity int64) (*PricingRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rule_id, min_quantity, max_quantity,
		       COALESCE(discount_percentage, 0), COALESCE(rule_type, ''),
		       margin_percentage
		FROM pricing_rules
		WHERE material_id = ?
		  AND min_quantity <= ?
		  AND (max_quantity IS NULL OR max_quantity >= ?)
		ORDER BY min_quantity DESC
		LIMIT 1
	`, materialID, quantity, quantity)

	var (
		r        PricingRule
		maxQty   sql.NullInt64
		discount float64
		margin   float64
	)
	err := row.Scan(&r.RuleID, &r.MinQuantity, &maxQty, &discount, &r.RuleType, &margin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pricing rule: %w", err)
	}
	if maxQty.Valid {
		r.MaxQuantity = &maxQty.Int64
	}
	r.DiscountPercentage = decimal.NewFromFloat(discount)
	r.MarginPercentage = decimal.NewFromFloat(margin)
	return &r, nil
}

// BuilderMaterialHistory aggregates the builder's past orders of the material
// and the material's 90-day average unit price across all builders.
// A builder with no history gets a zero-valued record, not an error.
func (s *Store) BuilderMaterialHistory(ctx context.Context, builderID, materialID int64) (*History, error) {
	var (
		h        History
		avgPrice float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(quantity), 0),
		       COALESCE(AVG(unit_price), 0)
		FROM sales_history
		WHERE builder_id = ? AND material_id = ?
	`, builderID, materialID).Scan(&h.BuilderOrderCount, &h.BuilderTotalQuantity, &avgPrice)
	if err != nil {
		return nil, fmt.Errorf("query builder history: %w", err)
	}
	h.BuilderAvgUnitPrice = decimal.NewFromFloat(avgPrice)

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(unit_price), 0)
		FROM sales_history
		WHERE material_id = ?
		  AND sale_date >= date('now', '-90 days')
	`, materialID).Scan(&avgPrice)
	if err != nil {
		return nil, fmt.Errorf("query material average: %w", err)
	}
	h.MaterialAvgPrice90d = decimal.NewFromFloat(avgPrice)

	return &h, nil
}

// InsertSale records a closed deal and returns the new sale ID.
func (s *Store) InsertSale(ctx context.Context, builderID, materialID, quantity int64, unitPrice decimal.Decimal) (int64, error) {
	total := unitPrice.Mul(decimal.NewFromInt(quantity))

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sales_history (
			builder_id, material_id, quantity, unit_price,
			total_amount, sale_date
		)
		VALUES (?, ?, ?, ?, ?, date('now'))
	`, builderID, materialID, quantity, unitPrice.String(), total.String())
	if err != nil {
		return 0, fmt.Errorf("insert sale: %w", err)
	}

	saleID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sale id: %w", err)
	}
	return saleID, nil
}

// AddMaterial inserts a material row and returns its ID. Used for seeding.
func (s *Store) AddMaterial(ctx context.Context, m Material) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO materials (material_name, brand, unit, base_cost, stock_quantity)
		VALUES (?, ?, ?, ?, ?)
	`, m.MaterialName, m.Brand, m.Unit, m.BaseCost.String(), m.StockQuantity)
	if err != nil {
		return 0, fmt.Errorf("insert material: %w", err)
	}
	return res.LastInsertId()
}

// AddBuilder inserts a builder row and returns its ID. Used for seeding.
func (s *Store) AddBuilder(ctx context.Context, b Builder, email string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO builders (builder_name, email, city, payment_history, total_orders, total_value)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.BuilderName, email, b.City, b.PaymentHistory, b.TotalOrders, b.TotalValue.String())
	if err != nil {
		return 0, fmt.Errorf("insert builder: %w", err)
	}
	return res.LastInsertId()
}

// AddPricingRule inserts a pricing rule for a material and returns its ID.
// Used for seeding.
func (s *Store) AddPricingRule(ctx context.Context, materialID int64, r PricingRule) (int64, error) {
	var maxQty any
	if r.MaxQuantity != nil {
		maxQty = *r.MaxQuantity
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pricing_rules (material_id, min_quantity, max_quantity,
		                           discount_percentage, rule_type, margin_percentage)
		VALUES (?, ?, ?, ?, ?, ?)
	`, materialID, r.MinQuantity, maxQty,
		r.DiscountPercentage.String(), r.RuleType, r.MarginPercentage.String())
	if err != nil {
		return 0, fmt.Errorf("insert pricing rule: %w", err)
	}
	return res.LastInsertId()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMaterial(row rowScanner) (*Material, error) {
	var (
		m    Material
		cost float64
	)
	if err := row.Scan(&m.MaterialID, &m.MaterialName, &m.Brand, &m.Unit, &cost, &m.StockQuantity); err != nil {
		return nil, err
	}
	m.BaseCost = decimal.NewFromFloat(cost)
	return &m, nil
}

func scanBuilder(row *sql.Row) (*Builder, error) {
	var (
		b     Builder
		value float64
	)
	err := row.Scan(&b.BuilderID, &b.BuilderName, &b.City, &b.PaymentHistory, &b.TotalOrders, &value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query builder: %w", err)
	}
	b.TotalValue = decimal.NewFromFloat(value)
	return &b, nil
}
