// internal/variant/implementation.go
package variant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Schema is the variants read model. Stock is maintained by the inventory-availability
// system; nothing in this module writes it.
const Schema = `
CREATE TABLE IF NOT EXISTS variants (
	id UUID PRIMARY KEY,
	product_id UUID NOT NULL,
	product_type TEXT NOT NULL,
	attributes JSONB NOT NULL DEFAULT '{}',
	unit_price NUMERIC(12, 2) NOT NULL DEFAULT 0,
	stock INT NOT NULL DEFAULT 0
);
`

// PostgresCatalog serves variants from the read model.
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog creates a catalog backed by the variants table.
func NewPostgresCatalog(db *sql.DB) Service {
	return &PostgresCatalog{db: db}
}

// Lookup retrieves a variant by its ID.
func (c *PostgresCatalog) Lookup(ctx context.Context, id uuid.UUID) (*Variant, error) {
	query := `
		SELECT id, product_id, product_type, attributes, unit_price, stock
		FROM variants
		WHERE id = $1
	`
	v := &Variant{}
	var attributes []byte
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID,
		&v.ProductID,
		&v.ProductType,
		&attributes,
		&v.UnitPrice,
		&v.Stock,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("variant %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get variant from read model: %w", err)
	}
	if !v.ProductType.IsValid() {
		return nil, fmt.Errorf("variant %s has unknown product type %q", id, v.ProductType)
	}

	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &v.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of variant %s: %w", id, err)
		}
	}
	return v, nil
}

// MemoryCatalog is an in-memory Service used by tests and the memory store profile.
type MemoryCatalog struct {
	mu       sync.RWMutex
	variants map[uuid.UUID]Variant
}

func NewMemoryCatalog(variants ...Variant) *MemoryCatalog {
	c := &MemoryCatalog{variants: make(map[uuid.UUID]Variant, len(variants))}
	for _, v := range variants {
		c.Put(v)
	}
	return c
}

// Put registers or replaces a variant.
func (c *MemoryCatalog) Put(v Variant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v.Attributes = maps.Clone(v.Attributes)
	c.variants[v.ID] = v
}

func (c *MemoryCatalog) Lookup(_ context.Context, id uuid.UUID) (*Variant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variants[id]
	if !ok {
		return nil, fmt.Errorf("variant %s: %w", id, ErrNotFound)
	}
	v.Attributes = maps.Clone(v.Attributes)
	return &v, nil
}

// Delete drops a variant, as when a product is discontinued.
func (c *MemoryCatalog) Delete(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.variants, id)
}
