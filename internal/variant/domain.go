// internal/variant/domain.go
package variant

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("variant not found")

// ProductType distinguishes the kinds of lendable samples.
type ProductType string

const (
	ProductTypeShoe   ProductType = "shoe"
	ProductTypeInsole ProductType = "insole"
)

// IsValid reports whether the product type is one of the known kinds.
func (t ProductType) IsValid() bool {
	return t == ProductTypeShoe || t == ProductTypeInsole
}

// Variant is a requestable configuration (size, color, ...) of a product.
// The ledger only ever reads it.
type Variant struct {
	ID          uuid.UUID         `json:"id"`
	ProductID   uuid.UUID         `json:"product_id"`
	ProductType ProductType       `json:"product_type"`
	Attributes  map[string]string `json:"attributes"`
	UnitPrice   decimal.Decimal   `json:"unit_price"`
	Stock       int               `json:"stock"`
}

// Size is a convenience accessor for the most common attribute.
func (v Variant) Size() string {
	return v.Attributes["size"]
}
