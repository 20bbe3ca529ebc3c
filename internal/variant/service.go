// internal/variant/service.go
package variant

import (
	"context"

	"github.com/google/uuid"
)

// Service is the read-only variant lookup contract.
type Service interface {
	Lookup(ctx context.Context, id uuid.UUID) (*Variant, error)
}
