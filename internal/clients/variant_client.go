// internal/clients/variant_client.go
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"sampleledger/internal/variant"
)

// VariantClient resolves variants through the variant service. Calls go through a
// circuit breaker so a failing catalog does not stall every ledger request.
type VariantClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// VariantClientConfig tunes the HTTP client and its breaker.
type VariantClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerTimeout  time.Duration
	BreakerFailures uint32
	Logger          *zap.Logger
	HTTPClient      *http.Client
}

var _ variant.Service = (*VariantClient)(nil)

func NewVariantClient(cfg VariantClientConfig) *VariantClient {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "variant-service",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// an unknown variant is a valid answer, not a service failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, variant.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &VariantClient{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		breaker:    breaker,
	}
}

// Lookup fetches one variant. Unknown ids surface as variant.ErrNotFound.
func (c *VariantClient) Lookup(ctx context.Context, id uuid.UUID) (*variant.Variant, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.getVariant(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return result.(*variant.Variant), nil
}

func (c *VariantClient) getVariant(ctx context.Context, id uuid.UUID) (*variant.Variant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/variants/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request variant %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("variant %s: %w", id, variant.ErrNotFound)
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var v variant.Variant
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode variant %s: %w", id, err)
	}

	return &v, nil
}
