package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sampleledger/internal/variant"
)

func TestVariantClient_Lookup(t *testing.T) {
	known := variant.Variant{
		ID:          uuid.New(),
		ProductID:   uuid.New(),
		ProductType: variant.ProductTypeShoe,
		Attributes:  map[string]string{"size": "41"},
		UnitPrice:   decimal.RequireFromString("75.50"),
		Stock:       4,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, known.ID.String()) {
			json.NewEncoder(w).Encode(known)
			return
		}
		http.Error(w, "variant not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewVariantClient(VariantClientConfig{BaseURL: srv.URL, BreakerFailures: 1})

	t.Run("decodes a known variant", func(t *testing.T) {
		v, err := client.Lookup(context.Background(), known.ID)
		require.NoError(t, err)
		assert.Equal(t, known.ID, v.ID)
		assert.Equal(t, "41", v.Size())
		assert.True(t, known.UnitPrice.Equal(v.UnitPrice))
	})

	t.Run("not found does not trip the breaker", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := client.Lookup(context.Background(), uuid.New())
			assert.ErrorIs(t, err, variant.ErrNotFound)
		}
		_, err := client.Lookup(context.Background(), known.ID)
		assert.NoError(t, err)
	})
}

func TestVariantClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewVariantClient(VariantClientConfig{
		BaseURL:         srv.URL,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	})

	for i := 0; i < 2; i++ {
		_, err := client.Lookup(context.Background(), uuid.New())
		require.Error(t, err)
	}

	_, err := client.Lookup(context.Background(), uuid.New())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}
