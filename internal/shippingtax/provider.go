package shippingtax

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/money"
)

// Destination is the zone and tax jurisdiction an address resolves to.
type Destination struct {
	Zone          string
	Jurisdiction  string
	CountryCode   string
	International bool
}

// GeoResolver maps a destination address id to a shipping zone and tax
// jurisdiction. Implemented by the address/geo collaborator.
type GeoResolver interface {
	Resolve(ctx context.Context, addressID uuid.UUID) (Destination, error)
}

// RateReq describes a carrier rate lookup.
type RateReq struct {
	Zone          string
	International bool
	WeightGrams   int
	Subtotal      money.Money
}

// Option is one quotable shipping method. It is not persisted on its own;
// the chosen option is embedded into the order totals.
type Option struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Carrier string      `json:"carrier"`
	Price   money.Money `json:"price"`
	ETA     string      `json:"eta"`
}

// RateClient quotes shipping options for a destination. Outbound carrier
// lookups must honour the context deadline.
type RateClient interface {
	Rates(ctx context.Context, req RateReq) ([]Option, error)
}
