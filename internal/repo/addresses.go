package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-pasar/internal/shippingtax"
)

// ErrAddressNotFound is returned when the destination address id is unknown.
var ErrAddressNotFound = errors.New("repo: address not found")

// GeoRepo resolves a stored address into a shipping zone and tax
// jurisdiction. HomeCountry marks which country ships domestically.
type GeoRepo struct {
	Pool        *pgxpool.Pool
	HomeCountry string
}

// Resolve implements shippingtax.GeoResolver.
func (r GeoRepo) Resolve(ctx context.Context, addressID uuid.UUID) (shippingtax.Destination, error) {
	var country, region string
	err := r.Pool.QueryRow(ctx,
		`SELECT country_code, region FROM addresses WHERE id = $1`,
		addressID).Scan(&country, &region)
	if errors.Is(err, pgx.ErrNoRows) {
		return shippingtax.Destination{}, ErrAddressNotFound
	}
	if err != nil {
		return shippingtax.Destination{}, err
	}

	country = strings.ToUpper(strings.TrimSpace(country))
	region = strings.ToUpper(strings.TrimSpace(region))
	dest := shippingtax.Destination{
		Zone:          strings.ToLower(country),
		Jurisdiction:  region,
		CountryCode:   country,
		International: country != strings.ToUpper(r.HomeCountry),
	}
	if !dest.International && region != "" {
		dest.Zone = strings.ToLower(country + "-" + region)
	}
	return dest, nil
}
