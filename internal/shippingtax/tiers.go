package shippingtax

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pasar/internal/money"
)

// TierClient quotes from a built-in weight-tiered rate card. It serves as the
// default RateClient when no carrier integration is configured.
type TierClient struct {
	// FreeShippingOver grants free standard shipping at or above this item
	// subtotal. Zero disables the promotion.
	FreeShippingOver money.Money
}

type tier struct {
	upToGrams int
	price     string
}

var (
	standardTiers  = []tier{{2000, "9.99"}, {5000, "14.99"}, {1 << 30, "19.99"}}
	expressTiers   = []tier{{2000, "19.99"}, {5000, "29.99"}, {1 << 30, "39.99"}}
	overnightTiers = []tier{{2000, "29.99"}, {5000, "44.99"}, {1 << 30, "59.99"}}

	internationalStandardSurcharge = decimal.RequireFromString("15")
	internationalExpressSurcharge  = decimal.RequireFromString("25")
)

// Rates implements RateClient. Overnight delivery is domestic only.
func (c TierClient) Rates(ctx context.Context, req RateReq) ([]Option, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	currency := req.Subtotal.Currency()

	standard, err := tierPrice(standardTiers, req.WeightGrams, currency)
	if err != nil {
		return nil, err
	}
	if req.International {
		surcharge, serr := money.New(internationalStandardSurcharge, currency)
		if serr != nil {
			return nil, serr
		}
		standard, err = standard.Add(surcharge)
		if err != nil {
			return nil, err
		}
	}
	if !c.FreeShippingOver.IsZero() && c.FreeShippingOver.Currency() == currency {
		if cmp, cerr := req.Subtotal.Cmp(c.FreeShippingOver); cerr == nil && cmp >= 0 {
			standard = money.Zero(currency)
		}
	}

	express, err := tierPrice(expressTiers, req.WeightGrams, currency)
	if err != nil {
		return nil, err
	}
	if req.International {
		surcharge, serr := money.New(internationalExpressSurcharge, currency)
		if serr != nil {
			return nil, serr
		}
		express, err = express.Add(surcharge)
		if err != nil {
			return nil, err
		}
	}

	standardETA := "5-7 days"
	expressETA := "2-3 days"
	if req.International {
		standardETA = "10-15 days"
		expressETA = "5-7 days"
	}
	options := []Option{
		{ID: "standard", Name: "Standard Shipping", Carrier: "USPS", Price: standard, ETA: standardETA},
		{ID: "express", Name: "Express Shipping", Carrier: "FedEx", Price: express, ETA: expressETA},
	}
	if !req.International {
		overnight, oerr := tierPrice(overnightTiers, req.WeightGrams, currency)
		if oerr != nil {
			return nil, oerr
		}
		options = append(options, Option{ID: "overnight", Name: "Overnight Delivery", Carrier: "UPS", Price: overnight, ETA: "1 day"})
	}
	return options, nil
}

func tierPrice(tiers []tier, weightGrams int, currency string) (money.Money, error) {
	for _, t := range tiers {
		if weightGrams <= t.upToGrams {
			return money.FromString(t.price, currency)
		}
	}
	return money.FromString(tiers[len(tiers)-1].price, currency)
}
