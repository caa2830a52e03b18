package checkout

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

// ShippingTier charges RatePerKmCents for each of WidthKm kilometers once the
// whole tier is covered.
type ShippingTier struct {
	WidthKm        float64 `json:"width_km"`
	RatePerKmCents int64   `json:"rate_per_km_cents"`
}

// ShippingTiers is an ordered tier table. It decodes from
// "widthKm:centsPerKm,widthKm:centsPerKm".
type ShippingTiers []ShippingTier

// Decode implements envconfig.Decoder.
func (t *ShippingTiers) Decode(value string) error {
	parsed, err := ParseShippingTiers(value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseShippingTiers parses a tier table definition.
func ParseShippingTiers(value string) (ShippingTiers, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	var tiers ShippingTiers
	for _, raw := range strings.Split(value, ",") {
		parts := strings.Split(strings.TrimSpace(raw), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid shipping tier %q", raw)
		}
		width, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil || width <= 0 || math.IsInf(width, 0) {
			return nil, fmt.Errorf("invalid shipping tier width %q", parts[0])
		}
		rate, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || rate < 0 {
			return nil, fmt.Errorf("invalid shipping tier rate %q", parts[1])
		}
		tiers = append(tiers, ShippingTier{WidthKm: width, RatePerKmCents: rate})
	}
	return tiers, nil
}

// FeeForDistance walks the tiers in order, charging each tier in full while the
// remaining distance covers it. The first tier the remainder cannot fill ends
// the walk and the uncovered remainder is not charged.
func (t ShippingTiers) FeeForDistance(distanceKm float64) (int64, error) {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		return 0, pkgerrors.Newf(pkgerrors.CodeInternal, "invalid shipping distance %v", distanceKm)
	}

	remaining := decimal.NewFromFloat(distanceKm)
	fee := decimal.Zero
	for _, tier := range t {
		if remaining.IsZero() {
			break
		}
		width := decimal.NewFromFloat(tier.WidthKm)
		if remaining.LessThan(width) {
			// TODO: pro-rate the partial tier once pricing signs off on partial-km billing.
			break
		}
		fee = fee.Add(width.Mul(decimal.NewFromInt(tier.RatePerKmCents)))
		remaining = remaining.Sub(width)
	}
	return fee.Round(0).IntPart(), nil
}
