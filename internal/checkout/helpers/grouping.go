package helpers

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ShopItems is one shop's items in the order they were first seen.
type ShopItems[T any] struct {
	ShopID uuid.UUID
	Items  []T
}

// GroupByShop partitions items by shop, keeping shops and items in input order.
func GroupByShop[T any](items []T, shopOf func(T) uuid.UUID) []ShopItems[T] {
	index := make(map[uuid.UUID]int)
	groups := make([]ShopItems[T], 0)
	for _, item := range items {
		shopID := shopOf(item)
		pos, ok := index[shopID]
		if !ok {
			pos = len(groups)
			index[shopID] = pos
			groups = append(groups, ShopItems[T]{ShopID: shopID})
		}
		groups[pos].Items = append(groups[pos].Items, item)
	}
	return groups
}

// AllocateProportional splits amount across weights proportionally, never
// giving a slot more than its weight. Rounding cents go to the last slots
// first. The shares always sum to amount.
func AllocateProportional(amount int64, weights []int64) ([]int64, error) {
	shares := make([]int64, len(weights))
	if amount == 0 {
		return shares, nil
	}
	if amount < 0 {
		return nil, fmt.Errorf("negative allocation %d", amount)
	}

	var total int64
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("negative weight %d", w)
		}
		total += w
	}
	if amount > total {
		return nil, fmt.Errorf("allocation %d exceeds total weight %d", amount, total)
	}

	amountDec := decimal.NewFromInt(amount)
	totalDec := decimal.NewFromInt(total)
	var allocated int64
	for i, w := range weights {
		shares[i] = amountDec.Mul(decimal.NewFromInt(w)).Div(totalDec).Floor().IntPart()
		allocated += shares[i]
	}

	remainder := amount - allocated
	for i := len(weights) - 1; i >= 0 && remainder > 0; i-- {
		room := weights[i] - shares[i]
		if room <= 0 {
			continue
		}
		take := min(room, remainder)
		shares[i] += take
		remainder -= take
	}
	return shares, nil
}
