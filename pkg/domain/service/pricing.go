package service

import (
	"github.com/shopspring/decimal"

	"storefront/pkg/domain/model"
)

// LineTotal is product price times quantity plus the price of every paid
// extra. Extras are charged once per line, not per unit.
func LineTotal(item model.LineItem) decimal.Decimal {
	total := item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
	for _, extra := range item.Extras {
		if extra.IsFree {
			continue
		}
		total = total.Add(extra.Price)
	}
	return total
}

// OrderTotal sums LineTotal over items without intermediate rounding.
func OrderTotal(items []model.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(LineTotal(item))
	}
	return total
}
