package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = NewValidationError("quantity", "must be at least 1")
	ErrNegativePrice   = NewValidationError("price", "cannot be negative")
)

// ProductSnapshot is the part of a Product frozen into a cart or order line.
type ProductSnapshot struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ExtraSnapshot is an Extra as it was when it was selected. A missing isFree
// flag decodes as false, so an unflagged extra is charged.
type ExtraSnapshot struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	IsFree bool            `json:"isFree"`
}

type LineItem struct {
	Product  ProductSnapshot `json:"product"`
	Quantity int             `json:"quantity"`
	Extras   []ExtraSnapshot `json:"extras"`
}

// ExtraIDs returns the distinct extra ids of the line in ascending order.
func (li LineItem) ExtraIDs() []int64 {
	seen := make(map[int64]struct{}, len(li.Extras))
	ids := make([]int64, 0, len(li.Extras))
	for _, extra := range li.Extras {
		if _, ok := seen[extra.ID]; ok {
			continue
		}
		seen[extra.ID] = struct{}{}
		ids = append(ids, extra.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SameSelection reports whether two lines hold the same product with the same
// set of extras, regardless of the order the extras were picked in.
func (li LineItem) SameSelection(other LineItem) bool {
	if li.Product.ID != other.Product.ID {
		return false
	}
	a, b := li.ExtraIDs(), other.ExtraIDs()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (li LineItem) Validate() error {
	if li.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if li.Product.Price.IsNegative() {
		return ErrNegativePrice
	}
	for _, extra := range li.Extras {
		if extra.Price.IsNegative() {
			return ErrNegativePrice
		}
	}
	return nil
}

// DedupExtras drops repeated extra ids, keeping the first occurrence.
func DedupExtras(extras []ExtraSnapshot) []ExtraSnapshot {
	seen := make(map[int64]struct{}, len(extras))
	out := make([]ExtraSnapshot, 0, len(extras))
	for _, extra := range extras {
		if _, ok := seen[extra.ID]; ok {
			continue
		}
		seen[extra.ID] = struct{}{}
		out = append(out, extra)
	}
	return out
}
