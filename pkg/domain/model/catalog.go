package model

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrCategoryNotFound = NewError(ErrNotFound, "category not found")
	ErrProductNotFound  = NewError(ErrNotFound, "product not found")
	ErrExtraNotFound    = NewError(ErrNotFound, "extra not found")
	ErrCategoryInUse    = NewError(ErrConflict, "category still has products")
	ErrExtraInUse       = NewError(ErrConflict, "extra is still offered by a product")
	ErrSlugTaken        = NewError(ErrConflict, "category slug is already taken")
)

const DefaultPageLimit = 10

type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	CategoryID  int64           `json:"categoryId"`
	Extras      []Extra         `json:"extras"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{ID: p.ID, Name: p.Name, Price: p.Price}
}

// Extra looks up one of the extras offered with the product.
func (p Product) Extra(id int64) (Extra, bool) {
	for _, extra := range p.Extras {
		if extra.ID == id {
			return extra, true
		}
	}
	return Extra{}, false
}

type Extra struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	IsFree    bool            `json:"isFree"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (e Extra) Snapshot() ExtraSnapshot {
	return ExtraSnapshot{ID: e.ID, Name: e.Name, Price: e.Price, IsFree: e.IsFree}
}

// ListQuery selects one page of a catalog listing. Page is 1-based.
type ListQuery struct {
	Page       int
	Limit      int
	Search     string
	CategoryID int64
}

func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageLimit
	}
	return q
}

func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

type CategoryRepository interface {
	Create(ctx context.Context, category *Category) error
	Update(ctx context.Context, category *Category) error
	Find(ctx context.Context, id int64) (*Category, error)
	FindBySlug(ctx context.Context, slug string) (*Category, error)
	List(ctx context.Context, query ListQuery) ([]Category, int, error)
	Delete(ctx context.Context, id int64) error
}

// ProductRepository loads products together with their offered extras and
// stores the product/extra association from Product.Extras ids.
type ProductRepository interface {
	Create(ctx context.Context, product *Product) error
	Update(ctx context.Context, product *Product) error
	Find(ctx context.Context, id int64) (*Product, error)
	List(ctx context.Context, query ListQuery) ([]Product, int, error)
	Delete(ctx context.Context, id int64) error
}

type ExtraRepository interface {
	Create(ctx context.Context, extra *Extra) error
	Update(ctx context.Context, extra *Extra) error
	Find(ctx context.Context, id int64) (*Extra, error)
	FindMany(ctx context.Context, ids []int64) ([]Extra, error)
	List(ctx context.Context, query ListQuery) ([]Extra, int, error)
	Delete(ctx context.Context, id int64) error
}
