package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"storefront/pkg/domain/model"
)

var (
	ErrNameRequired   = model.NewValidationError("name", "is required")
	ErrInvalidSlug    = model.NewValidationError("name", "must contain at least one letter or digit")
	ErrCategoryNeeded = model.NewValidationError("categoryId", "is required")
)

type CategoryInput struct {
	Name        string
	Description string
	ImageURL    string
}

type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	ImageURL    string
	CategoryID  int64
	ExtraIDs    []int64
}

type ExtraInput struct {
	Name   string
	Price  decimal.Decimal
	IsFree bool
}

type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type CatalogService interface {
	CreateCategory(ctx context.Context, input CategoryInput) (*model.Category, error)
	UpdateCategory(ctx context.Context, id int64, input CategoryInput) (*model.Category, error)
	GetCategory(ctx context.Context, id int64) (*model.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*model.Category, error)
	ListCategories(ctx context.Context, query model.ListQuery) (Page[model.Category], error)
	DeleteCategory(ctx context.Context, id int64) error

	CreateProduct(ctx context.Context, input ProductInput) (*model.Product, error)
	UpdateProduct(ctx context.Context, id int64, input ProductInput) (*model.Product, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context, query model.ListQuery) (Page[model.Product], error)
	DeleteProduct(ctx context.Context, id int64) error

	CreateExtra(ctx context.Context, input ExtraInput) (*model.Extra, error)
	UpdateExtra(ctx context.Context, id int64, input ExtraInput) (*model.Extra, error)
	GetExtra(ctx context.Context, id int64) (*model.Extra, error)
	ListExtras(ctx context.Context, query model.ListQuery) (Page[model.Extra], error)
	DeleteExtra(ctx context.Context, id int64) error

	ResolveLineItem(ctx context.Context, productID int64, quantity int, extraIDs []int64) (model.LineItem, error)
}

func NewCatalogService(categories model.CategoryRepository, products model.ProductRepository, extras model.ExtraRepository) CatalogService {
	return &catalogService{
		categories: categories,
		products:   products,
		extras:     extras,
		now:        time.Now,
	}
}

type catalogService struct {
	categories model.CategoryRepository
	products   model.ProductRepository
	extras     model.ExtraRepository
	now        func() time.Time
}

func (s *catalogService) CreateCategory(ctx context.Context, input CategoryInput) (*model.Category, error) {
	if err := model.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	category := &model.Category{}
	if err := s.fillCategory(ctx, category, input); err != nil {
		return nil, err
	}
	category.CreatedAt = category.UpdatedAt
	if err := s.categories.Create(ctx, category); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"categoryId": category.ID, "slug": category.Slug}).Info("category created")
	return category, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, id int64, input CategoryInput) (*model.Category, error) {
	if err := model.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	category, err := s.categories.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.fillCategory(ctx, category, input); err != nil {
		return nil, err
	}
	if err := s.categories.Update(ctx, category); err != nil {
		return nil, err
	}
	return category, nil
}

func (s *catalogService) fillCategory(ctx context.Context, category *model.Category, input CategoryInput) error {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return ErrNameRequired
	}
	slug := Slugify(name)
	if slug == "" {
		return ErrInvalidSlug
	}

	existing, err := s.categories.FindBySlug(ctx, slug)
	switch {
	case err == nil && existing.ID != category.ID:
		return model.ErrSlugTaken
	case err != nil && !errors.Is(err, model.ErrCategoryNotFound):
		return err
	}

	category.Name = name
	category.Slug = slug
	category.Description = strings.TrimSpace(input.Description)
	category.ImageURL = strings.TrimSpace(input.ImageURL)
	category.UpdatedAt = s.now().UTC()
	return nil
}

func (s *catalogService) GetCategory(ctx context.Context, id int64) (*model.Category, error) {
	return s.categories.Find(ctx, id)
}

func (s *catalogService) GetCategoryBySlug(ctx context.Context, slug string) (*model.Category, error) {
	return s.categories.FindBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
}

func (s *catalogService) ListCategories(ctx context.Context, query model.ListQuery) (Page[model.Category], error) {
	query = query.Normalize()
	items, total, err := s.categories.List(ctx, query)
	if err != nil {
		return Page[model.Category]{}, err
	}
	return Page[model.Category]{Items: items, Total: total, Page: query.Page, Limit: query.Limit}, nil
}

func (s *catalogService) DeleteCategory(ctx context.Context, id int64) error {
	if err := model.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.categories.Delete(ctx, id)
}

func (s *catalogService) CreateProduct(ctx context.Context, input ProductInput) (*model.Product, error) {
	if err := model.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	product := &model.Product{}
	if err := s.fillProduct(ctx, product, input); err != nil {
		return nil, err
	}
	product.CreatedAt = product.UpdatedAt
	if err := s.products.Create(ctx, product); err != nil {
		return nil, err
	}
	log.WithField("productId", product.ID).Info("product created")
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, id int64, input ProductInput) (*model.Product, error) {
	if err := model.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	product, err := s.products.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.fillProduct(ctx, product, input); err != nil {
		return nil, err
	}
	if err := s.products.Update(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *catalogService) fillProduct(ctx context.Context, product *model.Product, input ProductInput) error {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return ErrNameRequired
	}
	if input.Price.IsNegative() {
		return model.ErrNegativePrice
	}
	if input.CategoryID == 0 {
		return ErrCategoryNeeded
	}
	if _, err := s.categories.Find(ctx, input.CategoryID); err != nil {
		return err
	}

	ids := uniqueIDs(input.ExtraIDs)
	extras, err := s.extras.FindMany(ctx, ids)
	if err != nil {
		return err
	}
	if len(extras) != len(ids) {
		return model.ErrExtraNotFound
	}

	product.Name = name
	product.Description = strings.TrimSpace(input.Description)
	product.Price = input.Price
	product.ImageURL = strings.TrimSpace(input.ImageURL)
	product.CategoryID = input.CategoryID
	product.Extras = extras
	product.UpdatedAt = s.now().UTC()
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.products.Find(ctx, id)
}

func (s *catalogService) ListProducts(ctx context.Context, query model.ListQuery) (Page[model.Product], error) {
	query = query.Normalize()
	items, total, err := s.products.List(ctx, query)
	if err != nil {
		return Page[model.Product]{}, err
	}
	return Page[model.Product]{Items: items, Total: total, Page: query.Page, Limit: query.Limit}, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, id int64) error {
	if err := model.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.products.Delete(ctx, id)
}

func (s *catalogService) CreateExtra(ctx context.Context, input ExtraInput) (*model.Extra, error) {
	if err := model.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	extra := &model.Extra{}
	if err := s.fillExtra(extra, input); err != nil {
		return nil, err
	}
	extra.CreatedAt = extra.UpdatedAt
	if err := s.extras.Create(ctx, extra); err != nil {
		return nil, err
	}
	return extra, nil
}

func (s *catalogService) UpdateExtra(ctx context.Context, id int64, input ExtraInput) (*model.Extra, error) {
	if err := model.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	extra, err := s.extras.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.fillExtra(extra, input); err != nil {
		return nil, err
	}
	if err := s.extras.Update(ctx, extra); err != nil {
		return nil, err
	}
	return extra, nil
}

func (s *catalogService) fillExtra(extra *model.Extra, input ExtraInput) error {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return ErrNameRequired
	}
	if input.Price.IsNegative() {
		return model.ErrNegativePrice
	}
	extra.Name = name
	extra.Price = input.Price
	extra.IsFree = input.IsFree
	extra.UpdatedAt = s.now().UTC()
	return nil
}

func (s *catalogService) GetExtra(ctx context.Context, id int64) (*model.Extra, error) {
	return s.extras.Find(ctx, id)
}

func (s *catalogService) ListExtras(ctx context.Context, query model.ListQuery) (Page[model.Extra], error) {
	query = query.Normalize()
	items, total, err := s.extras.List(ctx, query)
	if err != nil {
		return Page[model.Extra]{}, err
	}
	return Page[model.Extra]{Items: items, Total: total, Page: query.Page, Limit: query.Limit}, nil
}

func (s *catalogService) DeleteExtra(ctx context.Context, id int64) error {
	if err := model.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.extras.Delete(ctx, id)
}

// ResolveLineItem builds a line item from the product and extras as they are
// stored now. Extras must be offered with the product.
func (s *catalogService) ResolveLineItem(ctx context.Context, productID int64, quantity int, extraIDs []int64) (model.LineItem, error) {
	product, err := s.products.Find(ctx, productID)
	if err != nil {
		return model.LineItem{}, err
	}

	item := model.LineItem{Product: product.Snapshot(), Quantity: quantity}
	for _, id := range uniqueIDs(extraIDs) {
		extra, ok := product.Extra(id)
		if !ok {
			return model.LineItem{}, model.NewValidationError("extras",
				fmt.Sprintf("extra %d is not offered with product %d", id, productID))
		}
		item.Extras = append(item.Extras, extra.Snapshot())
	}
	if err := item.Validate(); err != nil {
		return model.LineItem{}, err
	}
	return item, nil
}

// Slugify lowercases name, strips diacritics and joins the remaining words
// with hyphens: "Açaí & Sucos" becomes "acai-sucos".
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, name)
	if err != nil {
		plain = name
	}

	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(plain) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if hyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			hyphen = false
			b.WriteRune(r)
		default:
			hyphen = true
		}
	}
	return b.String()
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
