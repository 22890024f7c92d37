package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"storefront/pkg/domain/model"
)

// Catalog holds categories, products and extras behind one lock so product
// extras and in-use checks stay consistent.
type Catalog struct {
	mu         sync.RWMutex
	seq        int64
	categories map[int64]model.Category
	products   map[int64]productRecord
	extras     map[int64]model.Extra
}

type productRecord struct {
	product  model.Product
	extraIDs []int64
}

func NewCatalog() *Catalog {
	return &Catalog{
		categories: make(map[int64]model.Category),
		products:   make(map[int64]productRecord),
		extras:     make(map[int64]model.Extra),
	}
}

func (c *Catalog) Categories() model.CategoryRepository { return (*categoryRepository)(c) }
func (c *Catalog) Products() model.ProductRepository    { return (*productRepository)(c) }
func (c *Catalog) Extras() model.ExtraRepository        { return (*extraRepository)(c) }

func (c *Catalog) nextID() int64 {
	c.seq++
	return c.seq
}

type categoryRepository Catalog

func (r *categoryRepository) Create(_ context.Context, category *model.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slugTaken(category.Slug, 0) {
		return model.ErrSlugTaken
	}
	category.ID = (*Catalog)(r).nextID()
	r.categories[category.ID] = *category
	return nil
}

func (r *categoryRepository) Update(_ context.Context, category *model.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[category.ID]; !ok {
		return model.ErrCategoryNotFound
	}
	if r.slugTaken(category.Slug, category.ID) {
		return model.ErrSlugTaken
	}
	r.categories[category.ID] = *category
	return nil
}

func (r *categoryRepository) slugTaken(slug string, exceptID int64) bool {
	for id, category := range r.categories {
		if id != exceptID && category.Slug == slug {
			return true
		}
	}
	return false
}

func (r *categoryRepository) Find(_ context.Context, id int64) (*model.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	category, ok := r.categories[id]
	if !ok {
		return nil, model.ErrCategoryNotFound
	}
	return &category, nil
}

func (r *categoryRepository) FindBySlug(_ context.Context, slug string) (*model.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, category := range r.categories {
		if category.Slug == slug {
			found := category
			return &found, nil
		}
	}
	return nil, model.ErrCategoryNotFound
}

func (r *categoryRepository) List(_ context.Context, query model.ListQuery) ([]model.Category, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []model.Category
	for _, category := range r.categories {
		if contains(category.Name, query.Search) {
			matched = append(matched, category)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return page(matched, query), len(matched), nil
}

func (r *categoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[id]; !ok {
		return model.ErrCategoryNotFound
	}
	for _, record := range r.products {
		if record.product.CategoryID == id {
			return model.ErrCategoryInUse
		}
	}
	delete(r.categories, id)
	return nil
}

type productRepository Catalog

func (r *productRepository) Create(_ context.Context, product *model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	product.ID = (*Catalog)(r).nextID()
	r.products[product.ID] = newProductRecord(*product)
	return nil
}

func (r *productRepository) Update(_ context.Context, product *model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[product.ID]; !ok {
		return model.ErrProductNotFound
	}
	r.products[product.ID] = newProductRecord(*product)
	return nil
}

func (r *productRepository) Find(_ context.Context, id int64) (*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.products[id]
	if !ok {
		return nil, model.ErrProductNotFound
	}
	product := r.hydrate(record)
	return &product, nil
}

func (r *productRepository) List(_ context.Context, query model.ListQuery) ([]model.Product, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []model.Product
	for _, record := range r.products {
		if query.CategoryID != 0 && record.product.CategoryID != query.CategoryID {
			continue
		}
		if !contains(record.product.Name, query.Search) {
			continue
		}
		matched = append(matched, r.hydrate(record))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return page(matched, query), len(matched), nil
}

func (r *productRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return model.ErrProductNotFound
	}
	delete(r.products, id)
	return nil
}

// hydrate attaches the current extras, skipping any deleted since.
func (r *productRepository) hydrate(record productRecord) model.Product {
	product := record.product
	product.Extras = make([]model.Extra, 0, len(record.extraIDs))
	for _, id := range record.extraIDs {
		if extra, ok := r.extras[id]; ok {
			product.Extras = append(product.Extras, extra)
		}
	}
	return product
}

func newProductRecord(product model.Product) productRecord {
	ids := make([]int64, 0, len(product.Extras))
	for _, extra := range product.Extras {
		ids = append(ids, extra.ID)
	}
	product.Extras = nil
	return productRecord{product: product, extraIDs: ids}
}

type extraRepository Catalog

func (r *extraRepository) Create(_ context.Context, extra *model.Extra) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	extra.ID = (*Catalog)(r).nextID()
	r.extras[extra.ID] = *extra
	return nil
}

func (r *extraRepository) Update(_ context.Context, extra *model.Extra) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.extras[extra.ID]; !ok {
		return model.ErrExtraNotFound
	}
	r.extras[extra.ID] = *extra
	return nil
}

func (r *extraRepository) Find(_ context.Context, id int64) (*model.Extra, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	extra, ok := r.extras[id]
	if !ok {
		return nil, model.ErrExtraNotFound
	}
	return &extra, nil
}

func (r *extraRepository) FindMany(_ context.Context, ids []int64) ([]model.Extra, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	extras := make([]model.Extra, 0, len(ids))
	for _, id := range ids {
		if extra, ok := r.extras[id]; ok {
			extras = append(extras, extra)
		}
	}
	return extras, nil
}

func (r *extraRepository) List(_ context.Context, query model.ListQuery) ([]model.Extra, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []model.Extra
	for _, extra := range r.extras {
		if contains(extra.Name, query.Search) {
			matched = append(matched, extra)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return page(matched, query), len(matched), nil
}

func (r *extraRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.extras[id]; !ok {
		return model.ErrExtraNotFound
	}
	for _, record := range r.products {
		for _, extraID := range record.extraIDs {
			if extraID == id {
				return model.ErrExtraInUse
			}
		}
	}
	delete(r.extras, id)
	return nil
}

func contains(name, search string) bool {
	search = strings.TrimSpace(search)
	return search == "" || strings.Contains(strings.ToLower(name), strings.ToLower(search))
}

func page[T any](items []T, query model.ListQuery) []T {
	query = query.Normalize()
	start := query.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + query.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
