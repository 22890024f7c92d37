package mysqlrepo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"storefront/pkg/domain/model"
)

type categoryRow struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	Slug        string         `db:"slug"`
	Description sql.NullString `db:"description"`
	ImageURL    sql.NullString `db:"image_url"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r categoryRow) toModel() model.Category {
	return model.Category{
		ID:          r.ID,
		Name:        r.Name,
		Slug:        r.Slug,
		Description: r.Description.String,
		ImageURL:    r.ImageURL.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type CategoryRepository struct {
	db *sqlx.DB
}

func NewCategoryRepository(db *sqlx.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) Create(ctx context.Context, category *model.Category) error {
	result, err := r.db.ExecContext(ctx, `INSERT INTO categories
		(name, slug, description, image_url, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		category.Name, category.Slug, nullString(category.Description), nullString(category.ImageURL),
		category.CreatedAt, category.UpdatedAt,
	)
	if mysqlErrorNumber(err) == errDuplicateEntry {
		return model.ErrSlugTaken
	}
	if err != nil {
		return persistenceError(err, "insert category")
	}
	category.ID, err = result.LastInsertId()
	return persistenceError(err, "insert category")
}

func (r *CategoryRepository) Update(ctx context.Context, category *model.Category) error {
	result, err := r.db.ExecContext(ctx, `UPDATE categories
		SET name = ?, slug = ?, description = ?, image_url = ?, updated_at = ? WHERE id = ?`,
		category.Name, category.Slug, nullString(category.Description), nullString(category.ImageURL),
		category.UpdatedAt, category.ID,
	)
	if mysqlErrorNumber(err) == errDuplicateEntry {
		return model.ErrSlugTaken
	}
	return r.expectRow(ctx, result, err, category.ID, "update category")
}

func (r *CategoryRepository) expectRow(ctx context.Context, result sql.Result, err error, id int64, op string) error {
	if err != nil {
		return persistenceError(err, op)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistenceError(err, op)
	}
	if affected > 0 {
		return nil
	}
	_, err = r.Find(ctx, id)
	return err
}

func (r *CategoryRepository) Find(ctx context.Context, id int64) (*model.Category, error) {
	return r.findOne(ctx, `SELECT * FROM categories WHERE id = ?`, id)
}

func (r *CategoryRepository) FindBySlug(ctx context.Context, slug string) (*model.Category, error) {
	return r.findOne(ctx, `SELECT * FROM categories WHERE slug = ?`, slug)
}

func (r *CategoryRepository) findOne(ctx context.Context, query string, arg interface{}) (*model.Category, error) {
	var row categoryRow
	err := r.db.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrCategoryNotFound
	}
	if err != nil {
		return nil, persistenceError(err, "select category")
	}
	category := row.toModel()
	return &category, nil
}

func (r *CategoryRepository) List(ctx context.Context, query model.ListQuery) ([]model.Category, int, error) {
	where, args := searchClause(query, "")
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM categories`+where, args...); err != nil {
		return nil, 0, persistenceError(err, "count categories")
	}
	var rows []categoryRow
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM categories`+where+` ORDER BY name LIMIT ? OFFSET ?`,
		append(args, query.Limit, query.Offset())...)
	if err != nil {
		return nil, 0, persistenceError(err, "select categories")
	}
	categories := make([]model.Category, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, row.toModel())
	}
	return categories, total, nil
}

func (r *CategoryRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if mysqlErrorNumber(err) == errRowIsReferenced {
		return model.ErrCategoryInUse
	}
	return r.expectRow(ctx, result, err, id, "delete category")
}

type extraRow struct {
	ID        int64           `db:"id"`
	Name      string          `db:"name"`
	Price     decimal.Decimal `db:"price"`
	IsFree    bool            `db:"is_free"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r extraRow) toModel() model.Extra {
	return model.Extra{
		ID:        r.ID,
		Name:      r.Name,
		Price:     r.Price,
		IsFree:    r.IsFree,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type ExtraRepository struct {
	db *sqlx.DB
}

func NewExtraRepository(db *sqlx.DB) *ExtraRepository {
	return &ExtraRepository{db: db}
}

func (r *ExtraRepository) Create(ctx context.Context, extra *model.Extra) error {
	result, err := r.db.ExecContext(ctx, `INSERT INTO extras (name, price, is_free, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		extra.Name, extra.Price, extra.IsFree, extra.CreatedAt, extra.UpdatedAt,
	)
	if err != nil {
		return persistenceError(err, "insert extra")
	}
	extra.ID, err = result.LastInsertId()
	return persistenceError(err, "insert extra")
}

func (r *ExtraRepository) Update(ctx context.Context, extra *model.Extra) error {
	result, err := r.db.ExecContext(ctx, `UPDATE extras SET name = ?, price = ?, is_free = ?, updated_at = ? WHERE id = ?`,
		extra.Name, extra.Price, extra.IsFree, extra.UpdatedAt, extra.ID,
	)
	return r.expectRow(ctx, result, err, extra.ID, "update extra")
}

func (r *ExtraRepository) expectRow(ctx context.Context, result sql.Result, err error, id int64, op string) error {
	if err != nil {
		return persistenceError(err, op)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistenceError(err, op)
	}
	if affected > 0 {
		return nil
	}
	_, err = r.Find(ctx, id)
	return err
}

func (r *ExtraRepository) Find(ctx context.Context, id int64) (*model.Extra, error) {
	var row extraRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM extras WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrExtraNotFound
	}
	if err != nil {
		return nil, persistenceError(err, "select extra")
	}
	extra := row.toModel()
	return &extra, nil
}

func (r *ExtraRepository) FindMany(ctx context.Context, ids []int64) ([]model.Extra, error) {
	if len(ids) == 0 {
		return []model.Extra{}, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM extras WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, persistenceError(err, "build extras query")
	}
	var rows []extraRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, persistenceError(err, "select extras")
	}
	extras := make([]model.Extra, 0, len(rows))
	for _, row := range rows {
		extras = append(extras, row.toModel())
	}
	return extras, nil
}

func (r *ExtraRepository) List(ctx context.Context, query model.ListQuery) ([]model.Extra, int, error) {
	where, args := searchClause(query, "")
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM extras`+where, args...); err != nil {
		return nil, 0, persistenceError(err, "count extras")
	}
	var rows []extraRow
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM extras`+where+` ORDER BY name LIMIT ? OFFSET ?`,
		append(args, query.Limit, query.Offset())...)
	if err != nil {
		return nil, 0, persistenceError(err, "select extras")
	}
	extras := make([]model.Extra, 0, len(rows))
	for _, row := range rows {
		extras = append(extras, row.toModel())
	}
	return extras, total, nil
}

func (r *ExtraRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM extras WHERE id = ?`, id)
	if mysqlErrorNumber(err) == errRowIsReferenced {
		return model.ErrExtraInUse
	}
	return r.expectRow(ctx, result, err, id, "delete extra")
}

type productRow struct {
	ID          int64           `db:"id"`
	Name        string          `db:"name"`
	Description sql.NullString  `db:"description"`
	Price       decimal.Decimal `db:"price"`
	ImageURL    sql.NullString  `db:"image_url"`
	CategoryID  int64           `db:"category_id"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r productRow) toModel() model.Product {
	return model.Product{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description.String,
		Price:       r.Price,
		ImageURL:    r.ImageURL.String,
		CategoryID:  r.CategoryID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type productExtraRow struct {
	ProductID int64 `db:"product_id"`
	extraRow
}

type ProductRepository struct {
	db *sqlx.DB
}

func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, product *model.Product) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `INSERT INTO products
			(name, description, price, image_url, category_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			product.Name, nullString(product.Description), product.Price, nullString(product.ImageURL),
			product.CategoryID, product.CreatedAt, product.UpdatedAt,
		)
		if mysqlErrorNumber(err) == errNoReferencedRow {
			return model.ErrCategoryNotFound
		}
		if err != nil {
			return persistenceError(err, "insert product")
		}
		if product.ID, err = result.LastInsertId(); err != nil {
			return persistenceError(err, "insert product")
		}
		return replaceProductExtras(ctx, tx, product)
	})
}

func (r *ProductRepository) Update(ctx context.Context, product *model.Product) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE products
			SET name = ?, description = ?, price = ?, image_url = ?, category_id = ?, updated_at = ?
			WHERE id = ?`,
			product.Name, nullString(product.Description), product.Price, nullString(product.ImageURL),
			product.CategoryID, product.UpdatedAt, product.ID,
		)
		if mysqlErrorNumber(err) == errNoReferencedRow {
			return model.ErrCategoryNotFound
		}
		if err != nil {
			return persistenceError(err, "update product")
		}
		if affected, err := result.RowsAffected(); err != nil {
			return persistenceError(err, "update product")
		} else if affected == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)`, product.ID); err != nil {
				return persistenceError(err, "check product")
			}
			if !exists {
				return model.ErrProductNotFound
			}
		}
		return replaceProductExtras(ctx, tx, product)
	})
}

func replaceProductExtras(ctx context.Context, tx *sqlx.Tx, product *model.Product) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM product_extras WHERE product_id = ?`, product.ID); err != nil {
		return persistenceError(err, "clear product extras")
	}
	for _, extra := range product.Extras {
		_, err := tx.ExecContext(ctx, `INSERT INTO product_extras (product_id, extra_id) VALUES (?, ?)`, product.ID, extra.ID)
		if mysqlErrorNumber(err) == errNoReferencedRow {
			return model.ErrExtraNotFound
		}
		if err != nil {
			return persistenceError(err, "insert product extra")
		}
	}
	return nil
}

func (r *ProductRepository) Find(ctx context.Context, id int64) (*model.Product, error) {
	var row productRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrProductNotFound
	}
	if err != nil {
		return nil, persistenceError(err, "select product")
	}
	products, err := r.withExtras(ctx, []productRow{row})
	if err != nil {
		return nil, err
	}
	return &products[0], nil
}

func (r *ProductRepository) List(ctx context.Context, query model.ListQuery) ([]model.Product, int, error) {
	where, args := searchClause(query, "category_id")
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM products`+where, args...); err != nil {
		return nil, 0, persistenceError(err, "count products")
	}
	var rows []productRow
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM products`+where+` ORDER BY name LIMIT ? OFFSET ?`,
		append(args, query.Limit, query.Offset())...)
	if err != nil {
		return nil, 0, persistenceError(err, "select products")
	}
	products, err := r.withExtras(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return persistenceError(err, "delete product")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistenceError(err, "delete product")
	}
	if affected == 0 {
		return model.ErrProductNotFound
	}
	return nil
}

func (r *ProductRepository) withExtras(ctx context.Context, rows []productRow) ([]model.Product, error) {
	products := make([]model.Product, 0, len(rows))
	if len(rows) == 0 {
		return products, nil
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	query, args, err := sqlx.In(`SELECT pe.product_id, e.*
		FROM product_extras pe JOIN extras e ON e.id = pe.extra_id
		WHERE pe.product_id IN (?) ORDER BY e.name`, ids)
	if err != nil {
		return nil, persistenceError(err, "build product extras query")
	}
	var extraRows []productExtraRow
	if err := r.db.SelectContext(ctx, &extraRows, r.db.Rebind(query), args...); err != nil {
		return nil, persistenceError(err, "select product extras")
	}
	extras := make(map[int64][]model.Extra, len(rows))
	for _, row := range extraRows {
		extras[row.ProductID] = append(extras[row.ProductID], row.extraRow.toModel())
	}

	for _, row := range rows {
		product := row.toModel()
		product.Extras = extras[row.ID]
		if product.Extras == nil {
			product.Extras = []model.Extra{}
		}
		products = append(products, product)
	}
	return products, nil
}

// searchClause builds the WHERE part shared by catalog listings. filterColumn
// names the column compared against query.CategoryID, if any.
func searchClause(query model.ListQuery, filterColumn string) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if search := strings.TrimSpace(query.Search); search != "" {
		conditions = append(conditions, "name LIKE ?")
		args = append(args, "%"+escapeLike(search)+"%")
	}
	if filterColumn != "" && query.CategoryID != 0 {
		conditions = append(conditions, filterColumn+" = ?")
		args = append(args, query.CategoryID)
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
