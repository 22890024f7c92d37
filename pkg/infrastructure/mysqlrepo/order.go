package mysqlrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"storefront/pkg/domain/model"
)

const orderColumns = `id, customer_name, customer_phone, customer_address, delivery_type, status,
	payment_status, payment_id, payment_expires_at, total, idempotency_key, version, created_at, updated_at`

type orderRow struct {
	ID              string          `db:"id"`
	CustomerName    string          `db:"customer_name"`
	CustomerPhone   string          `db:"customer_phone"`
	CustomerAddress string          `db:"customer_address"`
	DeliveryType    string          `db:"delivery_type"`
	Status          string          `db:"status"`
	PaymentStatus   string          `db:"payment_status"`
	PaymentID       sql.NullString  `db:"payment_id"`
	PaymentExpires  sql.NullTime    `db:"payment_expires_at"`
	Total           decimal.Decimal `db:"total"`
	IdempotencyKey  sql.NullString  `db:"idempotency_key"`
	Version         int             `db:"version"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r orderRow) toModel() (model.Order, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return model.Order{}, persistenceError(err, "decode order id")
	}
	order := model.Order{
		ID:              id,
		CustomerName:    r.CustomerName,
		CustomerPhone:   r.CustomerPhone,
		CustomerAddress: r.CustomerAddress,
		DeliveryType:    model.DeliveryType(r.DeliveryType),
		Status:          model.OrderStatus(r.Status),
		PaymentStatus:   model.PaymentStatus(r.PaymentStatus),
		PaymentID:       r.PaymentID.String,
		Total:           r.Total,
		IdempotencyKey:  r.IdempotencyKey.String,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.PaymentExpires.Valid {
		expires := r.PaymentExpires.Time.UTC()
		order.PaymentExpiresAt = &expires
	}
	return order, nil
}

type itemRow struct {
	ID           int64               `db:"id"`
	OrderID      string              `db:"order_id"`
	ProductID    int64               `db:"product_id"`
	ProductName  string              `db:"product_name"`
	ProductPrice decimal.Decimal     `db:"product_price"`
	Quantity     int                 `db:"quantity"`
	ExtraID      sql.NullInt64       `db:"extra_id"`
	ExtraName    sql.NullString      `db:"extra_name"`
	ExtraPrice   decimal.NullDecimal `db:"extra_price"`
	ExtraIsFree  sql.NullBool        `db:"extra_is_free"`
}

type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) NextID() (uuid.UUID, error) {
	return uuid.NewRandom()
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID.String(), order.CustomerName, order.CustomerPhone, order.CustomerAddress,
			string(order.DeliveryType), string(order.Status), string(order.PaymentStatus),
			nullString(order.PaymentID), nullTime(order.PaymentExpiresAt), order.Total, nullString(order.IdempotencyKey),
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			return persistenceError(err, "insert order")
		}

		for position, item := range order.Items {
			result, err := tx.ExecContext(ctx, `INSERT INTO order_items
				(order_id, position, product_id, product_name, product_price, quantity)
				VALUES (?, ?, ?, ?, ?, ?)`,
				order.ID.String(), position, item.Product.ID, item.Product.Name, item.Product.Price, item.Quantity,
			)
			if err != nil {
				return persistenceError(err, "insert order item")
			}
			itemID, err := result.LastInsertId()
			if err != nil {
				return persistenceError(err, "insert order item")
			}
			for extraPosition, extra := range item.Extras {
				_, err := tx.ExecContext(ctx, `INSERT INTO order_item_extras
					(order_item_id, position, extra_id, name, price, is_free)
					VALUES (?, ?, ?, ?, ?, ?)`,
					itemID, extraPosition, extra.ID, extra.Name, extra.Price, extra.IsFree,
				)
				if err != nil {
					return persistenceError(err, "insert order item extra")
				}
			}
		}
		return nil
	})
}

func (r *OrderRepository) Find(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var row orderRow
	err := r.db.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrOrderNotFound
	}
	if err != nil {
		return nil, persistenceError(err, "select order")
	}
	orders, err := r.hydrate(ctx, []orderRow{row})
	if err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *OrderRepository) FindPayableByIdempotencyKey(ctx context.Context, key string) (*model.Order, error) {
	var row orderRow
	err := r.db.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM orders
		WHERE idempotency_key = ? AND status <> ? AND payment_status = ?
		ORDER BY created_at DESC LIMIT 1`,
		key, string(model.StatusCancelled), string(model.PaymentPending),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrOrderNotFound
	}
	if err != nil {
		return nil, persistenceError(err, "select order by idempotency key")
	}
	orders, err := r.hydrate(ctx, []orderRow{row})
	if err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// Update writes the mutable order fields guarded by the previous version.
func (r *OrderRepository) Update(ctx context.Context, order *model.Order) error {
	result, err := r.db.ExecContext(ctx, `UPDATE orders
		SET status = ?, payment_status = ?, payment_id = ?, payment_expires_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(order.Status), string(order.PaymentStatus), nullString(order.PaymentID), nullTime(order.PaymentExpiresAt),
		order.Version, order.UpdatedAt, order.ID.String(), order.Version-1,
	)
	if err != nil {
		return persistenceError(err, "update order")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistenceError(err, "update order")
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	err = r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = ?)`, order.ID.String())
	if err != nil {
		return persistenceError(err, "check order")
	}
	if !exists {
		return model.ErrOrderNotFound
	}
	return model.ErrOptimisticLock
}

func (r *OrderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id.String())
	if err != nil {
		return persistenceError(err, "delete order")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistenceError(err, "delete order")
	}
	if affected == 0 {
		return model.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) List(ctx context.Context) ([]model.Order, error) {
	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`); err != nil {
		return nil, persistenceError(err, "select orders")
	}
	return r.hydrate(ctx, rows)
}

func (r *OrderRepository) ListAwaitingPayment(ctx context.Context, cutoff time.Time) ([]model.Order, error) {
	var rows []orderRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+orderColumns+` FROM orders
		WHERE status = ? AND payment_status = ? AND created_at < ?
		ORDER BY created_at`,
		string(model.StatusPending), string(model.PaymentPending), cutoff.UTC(),
	)
	if err != nil {
		return nil, persistenceError(err, "select orders awaiting payment")
	}
	return r.hydrate(ctx, rows)
}

// hydrate converts rows and attaches their items, loaded in one query.
func (r *OrderRepository) hydrate(ctx context.Context, rows []orderRow) ([]model.Order, error) {
	orders := make([]model.Order, 0, len(rows))
	if len(rows) == 0 {
		return orders, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	query, args, err := sqlx.In(`SELECT i.id, i.order_id, i.product_id, i.product_name, i.product_price, i.quantity,
			e.extra_id, e.name AS extra_name, e.price AS extra_price, e.is_free AS extra_is_free
		FROM order_items i
		LEFT JOIN order_item_extras e ON e.order_item_id = i.id
		WHERE i.order_id IN (?)
		ORDER BY i.order_id, i.position, e.position`, ids)
	if err != nil {
		return nil, persistenceError(err, "build order items query")
	}
	var itemRows []itemRow
	if err := r.db.SelectContext(ctx, &itemRows, r.db.Rebind(query), args...); err != nil {
		return nil, persistenceError(err, "select order items")
	}

	items := make(map[string][]model.LineItem, len(rows))
	lastItemID := map[string]int64{}
	for _, row := range itemRows {
		lines := items[row.OrderID]
		if last, ok := lastItemID[row.OrderID]; !ok || last != row.ID {
			lines = append(lines, model.LineItem{
				Product:  model.ProductSnapshot{ID: row.ProductID, Name: row.ProductName, Price: row.ProductPrice},
				Quantity: row.Quantity,
			})
			lastItemID[row.OrderID] = row.ID
		}
		if row.ExtraID.Valid {
			line := &lines[len(lines)-1]
			line.Extras = append(line.Extras, model.ExtraSnapshot{
				ID:     row.ExtraID.Int64,
				Name:   row.ExtraName.String,
				Price:  row.ExtraPrice.Decimal,
				IsFree: row.ExtraIsFree.Bool,
			})
		}
		items[row.OrderID] = lines
	}

	for _, row := range rows {
		order, err := row.toModel()
		if err != nil {
			return nil, err
		}
		order.Items = items[row.ID]
		orders = append(orders, order)
	}
	return orders, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
