package mysqlrepo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"storefront/pkg/domain/model"
)

const settingsRowID = 1

type SettingsRepository struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context) (model.Settings, error) {
	var settings model.Settings
	err := r.db.GetContext(ctx, &settings.DeliveryEnabled, `SELECT delivery_enabled FROM settings WHERE id = ?`, settingsRowID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Settings{DeliveryEnabled: true}, nil
	}
	if err != nil {
		return model.Settings{}, persistenceError(err, "select settings")
	}
	return settings, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings model.Settings) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO settings (id, delivery_enabled) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE delivery_enabled = VALUES(delivery_enabled)`,
		settingsRowID, settings.DeliveryEnabled,
	)
	return persistenceError(err, "save settings")
}
