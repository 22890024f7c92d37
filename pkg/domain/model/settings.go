package model

import "context"

type Settings struct {
	DeliveryEnabled bool `json:"deliveryEnabled"`
}

type SettingsRepository interface {
	Get(ctx context.Context) (Settings, error)
	Save(ctx context.Context, settings Settings) error
}
