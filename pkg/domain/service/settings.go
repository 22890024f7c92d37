package service

import (
	"context"

	log "github.com/sirupsen/logrus"

	"storefront/pkg/domain/model"
)

type SettingsService interface {
	GetSettings(ctx context.Context) (model.Settings, error)
	UpdateSettings(ctx context.Context, settings model.Settings) (model.Settings, error)
}

func NewSettingsService(repo model.SettingsRepository) SettingsService {
	return &settingsService{repo: repo}
}

type settingsService struct {
	repo model.SettingsRepository
}

func (s *settingsService) GetSettings(ctx context.Context) (model.Settings, error) {
	return s.repo.Get(ctx)
}

func (s *settingsService) UpdateSettings(ctx context.Context, settings model.Settings) (model.Settings, error) {
	if err := model.RequireAdmin(ctx); err != nil {
		return model.Settings{}, err
	}
	if err := s.repo.Save(ctx, settings); err != nil {
		return model.Settings{}, err
	}
	log.WithField("deliveryEnabled", settings.DeliveryEnabled).Info("store settings updated")
	return settings, nil
}
