package service

import (
	"github.com/pkg/errors"

	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/registry"
	"github.com/flowgate/flowgate/pkg/storage"
)

// ConfigService manages database configs and keeps the connection registry in
// step with them: saving or updating a config reloads its engine, deleting a
// config closes it.
type ConfigService struct {
	store    storage.Store
	registry *registry.Registry
	logger   Logger
}

// NewConfigService wires a ConfigService.
func NewConfigService(store storage.Store, reg *registry.Registry, logger Logger) *ConfigService {
	return &ConfigService{store: store, registry: reg, logger: logger}
}

// SaveConfig persists a new database config. When the config is flagged as
// default, every other config loses the flag in the same transaction; at most
// one default exists.
func (s *ConfigService) SaveConfig(cfg models.DatabaseConfig) (int64, error) {
	if cfg.Name == "" {
		return 0, errors.New("empty config name")
	}
	tx, err := s.store.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	id, err := tx.SaveDatabaseConfig(cfg)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if cfg.IsDefault {
		if err := tx.ClearDefaultFlags(id); err != nil {
			_ = tx.Rollback()
			return 0, errors.Wrap(err, "clear default flags")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit transaction")
	}
	s.logger.Infof("Saved database config '%s' with ID %d", cfg.Name, id)
	return id, nil
}

// UpdateConfig persists changes to a config and reloads (or closes) its
// cached engine so running workflows pick up the new settings.
func (s *ConfigService) UpdateConfig(cfg models.DatabaseConfig) error {
	tx, err := s.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := tx.UpdateDatabaseConfig(cfg); err != nil {
		_ = tx.Rollback()
		return err
	}
	if cfg.IsDefault {
		if err := tx.ClearDefaultFlags(cfg.ID); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "clear default flags")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	if !cfg.Enabled {
		return s.registry.Close(cfg.ID)
	}
	if _, err := s.registry.Reload(cfg); err != nil {
		// The config is saved; a broken engine surfaces on next use too.
		s.logger.Warnf("Failed to reload engine for config '%s': %v", cfg.Name, err)
	}
	return nil
}

// DeleteConfig removes a config and closes its cached engine.
func (s *ConfigService) DeleteConfig(id int64) error {
	if err := s.store.DeleteDatabaseConfig(id); err != nil {
		return err
	}
	return s.registry.Close(id)
}

// GetConfig returns one database config.
func (s *ConfigService) GetConfig(id int64) (models.DatabaseConfig, error) {
	return s.store.GetDatabaseConfig(id)
}

// ListConfigs returns all database configs.
func (s *ConfigService) ListConfigs() ([]models.DatabaseConfig, error) {
	return s.store.ListDatabaseConfigs()
}

// TestConnection checks connectivity for a stored config without touching the
// cached engine.
func (s *ConfigService) TestConnection(id int64) error {
	cfg, err := s.store.GetDatabaseConfig(id)
	if err != nil {
		return err
	}
	return s.registry.TestConnection(cfg)
}
