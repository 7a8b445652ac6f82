package service_test

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	internal_storage "github.com/flowgate/flowgate/internal/storage"
	"github.com/flowgate/flowgate/internal/testutil"
	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/registry"
	"github.com/flowgate/flowgate/pkg/service"
	"github.com/flowgate/flowgate/pkg/storage"
)

func newConfigService(store storage.Store) (*service.ConfigService, *registry.Registry) {
	logger := logrus.New()
	reg := registry.New(store, logger)
	return service.NewConfigService(store, reg, logger), reg
}

func sqliteCfg(t *testing.T, name string) models.DatabaseConfig {
	path := filepath.Join(t.TempDir(), name+".db")
	return models.DatabaseConfig{
		Name:    name,
		DBType:  models.DBTypeSQLite,
		Path:    &path,
		Enabled: true,
	}
}

func TestSaveConfigDefaultFlag(t *testing.T) {
	store := storage.NewMockStore()
	svc, reg := newConfigService(store)
	defer reg.CloseAll()

	first := sqliteCfg(t, "main")
	first.IsDefault = true
	firstID, err := svc.SaveConfig(first)
	assert.NoError(t, err)

	second := sqliteCfg(t, "reporting")
	second.IsDefault = true
	secondID, err := svc.SaveConfig(second)
	assert.NoError(t, err)

	old, err := svc.GetConfig(firstID)
	assert.NoError(t, err)
	assert.False(t, old.IsDefault)

	kept, err := svc.GetConfig(secondID)
	assert.NoError(t, err)
	assert.True(t, kept.IsDefault)
}

func TestSaveConfigDefaultFlagTransactional(t *testing.T) {
	store := internal_storage.NewSQLStoreFromDB(testutil.SetupTestDB(t))
	svc, reg := newConfigService(store)
	defer reg.CloseAll()

	first := sqliteCfg(t, "main")
	first.IsDefault = true
	firstID, err := svc.SaveConfig(first)
	assert.NoError(t, err)

	second := sqliteCfg(t, "reporting")
	second.IsDefault = true
	secondID, err := svc.SaveConfig(second)
	assert.NoError(t, err)

	second.ID, second.IsDefault = secondID, false
	assert.NoError(t, svc.UpdateConfig(second))
	first.ID, first.IsDefault = firstID, true
	assert.NoError(t, svc.UpdateConfig(first))

	configs, err := svc.ListConfigs()
	assert.NoError(t, err)
	defaults := 0
	for _, c := range configs {
		if c.IsDefault {
			defaults++
			assert.Equal(t, firstID, c.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestSaveConfigDuplicateName(t *testing.T) {
	store := storage.NewMockStore()
	svc, reg := newConfigService(store)
	defer reg.CloseAll()

	_, err := svc.SaveConfig(sqliteCfg(t, "main"))
	assert.NoError(t, err)

	_, err = svc.SaveConfig(sqliteCfg(t, "main"))
	assert.True(t, errors.Is(err, storage.ErrNameConflict))
}

func TestUpdateConfigReloadsEngine(t *testing.T) {
	store := storage.NewMockStore()
	svc, reg := newConfigService(store)
	defer reg.CloseAll()

	cfg := sqliteCfg(t, "main")
	id, err := svc.SaveConfig(cfg)
	assert.NoError(t, err)
	cfg.ID = id

	before, err := reg.Create(cfg)
	assert.NoError(t, err)

	assert.NoError(t, svc.UpdateConfig(cfg))
	after, ok := reg.Get(id)
	assert.True(t, ok)
	assert.NotSame(t, before, after)
}

func TestUpdateConfigDisabledClosesEngine(t *testing.T) {
	store := storage.NewMockStore()
	svc, reg := newConfigService(store)
	defer reg.CloseAll()

	cfg := sqliteCfg(t, "main")
	id, err := svc.SaveConfig(cfg)
	assert.NoError(t, err)
	cfg.ID = id

	_, err = reg.Create(cfg)
	assert.NoError(t, err)

	cfg.Enabled = false
	assert.NoError(t, svc.UpdateConfig(cfg))

	_, ok := reg.Get(id)
	assert.False(t, ok)
}

func TestDeleteConfigClosesEngine(t *testing.T) {
	store := storage.NewMockStore()
	svc, reg := newConfigService(store)
	defer reg.CloseAll()

	cfg := sqliteCfg(t, "main")
	id, err := svc.SaveConfig(cfg)
	assert.NoError(t, err)
	cfg.ID = id

	_, err = reg.Create(cfg)
	assert.NoError(t, err)

	assert.NoError(t, svc.DeleteConfig(id))
	_, ok := reg.Get(id)
	assert.False(t, ok)
	_, err = svc.GetConfig(id)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestTestConnectionUnknownConfig(t *testing.T) {
	store := storage.NewMockStore()
	svc, reg := newConfigService(store)
	defer reg.CloseAll()

	err := svc.TestConnection(12345)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
