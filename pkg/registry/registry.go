// Package registry owns the lifecycle of connection pools for externally
// configured databases. Handles are cached per config id and shared by every
// concurrent workflow run in the process.
package registry

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/storage"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// ErrUnsupportedDatabaseType is returned for a db_type outside
// {sqlite, postgresql, mysql, mssql}.
var ErrUnsupportedDatabaseType = errors.New("unsupported database type")

// Logger is the logging interface the registry depends on.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Handle pairs a database config with its open connection pool.
type Handle struct {
	Config models.DatabaseConfig
	DB     *sqlx.DB
}

// Registry caches one Handle per database config id. Create/Close on the same
// config id are serialized by a per-id lock; distinct ids proceed concurrently.
type Registry struct {
	store  storage.Store
	logger Logger

	mu      sync.Mutex
	handles map[int64]*Handle
	locks   map[int64]*sync.Mutex
}

// New returns an empty registry backed by the given metadata store.
func New(store storage.Store, logger Logger) *Registry {
	return &Registry{
		store:   store,
		logger:  logger,
		handles: make(map[int64]*Handle),
		locks:   make(map[int64]*sync.Mutex),
	}
}

func (r *Registry) lockFor(configID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[configID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[configID] = l
	}
	return l
}

// DSN maps a database config onto the registered Go driver for its db_type and
// builds the driver's connection string.
func DSN(cfg models.DatabaseConfig) (driverName, dsn string, err error) {
	host, port := cfg.HostPort()
	user, pass := cfg.Credentials()
	switch cfg.DBType {
	case models.DBTypeSQLite:
		return "sqlite", cfg.FilePath(), nil
	case models.DBTypePostgreSQL:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(user, pass),
			Host:     fmt.Sprintf("%s:%d", host, port),
			Path:     "/" + cfg.DatabaseName(),
			RawQuery: "sslmode=disable",
		}
		return "postgres", u.String(), nil
	case models.DBTypeMySQL:
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			user, pass, host, port, cfg.DatabaseName()), nil
	case models.DBTypeMSSQL:
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(user, pass),
			Host:     fmt.Sprintf("%s:%d", host, port),
			RawQuery: "database=" + url.QueryEscape(cfg.DatabaseName()),
		}
		return "sqlserver", u.String(), nil
	default:
		return "", "", errors.Wrap(ErrUnsupportedDatabaseType, cfg.DBType)
	}
}

// Get returns the cached handle for a config id, or absent when never created
// or already closed.
func (r *Registry) Get(configID int64) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[configID]
	return h, ok
}

// Create opens a connection pool for the config and caches it under the config
// id. An existing handle for the same id is disposed first so engines never leak.
// Opening is lazy: no connection is dialed until the handle is first used.
func (r *Registry) Create(cfg models.DatabaseConfig) (*Handle, error) {
	lock := r.lockFor(cfg.ID)
	lock.Lock()
	defer lock.Unlock()
	return r.createLocked(cfg)
}

func (r *Registry) createLocked(cfg models.DatabaseConfig) (*Handle, error) {
	driverName, dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s engine for config '%s'", cfg.DBType, cfg.Name)
	}
	// SQLite has no real connection pool; pool sizing only applies elsewhere.
	if cfg.DBType != models.DBTypeSQLite {
		db.SetMaxOpenConns(cfg.PoolSize + cfg.MaxOverflow)
		db.SetMaxIdleConns(cfg.PoolSize)
		db.SetConnMaxLifetime(time.Duration(cfg.PoolRecycle) * time.Second)
	}
	h := &Handle{Config: cfg, DB: db}

	r.mu.Lock()
	old := r.handles[cfg.ID]
	r.handles[cfg.ID] = h
	r.mu.Unlock()

	if old != nil {
		if err := old.DB.Close(); err != nil {
			r.logger.Warnf("Failed to dispose stale engine for config '%s': %v", cfg.Name, err)
		}
	}
	r.logger.Infof("Created %s engine for database config '%s'", cfg.DBType, cfg.Name)
	return h, nil
}

// Close disposes the cached handle for a config id and evicts it. Closing an
// unknown id is a no-op.
func (r *Registry) Close(configID int64) error {
	lock := r.lockFor(configID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	h, ok := r.handles[configID]
	delete(r.handles, configID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.logger.Infof("Closed engine for database config '%s'", h.Config.Name)
	return h.DB.Close()
}

// Reload closes any existing handle for the config and creates a fresh one.
func (r *Registry) Reload(cfg models.DatabaseConfig) (*Handle, error) {
	lock := r.lockFor(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	old, ok := r.handles[cfg.ID]
	delete(r.handles, cfg.ID)
	r.mu.Unlock()
	if ok {
		if err := old.DB.Close(); err != nil {
			r.logger.Warnf("Failed to close engine for config '%s' during reload: %v", cfg.Name, err)
		}
	}
	return r.createLocked(cfg)
}

// ListActive loads every enabled database config, lazily creating missing
// handles. Cached handles get their config metadata refreshed from the rows
// just loaded, so flag changes on other rows (the default flag moving to a
// different config, say) are visible without a reload. A config whose engine
// cannot be created is skipped and logged; one bad config never blocks the
// others.
func (r *Registry) ListActive() (map[string]*Handle, error) {
	configs, err := r.store.ListEnabledDatabaseConfigs()
	if err != nil {
		return nil, errors.Wrap(err, "list enabled database configs")
	}
	active := make(map[string]*Handle, len(configs))
	for _, cfg := range configs {
		h, ok := r.Get(cfg.ID)
		if !ok {
			h, err = r.Create(cfg)
			if err != nil {
				r.logger.Warnf("Skipping database config '%s': %v", cfg.Name, err)
				continue
			}
		} else {
			r.refreshConfig(h, cfg)
		}
		active[cfg.Name] = h
	}
	return active, nil
}

// refreshConfig updates a cached handle's config snapshot in place. The pool
// itself is untouched; connection-parameter changes still need a Reload.
func (r *Registry) refreshConfig(h *Handle, cfg models.DatabaseConfig) {
	r.mu.Lock()
	h.Config = cfg
	r.mu.Unlock()
}

// TestConnection opens a throwaway engine for the config, issues a liveness
// query and always disposes the connection.
func (r *Registry) TestConnection(cfg models.DatabaseConfig) error {
	driverName, dsn, err := DSN(cfg)
	if err != nil {
		return err
	}
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return err
	}
	var one int
	return db.Get(&one, "SELECT 1")
}

// CloseAll disposes every cached handle, e.g. at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[int64]*Handle)
	r.mu.Unlock()
	for _, h := range handles {
		if err := h.DB.Close(); err != nil {
			r.logger.Warnf("Failed to close engine for config '%s': %v", h.Config.Name, err)
		}
	}
}
