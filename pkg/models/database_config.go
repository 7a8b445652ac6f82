package models

// Supported external database types.
const (
	DBTypeSQLite     = "sqlite"
	DBTypePostgreSQL = "postgresql"
	DBTypeMySQL      = "mysql"
	DBTypeMSSQL      = "mssql"
)

// DatabaseConfig describes one external database reachable from workflow scripts.
// At most one config is marked default at any time; the admin layer enforces the
// invariant on write and the runtime consumes it.
type DatabaseConfig struct {
	ID          int64   `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"` // Unique; scripts see the handle under this name
	Description *string `json:"description,omitempty" db:"description"`
	DBType      string  `json:"db_type" db:"db_type"`

	Host     *string `json:"host,omitempty" db:"host"`
	Port     *int    `json:"port,omitempty" db:"port"`
	Database *string `json:"database,omitempty" db:"database"`
	Username *string `json:"username,omitempty" db:"username"`
	Password *string `json:"password,omitempty" db:"password"`
	Path     *string `json:"path,omitempty" db:"path"` // SQLite file path

	PoolSize    int `json:"pool_size" db:"pool_size"`
	MaxOverflow int `json:"max_overflow" db:"max_overflow"`
	PoolTimeout int `json:"pool_timeout" db:"pool_timeout"` // seconds
	PoolRecycle int `json:"pool_recycle" db:"pool_recycle"` // seconds

	Enabled   bool `json:"enabled" db:"enabled"`
	IsDefault bool `json:"is_default" db:"is_default"`

	CreatedAt string `json:"created_at" db:"created_at"`
	UpdatedAt string `json:"updated_at" db:"updated_at"`
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrZero(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

// HostPort returns the configured host and port with nils flattened.
func (c DatabaseConfig) HostPort() (string, int) {
	return strOrEmpty(c.Host), intOrZero(c.Port)
}

// Credentials returns the configured username and password with nils flattened.
func (c DatabaseConfig) Credentials() (string, string) {
	return strOrEmpty(c.Username), strOrEmpty(c.Password)
}

// DatabaseName returns the configured database name with nil flattened.
func (c DatabaseConfig) DatabaseName() string {
	return strOrEmpty(c.Database)
}

// FilePath returns the SQLite file path with nil flattened.
func (c DatabaseConfig) FilePath() string {
	return strOrEmpty(c.Path)
}
