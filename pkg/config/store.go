package config

import "fmt"

// StoreConfig configures SQL persistence for sessions, messages, tool runs
// and ingestion records. An empty driver disables persistence entirely; the
// runtime then operates stateless.
type StoreConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "mysql".
	// Empty disables persistence.
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty" jsonschema:"title=Driver,description=Database driver; empty disables persistence,enum=,enum=sqlite,enum=sqlite3,enum=postgres,enum=mysql"`

	// DSN is the full connection string. When set it wins over the
	// host/port/database fields below.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty" jsonschema:"title=DSN,description=Connection string; overrides host/port/database"`

	// Host is the database server hostname (not used by SQLite).
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port is the database server port (not used by SQLite).
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// Database is the database name, or the file path for SQLite.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`

	// Username for database authentication.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`

	// Password for database authentication.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// SSLMode for PostgreSQL connections.
	SSLMode string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	// MaxConns is the maximum number of open connections.
	// Default: 25 (SQLite is always pinned to 1)
	MaxConns int `yaml:"max_conns,omitempty" json:"max_conns,omitempty"`

	// MaxIdle is the maximum number of idle connections.
	// Default: 5
	MaxIdle int `yaml:"max_idle,omitempty" json:"max_idle,omitempty"`
}

// Enabled reports whether persistence is configured.
func (c *StoreConfig) Enabled() bool {
	return c != nil && c.Driver != ""
}

// SetDefaults applies default values.
func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		return
	}

	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}

	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}

	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}

	if c.Database == "" && c.DSN == "" && c.Dialect() == "sqlite" {
		c.Database = "data/helicon.db"
	}
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Driver == "" {
		return nil
	}

	switch c.Driver {
	case "sqlite", "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("invalid driver %q (valid: sqlite, postgres, mysql)", c.Driver)
	}

	if c.DSN != "" {
		return nil
	}

	if c.Database == "" {
		return fmt.Errorf("database is required for driver %q", c.Driver)
	}

	if c.Dialect() != "sqlite" && c.Host == "" {
		return fmt.Errorf("host is required for driver %q", c.Driver)
	}

	return nil
}

// ConnString returns the data source name for sql.Open.
func (c *StoreConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}

	switch c.Dialect() {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s", c.Host, c.Port, c.Database)
		if c.Username != "" {
			dsn += fmt.Sprintf(" user=%s", c.Username)
		}
		if c.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Password)
		}
		if c.SSLMode != "" {
			dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
		}
		return dsn
	case "mysql":
		if c.Username != "" {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
				c.Username, c.Password, c.Host, c.Port, c.Database)
		}
		return fmt.Sprintf("tcp(%s:%d)/%s?parseTime=true", c.Host, c.Port, c.Database)
	case "sqlite":
		return c.Database
	default:
		return ""
	}
}

// DriverName returns the registered driver name for sql.Open.
func (c *StoreConfig) DriverName() string {
	if c.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect returns the SQL dialect used for DDL generation.
func (c *StoreConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}
