package store

import "fmt"

// Config selects a Store implementation.
type Config struct {
	// Driver is "memory", "sqlite" or "mysql".
	Driver string `mapstructure:"driver"`

	// DSN is the SQLite path or the MySQL data source name.
	DSN string `mapstructure:"dsn"`
}

// Open creates the store described by cfg. An empty driver uses MemStore.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemStore(), nil
	case "sqlite":
		path := cfg.DSN
		if path == "" {
			path = ":memory:"
		}
		return NewSQLiteStore(path)
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("mysql store requires a dsn")
		}
		return NewMySQLStore(cfg.DSN)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
