package common

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Store configuration struct
// --------------------------------------------------------------------------

// EngineType selects the db.PolicyDB implementation backing a store
type EngineType string

const (
	EngineSQLite EngineType = "sqlite"
	EngineMaple  EngineType = "maple"
)

// StoreConfig holds all configuration parameters for opening a policy store.
type StoreConfig struct {
	// Engine is the database implementation (sqlite or maple)
	Engine EngineType

	// Path of the sqlite database file, ignored for in-memory stores
	Path string

	// InMemory opens an ephemeral store, always true for maple
	InMemory bool

	// Logging configuration
	LogLevel string
}

// DefaultStoreConfig returns a configuration for a file backed sqlite store
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Engine:   EngineSQLite,
		Path:     "papl.db",
		LogLevel: "warn",
	}
}

// Ephemeral reports whether the configured store loses its data on close
func (c *StoreConfig) Ephemeral() bool {
	return c.InMemory || c.Engine == EngineMaple
}

// Validate checks the configuration for invalid combinations
func (c *StoreConfig) Validate() error {
	switch c.Engine {
	case EngineSQLite, EngineMaple:
	default:
		return fmt.Errorf("invalid engine %q. must be one of %s, %s", c.Engine, EngineSQLite, EngineMaple)
	}
	if c.Engine == EngineSQLite && !c.InMemory && strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("a path is required for a file backed sqlite store")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *StoreConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Store")
	addField("Engine", string(c.Engine))
	if c.Ephemeral() {
		addField("Location", "in-memory")
	} else {
		addField("Location", c.Path)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
