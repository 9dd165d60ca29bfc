package util

import (
	"fmt"
	"strings"

	"github.com/datasafe/papl/lib/common"
	"github.com/datasafe/papl/lib/db"
	"github.com/datasafe/papl/lib/db/engines/maple"
	"github.com/datasafe/papl/lib/store"
	"github.com/datasafe/papl/lib/store/lstore"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the flags selecting and locating the policy store to a command
func SetupStoreFlags(cmd *cobra.Command) {
	defaults := common.DefaultStoreConfig()

	key := "engine"
	cmd.PersistentFlags().String(key, string(defaults.Engine), WrapString("Database engine backing the store (sqlite, maple). maple is always in-memory"))

	key = "path"
	cmd.PersistentFlags().String(key, defaults.Path, WrapString("Path of the sqlite database file. The file and the schema are created on first use"))

	key = "in-memory"
	cmd.PersistentFlags().Bool(key, defaults.InMemory, WrapString("Use an ephemeral in-memory database. All data is lost when the command exits"))

	key = "log-level"
	cmd.PersistentFlags().String(key, defaults.LogLevel, WrapString("Log level (debug, info, warn, error). Logs are written to stderr"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("papl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() common.StoreConfig {
	return common.StoreConfig{
		Engine:   common.EngineType(strings.ToLower(viper.GetString("engine"))),
		Path:     viper.GetString("path"),
		InMemory: viper.GetBool("in-memory"),
		LogLevel: viper.GetString("log-level"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// OpenStore validates the configuration, initializes the loggers and opens the configured store
func OpenStore(config common.StoreConfig) (store.IStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := common.InitLoggers(config); err != nil {
		return nil, err
	}

	switch {
	case config.Engine == common.EngineMaple:
		return lstore.NewLocalStore(func() (db.PolicyDB, error) {
			return maple.NewMapleDB(maple.DefaultOptions()), nil
		})
	case config.InMemory:
		return lstore.OpenInMemory()
	case config.Engine == common.EngineSQLite:
		return lstore.Open(config.Path)
	default:
		return nil, fmt.Errorf("invalid engine %s", config.Engine)
	}
}

// SetupStore binds the flags of cmd and opens the store they describe
func SetupStore(cmd *cobra.Command) (store.IStore, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	return OpenStore(GetStoreConfig())
}
