package shared

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator"
	"github.com/spf13/viper"
)

// DefaultServerConfig holds the values used for keys missing from the
// config file.
var DefaultServerConfig = map[string]interface{}{
	"deadman.logLevel":                  "info",
	"deadman.cron.timeZone":             "UTC",
	"deadman.listener.port":             3000,
	"deadman.scanner.interval":          "1m",
	"deadman.scanner.pageSize":          200,
	"deadman.dispatcher.concurrency":    4,
	"deadman.dispatcher.maxAttempts":    3,
	"deadman.dispatcher.attemptTimeout": "10s",
	"deadman.dispatcher.backoffMin":     "2s",
	"deadman.dispatcher.backoffMax":     "1m",
	"database.driver":                   SQLITE_DRIVER,
	"redis.leaseTTL":                    "2m",
}

// LoadServerConfig applies defaults to 'config', decodes it into a
// ServerConfig and validates the result.
func LoadServerConfig(config *viper.Viper) (*ServerConfig, error) {
	for key, value := range DefaultServerConfig {
		config.SetDefault(key, value)
	}

	serverConfig := ServerConfig{}
	if err := config.Unmarshal(&serverConfig); err != nil {
		return nil, fmt.Errorf("unable to decode server config: %v", err)
	}

	if err := serverConfig.Validate(); err != nil {
		return nil, err
	}

	return &serverConfig, nil
}

func (c *ServerConfig) Validate() error {
	var errs []string

	if err := validator.New().Struct(c); err != nil {
		errs = append(errs, strings.Split(err.Error(), "\n")...)
	}

	if c.Database.Driver == POSTGRES_DRIVER && strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, "database.dsn is required for the postgres driver")
	}

	if c.Database.Driver == SQLITE_DRIVER && strings.TrimSpace(c.Sqlite.PassPhrase) == "" {
		errs = append(errs, "sqlite.passPhrase is required for the sqlite driver")
	}

	if c.Google.Storage.EnableSqliteBackupAndSync && c.Database.Driver != SQLITE_DRIVER {
		errs = append(errs, "google.storage.enableSqliteBackupAndSync requires the sqlite driver")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid server config:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}
