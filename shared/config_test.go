package shared

import (
	"bytes"
	"testing"
	"time"

	devConfig "github.com/Daskott/deadman/dev/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configFromYaml(t *testing.T, content string) *viper.Viper {
	config := viper.New()
	config.SetConfigType("yaml")
	require.Nil(t, config.ReadConfig(bytes.NewBufferString(content)))
	return config
}

func TestLoadDevServerConfig(t *testing.T) {
	serverConfig, err := LoadServerConfig(configFromYaml(t, devConfig.SERVER_YML))
	require.Nil(t, err)

	assert.Equal(t, SQLITE_DRIVER, serverConfig.Database.Driver)
	assert.Equal(t, 30*time.Second, serverConfig.Deadman.Scanner.Interval)
	assert.Equal(t, 10*time.Second, serverConfig.Deadman.Dispatcher.AttemptTimeout)
	assert.Equal(t, 3, serverConfig.Deadman.Dispatcher.MaxAttempts)
	assert.Equal(t, 2*time.Minute, serverConfig.Redis.LeaseTTL)
}

func TestLoadServerConfigAppliesDefaults(t *testing.T) {
	serverConfig, err := LoadServerConfig(configFromYaml(t, `
sqlite:
  passPhrase: secret
`))
	require.Nil(t, err)

	assert.Equal(t, time.Minute, serverConfig.Deadman.Scanner.Interval)
	assert.Equal(t, 200, serverConfig.Deadman.Scanner.PageSize)
	assert.Equal(t, 4, serverConfig.Deadman.Dispatcher.Concurrency)
	assert.Equal(t, 3000, serverConfig.Deadman.Listener.Port)
	assert.Equal(t, "UTC", serverConfig.Deadman.Cron.TimeZone)
}

func TestLoadServerConfigValidation(t *testing.T) {
	cases := []struct {
		description string
		yaml        string
		expectedErr string
	}{
		{
			description: "Should require a dsn for postgres",
			yaml:        "database:\n  driver: postgres\n",
			expectedErr: "database.dsn is required",
		},
		{
			description: "Should require a pass phrase for sqlite",
			yaml:        "database:\n  driver: sqlite\n",
			expectedErr: "sqlite.passPhrase is required",
		},
		{
			description: "Should reject unknown drivers",
			yaml:        "database:\n  driver: oracle\n",
			expectedErr: "Driver",
		},
		{
			description: "Should reject backups without the sqlite driver",
			yaml: "database:\n  driver: postgres\n  dsn: postgres://localhost/deadman\n" +
				"google:\n  storage:\n    bucket: b\n    prefix: p\n    sqliteBackupSchedule: \"* * * * *\"\n    enableSqliteBackupAndSync: true\n",
			expectedErr: "requires the sqlite driver",
		},
	}

	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			_, err := LoadServerConfig(configFromYaml(t, c.yaml))
			require.NotNil(t, err)
			assert.Contains(t, err.Error(), c.expectedErr)
		})
	}
}
