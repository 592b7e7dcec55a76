package shared

import "time"

const (
	SQLITE_DRIVER   = "sqlite"
	POSTGRES_DRIVER = "postgres"
)

type ServerConfig struct {
	Deadman  DeadmanConfig  `mapstructure:"deadman" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Sqlite   SqliteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Twilio   TwilioConfig   `mapstructure:"twilio"`
	Smtp     SmtpConfig     `mapstructure:"smtp"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Google   GoogleConfig   `mapstructure:"google"`
}

type DeadmanConfig struct {
	LogLevel   string           `mapstructure:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	Cron       CronConfig       `mapstructure:"cron" validate:"required"`
	Listener   ListenerConfig   `mapstructure:"listener" validate:"required"`
	Scanner    ScannerConfig    `mapstructure:"scanner" validate:"required"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" validate:"required"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	// DSN is used by the postgres driver only.
	DSN string `mapstructure:"dsn"`
}

type SqliteConfig struct {
	PassPhrase string `mapstructure:"passPhrase"`
}

type CronConfig struct {
	TimeZone string `mapstructure:"timeZone" validate:"required"`
}

type ListenerConfig struct {
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`
}

type ScannerConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"required"`
	PageSize int           `mapstructure:"pageSize" validate:"min=0"`
}

type DispatcherConfig struct {
	Concurrency    int           `mapstructure:"concurrency" validate:"required,min=1"`
	MaxAttempts    int           `mapstructure:"maxAttempts" validate:"required,min=1"`
	AttemptTimeout time.Duration `mapstructure:"attemptTimeout" validate:"required"`
	BackoffMin     time.Duration `mapstructure:"backoffMin" validate:"required"`
	BackoffMax     time.Duration `mapstructure:"backoffMax" validate:"required"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LeaseTTL time.Duration `mapstructure:"leaseTTL" validate:"required_with=Addr"`
}

type TwilioConfig struct {
	AccountSid          string `mapstructure:"accountSid" validate:"required_with=AuthToken"`
	AuthToken           string `mapstructure:"authToken" validate:"required_with=AccountSid"`
	MessagingServiceSid string `mapstructure:"messagingServiceSid" validate:"required_with=AccountSid"`
}

type SmtpConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"required_with=Host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"required_with=Host,omitempty,email"`
}

type WebhookConfig struct {
	URL   string `mapstructure:"url" validate:"omitempty,url"`
	Token string `mapstructure:"token"`
}

type GoogleConfig struct {
	ApplicationCredentials string        `mapstructure:"applicationCredentials"`
	Storage                StorageConfig `mapstructure:"storage"`
}

type StorageConfig struct {
	Bucket                    string `mapstructure:"bucket" validate:"required_with=EnableSqliteBackupAndSync"`
	Prefix                    string `mapstructure:"prefix" validate:"required_with=EnableSqliteBackupAndSync"`
	SqliteBackupSchedule      string `mapstructure:"sqliteBackupSchedule" validate:"required_with=EnableSqliteBackupAndSync"`
	EnableSqliteBackupAndSync bool   `mapstructure:"enableSqliteBackupAndSync"`
}
