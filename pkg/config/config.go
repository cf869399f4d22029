package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "BADANG"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "BADANG_APP_ENV"
	EnvDBDSN  = "BADANG_DB_DSN"
	EnvDBHost = "BADANG_DB_HOST"
	EnvDBUser = "BADANG_DB_USER"
	EnvDBName = "BADANG_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	SMTP         SMTPConfig
	Scheduler    SchedulerConfig
	Quota        QuotaConfig
	Sweep        SweepConfig
	Collab       CollabConfig
	Storage      StorageConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BADANG_APP_ENV" required:"true"`
	Port         string `envconfig:"BADANG_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"BADANG_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BADANG_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"BADANG_DB_DSN"`
	Driver string `envconfig:"BADANG_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BADANG_DB_HOST"`
	LegacyPort     int    `envconfig:"BADANG_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BADANG_DB_USER"`
	LegacyPassword string `envconfig:"BADANG_DB_PASSWORD"`
	LegacyName     string `envconfig:"BADANG_DB_NAME"`
	LegacySSLMode  string `envconfig:"BADANG_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BADANG_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BADANG_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BADANG_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BADANG_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BADANG_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BADANG_REDIS_ADDR"`
	Password     string        `envconfig:"BADANG_REDIS_PASSWORD"`
	DB           int           `envconfig:"BADANG_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BADANG_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BADANG_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BADANG_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BADANG_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BADANG_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type SMTPConfig struct {
	Host       string `envconfig:"BADANG_SMTP_HOST" required:"true"`
	Port       int    `envconfig:"BADANG_SMTP_PORT" default:"587"`
	Username   string `envconfig:"BADANG_SMTP_USERNAME"`
	Password   string `envconfig:"BADANG_SMTP_PASSWORD"`
	From       string `envconfig:"BADANG_SMTP_FROM" required:"true"`
	RatePerMin int    `envconfig:"BADANG_SMTP_RATE_PER_MIN" default:"30"`
}

type SchedulerConfig struct {
	Workers         int           `envconfig:"BADANG_SCHEDULER_WORKERS" default:"4"`
	QueueSize       int           `envconfig:"BADANG_SCHEDULER_QUEUE_SIZE" default:"128"`
	ShutdownTimeout time.Duration `envconfig:"BADANG_SCHEDULER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type QuotaConfig struct {
	SendLimit int `envconfig:"BADANG_QUOTA_SEND_LIMIT" default:"10"`
}

type SweepConfig struct {
	Interval    time.Duration `envconfig:"BADANG_SWEEP_INTERVAL" default:"5m"`
	GracePeriod time.Duration `envconfig:"BADANG_SWEEP_GRACE_PERIOD" default:"30m"`
	LockTTL     time.Duration `envconfig:"BADANG_SWEEP_LOCK_TTL" default:"4m"`
}

type CollabConfig struct {
	TranslateURL string        `envconfig:"BADANG_COLLAB_TRANSLATE_URL"`
	StylizeURL   string        `envconfig:"BADANG_COLLAB_STYLIZE_URL"`
	RenderURL    string        `envconfig:"BADANG_COLLAB_RENDER_URL"`
	Timeout      time.Duration `envconfig:"BADANG_COLLAB_TIMEOUT" default:"120s"`
}

type StorageConfig struct {
	Root string `envconfig:"BADANG_STORAGE_ROOT" default:"./data"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BADANG_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
