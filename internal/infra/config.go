package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации всех процессов автоматизации.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	MetricsPort    int           `mapstructure:"metrics_port"`
	HealthGRPCPort int           `mapstructure:"health_grpc_port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig: только сигналы (пробуждение воркера, пауза окон). Пустой Addr отключает Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig: публичный RSA ключ для проверки RS256 токенов.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// GeneratorConfig расписание и параллелизм генератора задач.
type GeneratorConfig struct {
	Schedule         string        `mapstructure:"schedule"` // cron, 5 полей
	Concurrency      int           `mapstructure:"concurrency"`
	TaskTTL          time.Duration `mapstructure:"task_ttl"`
	ExpiredRetention time.Duration `mapstructure:"expired_retention"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
	ScheduleLookback time.Duration `mapstructure:"schedule_lookback"`
	RunOnStart       bool          `mapstructure:"run_on_start"`
}

// OutboxConfig настройки воркера доставки.
type OutboxConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Lease         time.Duration `mapstructure:"lease"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RateBurst     int           `mapstructure:"rate_burst"`
	AttemptBuffer int           `mapstructure:"attempt_buffer"`
	WebhookURL    string        `mapstructure:"webhook_url"`

	// Настройки Circuit Breaker для канального шлюза
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// OUTBOX_BATCH_SIZE=50 перекроет outbox.batch_size
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет: работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// PEM из ENV (Docker/K8s) или файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Пустые дефолты нужны, чтобы AutomaticEnv видел ключи при Unmarshal
	v.SetDefault("server.host", "")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("outbox.webhook_url", "")
	v.SetDefault("generator.run_on_start", false)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.health_grpc_port", 50052)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("generator.schedule", "*/15 * * * *")
	v.SetDefault("generator.concurrency", 4)
	v.SetDefault("generator.task_ttl", 72*time.Hour)
	v.SetDefault("generator.expired_retention", 30*24*time.Hour)
	v.SetDefault("generator.run_timeout", 5*time.Minute)
	v.SetDefault("generator.schedule_lookback", 24*time.Hour)

	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_retries", 5)
	v.SetDefault("outbox.lease", time.Minute)
	v.SetDefault("outbox.base_backoff", 30*time.Second)
	v.SetDefault("outbox.max_backoff", time.Hour)
	v.SetDefault("outbox.send_timeout", 10*time.Second)
	v.SetDefault("outbox.rate_per_second", 20)
	v.SetDefault("outbox.rate_burst", 5)
	v.SetDefault("outbox.attempt_buffer", 10000)
	v.SetDefault("outbox.cb_max_requests", 3)
	v.SetDefault("outbox.cb_interval", 5*time.Second)
	v.SetDefault("outbox.cb_timeout", 30*time.Second)
	v.SetDefault("outbox.cb_max_failures", 5)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
