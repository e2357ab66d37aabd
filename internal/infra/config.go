package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Config: корневая структура конфигурации шлюза и консоли.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Pool        PoolConfig        `mapstructure:"pool"`
	Health      HealthConfig      `mapstructure:"health"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Hub         HubConfig         `mapstructure:"hub"`
	Lookup      LookupConfig      `mapstructure:"lookup"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ConsoleAddr  string        `mapstructure:"console_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	InstanceID   string        `mapstructure:"instance_id"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и история отпечатков).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для консоли
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// PoolConfig: лимиты пула апстрим-ресурсов.
type PoolConfig struct {
	SessionCap       int `mapstructure:"session_cap"`
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// HealthConfig: фоновая проверка живости ресурсов.
type HealthConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
	Target      string        `mapstructure:"target"` // host:port, к которому делаем CONNECT через прокси
}

type FingerprintConfig struct {
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	HistoryCap          int           `mapstructure:"history_cap"`
	RecentCap           int           `mapstructure:"recent_cap"`
	TTL                 time.Duration `mapstructure:"ttl"`
}

// PipelineConfig: таймауты и параллелизм конвейера валидации.
type PipelineConfig struct {
	StageTimeout     time.Duration `mapstructure:"stage_timeout"`
	TotalTimeout     time.Duration `mapstructure:"total_timeout"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
	RecordTTL        time.Duration `mapstructure:"record_ttl"`
	ValueField       string        `mapstructure:"value_field"`
	ValueCeiling     float64       `mapstructure:"value_ceiling"`
}

type HubConfig struct {
	MaxConnections   int           `mapstructure:"max_connections"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	QueueSize        int           `mapstructure:"queue_size"`
}

// LookupConfig: внешний сервис репутации и настройки Circuit Breaker для него.
type LookupConfig struct {
	URL           string        `mapstructure:"url"`
	RPS           float64       `mapstructure:"rps"`
	Burst         int           `mapstructure:"burst"`
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// JournalConfig: асинхронный журнал событий конвейера.
type JournalConfig struct {
	Driver        string        `mapstructure:"driver"` // postgres | sqlite
	DSN           string        `mapstructure:"dsn"`
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
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

	// POOL_FAILURE_THRESHOLD=5 перекроет pool.failure_threshold
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

	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig возвращает конфигурацию со значениями по умолчанию (удобно для тестов).
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.console_addr", ":8000")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("grpc.addr", ":50052")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("pool.session_cap", 10)
	v.SetDefault("pool.failure_threshold", 3)

	v.SetDefault("health.interval", 60*time.Second)
	v.SetDefault("health.timeout", 10*time.Second)
	v.SetDefault("health.concurrency", 16)
	v.SetDefault("health.target", "example.com:443")

	v.SetDefault("fingerprint.similarity_threshold", 0.8)
	v.SetDefault("fingerprint.history_cap", 10)
	v.SetDefault("fingerprint.recent_cap", 1000)
	v.SetDefault("fingerprint.ttl", 30*24*time.Hour)

	v.SetDefault("pipeline.stage_timeout", 30*time.Second)
	v.SetDefault("pipeline.total_timeout", 300*time.Second)
	v.SetDefault("pipeline.batch_concurrency", 8)
	v.SetDefault("pipeline.record_ttl", 30*24*time.Hour)
	v.SetDefault("pipeline.value_field", "amount")
	v.SetDefault("pipeline.value_ceiling", 1000.0)

	v.SetDefault("hub.max_connections", 10000)
	v.SetDefault("hub.heartbeat_timeout", 300*time.Second)
	v.SetDefault("hub.sweep_interval", 60*time.Second)
	v.SetDefault("hub.queue_size", 256)

	v.SetDefault("lookup.rps", 50.0)
	v.SetDefault("lookup.burst", 10)
	v.SetDefault("lookup.cb_max_requests", 3)
	v.SetDefault("lookup.cb_interval", 5*time.Second)
	v.SetDefault("lookup.cb_timeout", 30*time.Second)

	v.SetDefault("journal.driver", "postgres")
	v.SetDefault("journal.buffer_size", 10000)
	v.SetDefault("journal.flush_interval", 500*time.Millisecond)

	v.SetDefault("kafka.topic", "trustgate.validations")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Validate отсекает заведомо неверные значения. Ошибка здесь фатальна для старта.
func (c *Config) Validate() error {
	var problems []string
	if c.Pool.SessionCap <= 0 {
		problems = append(problems, "pool.session_cap must be > 0")
	}
	if c.Pool.FailureThreshold <= 0 {
		problems = append(problems, "pool.failure_threshold must be > 0")
	}
	if c.Health.Interval <= 0 || c.Health.Timeout <= 0 {
		problems = append(problems, "health.interval and health.timeout must be > 0")
	}
	if c.Fingerprint.SimilarityThreshold < 0 || c.Fingerprint.SimilarityThreshold > 1 {
		problems = append(problems, "fingerprint.similarity_threshold must be within [0,1]")
	}
	if c.Fingerprint.HistoryCap <= 0 {
		problems = append(problems, "fingerprint.history_cap must be > 0")
	}
	if c.Pipeline.StageTimeout <= 0 || c.Pipeline.StageTimeout > 30*time.Second {
		problems = append(problems, "pipeline.stage_timeout must be within (0,30s]")
	}
	if c.Pipeline.TotalTimeout < c.Pipeline.StageTimeout {
		problems = append(problems, "pipeline.total_timeout must be >= pipeline.stage_timeout")
	}
	if c.Hub.MaxConnections <= 0 || c.Hub.HeartbeatTimeout <= 0 {
		problems = append(problems, "hub.max_connections and hub.heartbeat_timeout must be > 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
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
