package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	// Store selects the rate counter backend: "redis" or "memory".
	Store              string        `mapstructure:"store"`
	DefaultHourlyLimit int           `mapstructure:"default_hourly_limit"`
	WindowMargin       time.Duration `mapstructure:"window_margin"`
}

type DeliveryConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	DeferMargin  time.Duration `mapstructure:"defer_margin"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Hello    string `mapstructure:"hello"`
}

type RetentionConfig struct {
	JobTTL time.Duration `mapstructure:"job_ttl"`
	// JobLease bounds how long a claimed job may sit unresolved before the
	// janitor returns it to pending.
	JobLease      time.Duration `mapstructure:"job_lease"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("driphub")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/driphub")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DRIPHUB")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/driphub.db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("ratelimit.store", "redis")
	viper.SetDefault("ratelimit.default_hourly_limit", 100)
	viper.SetDefault("ratelimit.window_margin", time.Minute)

	viper.SetDefault("delivery.workers", 5)
	viper.SetDefault("delivery.poll_interval", time.Second)
	viper.SetDefault("delivery.max_attempts", 3)
	viper.SetDefault("delivery.backoff_base", time.Second)
	viper.SetDefault("delivery.defer_margin", 10*time.Second)
	viper.SetDefault("delivery.send_timeout", 30*time.Second)

	viper.SetDefault("smtp.host", "localhost")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.username", "")
	viper.SetDefault("smtp.password", "")
	viper.SetDefault("smtp.hello", "")

	viper.SetDefault("retention.job_ttl", 7*24*time.Hour)
	viper.SetDefault("retention.job_lease", 5*time.Minute)
	viper.SetDefault("retention.sweep_interval", time.Hour)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
