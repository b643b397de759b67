package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Engine    EngineConfig    `yaml:"engine"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// EngineConfig carries the ledger/limit engine knobs.
type EngineConfig struct {
	ReservationTTLSeconds int   `yaml:"reservation_ttl_seconds"`
	TrackerWindowSeconds  int   `yaml:"tracker_window_seconds"`
	SweepIntervalSeconds  int   `yaml:"sweep_interval_seconds"`
	SweepBatch            int   `yaml:"sweep_batch"`
	CurrencyExponent      int32 `yaml:"currency_exponent"`
}

func (e EngineConfig) ReservationTTL() time.Duration {
	if e.ReservationTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.ReservationTTLSeconds) * time.Second
}

func (e EngineConfig) TrackerWindow() time.Duration {
	if e.TrackerWindowSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(e.TrackerWindowSeconds) * time.Second
}

func (e EngineConfig) SweepInterval() time.Duration {
	if e.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(e.SweepIntervalSeconds) * time.Second
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if cfg.Engine.SweepBatch <= 0 {
		cfg.Engine.SweepBatch = 100
	}
	if cfg.Engine.CurrencyExponent == 0 {
		cfg.Engine.CurrencyExponent = 2
	}
	return &cfg, nil
}
