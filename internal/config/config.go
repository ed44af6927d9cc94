package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// EngineConfig tunes the delivery pipeline.
type EngineConfig struct {
	// ReferenceTimezone anchors day-granularity throttle windows.
	ReferenceTimezone string `yaml:"reference_timezone"`
	// SenderTimeoutMS bounds one push/email dispatch call.
	SenderTimeoutMS int `yaml:"sender_timeout_ms"`
	// BatchSweepIntervalSec is how often due batches are processed.
	BatchSweepIntervalSec int `yaml:"batch_sweep_interval_sec"`
	// ScheduleSweepIntervalSec is how often due schedules are promoted.
	ScheduleSweepIntervalSec int `yaml:"schedule_sweep_interval_sec"`
	// DigestSweepIntervalSec is how often digest preferences are flushed.
	DigestSweepIntervalSec int `yaml:"digest_sweep_interval_sec"`

	DefaultMaxPerMinute int `yaml:"default_max_per_minute"`
	DefaultMaxPerHour   int `yaml:"default_max_per_hour"`
	DefaultMaxPerDay    int `yaml:"default_max_per_day"`
}

type Config struct {
	DB     DBConfig     `yaml:"db"`
	MQ     MQConfig     `yaml:"mq"`
	Redis  RedisConfig  `yaml:"redis"`
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
}

func Load() *Config {
	f, err := os.Open("config.yaml")
	if err != nil {
		log.Fatalf("failed to open config.yaml: %v", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config.yaml: %v", err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.ReferenceTimezone == "" {
		cfg.Engine.ReferenceTimezone = "UTC"
	}
	if cfg.Engine.SenderTimeoutMS == 0 {
		cfg.Engine.SenderTimeoutMS = 5000
	}
	if cfg.Engine.BatchSweepIntervalSec == 0 {
		cfg.Engine.BatchSweepIntervalSec = 30
	}
	if cfg.Engine.ScheduleSweepIntervalSec == 0 {
		cfg.Engine.ScheduleSweepIntervalSec = 60
	}
	if cfg.Engine.DigestSweepIntervalSec == 0 {
		cfg.Engine.DigestSweepIntervalSec = 300
	}
	if cfg.Engine.DefaultMaxPerMinute == 0 {
		cfg.Engine.DefaultMaxPerMinute = 2
	}
	if cfg.Engine.DefaultMaxPerHour == 0 {
		cfg.Engine.DefaultMaxPerHour = 30
	}
	if cfg.Engine.DefaultMaxPerDay == 0 {
		cfg.Engine.DefaultMaxPerDay = 100
	}
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
}
