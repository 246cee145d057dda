package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr" validate:"required"`
	TCPAddr     string `yaml:"tcp_addr" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr" validate:"required"`
	GRPCAddr    string `yaml:"grpc_addr" validate:"required"`

	SQLitePath string `yaml:"sqlite_path" validate:"required"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db" validate:"gte=0,lte=15"`

	MQTTBroker      string `yaml:"mqtt_broker" validate:"omitempty,url"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix" validate:"required_with=MQTTBroker"`
	MQTTClientID    string `yaml:"mqtt_client_id" validate:"required_with=MQTTBroker"`

	ProxyAddr string `yaml:"proxy_addr"`

	TimeZone string `yaml:"time_zone" validate:"required"`

	IdleGap       time.Duration `yaml:"idle_gap" validate:"gt=0"`
	MaxSpeedKmh   float64       `yaml:"max_speed_kmh" validate:"gt=0"`
	MaxDistanceKm float64       `yaml:"max_distance_km" validate:"gt=0"`
	Smooth        bool          `yaml:"smooth"`
	SmoothWindow  int           `yaml:"smooth_window" validate:"gte=1"`

	LiveWindow   time.Duration `yaml:"live_window" validate:"gt=0"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	QueryTimeout time.Duration `yaml:"query_timeout" validate:"gt=0"`
	BaseInterval time.Duration `yaml:"playback_base_interval" validate:"gt=0"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn warning error"`
	RawLogDir string `yaml:"raw_log_dir"`
}

// Load reads the environment, then overlays the YAML file named by
// CONFIG_FILE when set, and validates the result.
func Load() (Config, error) {
	cfg, err := fromEnv()
	if err != nil {
		return Config{}, err
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromEnv() (Config, error) {
	p := envParser{}
	cfg := Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		TCPAddr:     getEnv("TCP_ADDR", ":8001"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9000"),
		GRPCAddr:    getEnv("GRPC_ADDR", ":50051"),

		SQLitePath: getEnv("SQLITE_PATH", "gps.db"),
		RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:    p.getInt("REDIS_DB", 0),

		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "tracks"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "track-svr"),

		ProxyAddr: getEnv("PROXY_ADDR", ""),
		TimeZone:  getEnv("TZ_NAME", "Local"),

		IdleGap:       p.getDuration("IDLE_GAP", 20*time.Minute),
		MaxSpeedKmh:   p.getFloat("MAX_SPEED_KMH", 200),
		MaxDistanceKm: p.getFloat("MAX_DISTANCE_KM", 1),
		Smooth:        p.getBool("SMOOTH", false),
		SmoothWindow:  p.getInt("SMOOTH_WINDOW", 3),

		LiveWindow:   p.getDuration("LIVE_WINDOW", 2*time.Hour),
		PollInterval: p.getDuration("POLL_INTERVAL", 5*time.Second),
		QueryTimeout: p.getDuration("QUERY_TIMEOUT", 5*time.Second),
		BaseInterval: p.getDuration("PLAYBACK_BASE_INTERVAL", 600*time.Millisecond),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		RawLogDir: getEnv("RAW_LOG_DIR", "logs"),
	}
	return cfg, p.err
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location resolves TimeZone. Calendar days of the history view are cut in it.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// envParser keeps the first conversion error so fromEnv reads linearly.
type envParser struct {
	err error
}

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("env %s: %w", key, err)
	}
}

func (p *envParser) getInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *envParser) getFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(val, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *envParser) getBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return b
}

func (p *envParser) getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}
