package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	NATS      NATSConfig      `mapstructure:"nats"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Engine    EngineConfig    `mapstructure:"engine"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Neo4jConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	URI                string `mapstructure:"uri"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	Database           string `mapstructure:"database"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MaxLifetimeMinutes int    `mapstructure:"max_lifetime_minutes"`
}

type NATSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WeightsConfig configures the four correlation scoring factors. The
// engine rejects configurations that do not sum to 1.0.
type WeightsConfig struct {
	IOCMatch       float64 `mapstructure:"ioc_match"`
	TTPMatch       float64 `mapstructure:"ttp_match"`
	Temporal       float64 `mapstructure:"temporal"`
	Infrastructure float64 `mapstructure:"infrastructure"`
}

// EngineConfig holds correlation and campaign detection policy. These
// are tunable policy knobs, not hard-coded law.
type EngineConfig struct {
	Weights                    WeightsConfig `mapstructure:"weights"`
	MinCorrelationScore        float64       `mapstructure:"min_correlation_score"`
	CampaignDetectionThreshold float64       `mapstructure:"campaign_detection_threshold"`
	CampaignMergeThreshold     float64       `mapstructure:"campaign_merge_threshold"`
	MaxTemporalDistanceHours   float64       `mapstructure:"max_temporal_distance_hours"`
	FuzzyMatchThreshold        float64       `mapstructure:"fuzzy_match_threshold"`
	SubnetPrefixBits           int           `mapstructure:"subnet_prefix_bits"`
	InactivityWindow           time.Duration `mapstructure:"inactivity_window"`
	RecentEdgeBias             float64       `mapstructure:"recent_edge_bias"`
	TopCorrelations            int           `mapstructure:"top_correlations"`
	Workers                    int           `mapstructure:"workers"`
	FlowFetchTimeout           time.Duration `mapstructure:"flow_fetch_timeout"`
	TrustedSources             []string      `mapstructure:"trusted_sources"`
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/corrlab")
	}

	v.SetEnvPrefix("CORRLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper does not auto-bind nested struct fields from env vars
	v.BindEnv("database.host", "CORRLAB_DATABASE_HOST")
	v.BindEnv("database.port", "CORRLAB_DATABASE_PORT")
	v.BindEnv("database.user", "CORRLAB_DATABASE_USER")
	v.BindEnv("database.password", "CORRLAB_DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "CORRLAB_DATABASE_DBNAME")
	v.BindEnv("database.sslmode", "CORRLAB_DATABASE_SSLMODE")
	v.BindEnv("redis.host", "CORRLAB_REDIS_HOST")
	v.BindEnv("redis.port", "CORRLAB_REDIS_PORT")
	v.BindEnv("redis.password", "CORRLAB_REDIS_PASSWORD")
	v.BindEnv("neo4j.enabled", "CORRLAB_NEO4J_ENABLED")
	v.BindEnv("nats.enabled", "CORRLAB_NATS_ENABLED")
	v.BindEnv("app.environment", "CORRLAB_APP_ENVIRONMENT")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults plus env cover it
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "corrlab")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "corrlab")
	v.SetDefault("database.dbname", "corrlab")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.key_prefix", "corrlab:")

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.max_connections", 10)
	v.SetDefault("neo4j.max_lifetime_minutes", 60)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "CORRLAB_EVENTS")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type"})
	v.SetDefault("cors.max_age", 300)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_minute", 120)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("engine.weights.ioc_match", 0.5)
	v.SetDefault("engine.weights.ttp_match", 0.2)
	v.SetDefault("engine.weights.temporal", 0.2)
	v.SetDefault("engine.weights.infrastructure", 0.1)
	v.SetDefault("engine.min_correlation_score", 0.3)
	v.SetDefault("engine.campaign_detection_threshold", 0.65)
	v.SetDefault("engine.campaign_merge_threshold", 0.85)
	v.SetDefault("engine.max_temporal_distance_hours", 168)
	v.SetDefault("engine.fuzzy_match_threshold", 0.8)
	v.SetDefault("engine.subnet_prefix_bits", 24)
	v.SetDefault("engine.inactivity_window", 30*24*time.Hour)
	v.SetDefault("engine.recent_edge_bias", 0.1)
	v.SetDefault("engine.top_correlations", 10)
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.flow_fetch_timeout", 5*time.Second)
}
