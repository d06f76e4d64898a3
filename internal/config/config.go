package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Scorer   ScorerConfig
	Match    MatchConfig
	Kafka    KafkaConfig
	Log      LogConfig
}

type AppConfig struct {
	AppName        string
	Environment    string
	HTTPPort       string
	Version        string
	MigrateOnStart bool
}

type DatabaseConfig struct {
	Driver      string
	DatabaseURL string

	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	ConnectTimeout        time.Duration
	PoolMaxConns          int32
	PoolMinConns          int32
	PoolMaxConnLifetime   time.Duration
	PoolMaxConnIdleTime   time.Duration
	PoolHealthCheckPeriod time.Duration
}

type RedisConfig struct {
	URL      string
	Host     string
	Port     string
	Password string
	DB       int
}

type CacheConfig struct {
	Driver    string
	TTL       time.Duration
	OpTimeout time.Duration
}

type ScorerConfig struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

type MatchConfig struct {
	RecommendationThreshold float64
	CoalesceScoring         bool
	BatchWorkers            int
	BatchMaxItems           int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type LogConfig struct {
	JSON  bool
	Debug bool
}

const (
	minScorerTimeout = 10 * time.Second
	maxScorerTimeout = 60 * time.Second
)

var (
	errMissingRequiredEnv = errors.New("missing required environment variables")
	errInvalidConfig      = errors.New("invalid configuration")
)

// Load reads configuration from the environment, an optional .env file in the
// working directory and, when cfgFile is not empty, a YAML/TOML/JSON file.
// Environment variables win over file values.
func Load(cfgFile ...string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if len(cfgFile) > 0 && strings.TrimSpace(cfgFile[0]) != "" {
		v.SetConfigFile(strings.TrimSpace(cfgFile[0]))
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "match-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.http_port", "8005")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.migrate_on_start", true)

	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.ssl_mode", "disable")
	v.SetDefault("db.connect_timeout", 5*time.Second)
	v.SetDefault("db.pool_max_conns", 20)
	v.SetDefault("db.pool_min_conns", 2)
	v.SetDefault("db.pool_max_conn_lifetime", time.Hour)
	v.SetDefault("db.pool_max_conn_idle_time", 30*time.Minute)
	v.SetDefault("db.pool_health_check_period", time.Minute)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.driver", DriverRedis)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.op_timeout", 500*time.Millisecond)

	v.SetDefault("scorer.base_url", "http://localhost:8003")
	v.SetDefault("scorer.timeout", 30*time.Second)
	v.SetDefault("scorer.rps", 0)
	v.SetDefault("scorer.burst", 5)

	v.SetDefault("match.recommendation_threshold", 70.0)
	v.SetDefault("match.coalesce_scoring", false)
	v.SetDefault("match.batch_workers", 4)
	v.SetDefault("match.batch_max_items", 50)

	v.SetDefault("kafka.topic", "match-events")

	v.SetDefault("log.json", false)
	v.SetDefault("log.debug", false)
}

func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"app.name":             {"APP_NAME"},
		"app.env":              {"APP_ENV"},
		"app.http_port":        {"HTTP_PORT", "PORT"},
		"app.version":          {"APP_VERSION"},
		"app.migrate_on_start": {"MIGRATE_ON_START"},

		"db.driver":                   {"STORE_DRIVER"},
		"db.url":                      {"DATABASE_URL"},
		"db.host":                     {"DB_HOST"},
		"db.port":                     {"DB_PORT"},
		"db.name":                     {"DB_NAME"},
		"db.user":                     {"DB_USER"},
		"db.password":                 {"DB_PASSWORD"},
		"db.ssl_mode":                 {"DB_SSL_MODE"},
		"db.connect_timeout":          {"DB_CONNECT_TIMEOUT"},
		"db.pool_max_conns":           {"DB_POOL_MAX_CONNS"},
		"db.pool_min_conns":           {"DB_POOL_MIN_CONNS"},
		"db.pool_max_conn_lifetime":   {"DB_POOL_MAX_CONN_LIFETIME"},
		"db.pool_max_conn_idle_time":  {"DB_POOL_MAX_CONN_IDLE_TIME"},
		"db.pool_health_check_period": {"DB_POOL_HEALTH_CHECK_PERIOD"},

		"redis.url":      {"REDIS_URL"},
		"redis.host":     {"REDIS_HOST"},
		"redis.port":     {"REDIS_PORT"},
		"redis.password": {"REDIS_PASSWORD"},
		"redis.db":       {"REDIS_DB"},

		"cache.driver":      {"CACHE_DRIVER"},
		"cache.ttl_seconds": {"REDIS_TTL", "REDIS_CACHE_TTL"},
		"cache.op_timeout":  {"CACHE_OP_TIMEOUT"},

		"scorer.base_url": {"AI_SERVICE_URL"},
		"scorer.timeout":  {"AI_SERVICE_TIMEOUT"},
		"scorer.rps":      {"AI_SERVICE_RPS"},
		"scorer.burst":    {"AI_SERVICE_BURST"},

		"match.recommendation_threshold": {"RECOMMENDATION_THRESHOLD", "MATCH_RECOMMENDATION_THRESHOLD"},
		"match.coalesce_scoring":         {"MATCH_COALESCE_SCORING"},
		"match.batch_workers":            {"BATCH_WORKERS"},
		"match.batch_max_items":          {"BATCH_MAX_ITEMS"},

		"kafka.brokers": {"KAFKA_BROKERS"},
		"kafka.topic":   {"KAFKA_TOPIC"},

		"log.json":  {"LOG_JSON"},
		"log.debug": {"LOG_DEBUG"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{}

	var missing []string
	str := func(key string) string {
		return strings.TrimSpace(v.GetString(key))
	}

	cfg.App = AppConfig{
		AppName:        str("app.name"),
		Environment:    str("app.env"),
		HTTPPort:       str("app.http_port"),
		Version:        str("app.version"),
		MigrateOnStart: v.GetBool("app.migrate_on_start"),
	}

	cfg.Database = DatabaseConfig{
		Driver:                strings.ToLower(str("db.driver")),
		DatabaseURL:           str("db.url"),
		DBHost:                str("db.host"),
		DBPort:                str("db.port"),
		DBName:                str("db.name"),
		DBUser:                str("db.user"),
		DBPassword:            v.GetString("db.password"),
		DBSSLMode:             str("db.ssl_mode"),
		ConnectTimeout:        v.GetDuration("db.connect_timeout"),
		PoolMaxConns:          v.GetInt32("db.pool_max_conns"),
		PoolMinConns:          v.GetInt32("db.pool_min_conns"),
		PoolMaxConnLifetime:   v.GetDuration("db.pool_max_conn_lifetime"),
		PoolMaxConnIdleTime:   v.GetDuration("db.pool_max_conn_idle_time"),
		PoolHealthCheckPeriod: v.GetDuration("db.pool_health_check_period"),
	}
	if cfg.Database.Driver == DriverPostgres && cfg.Database.DatabaseURL == "" {
		if cfg.Database.DBHost == "" {
			missing = append(missing, "DB_HOST")
		}
		if cfg.Database.DBName == "" {
			missing = append(missing, "DB_NAME")
		}
		if cfg.Database.DBUser == "" {
			missing = append(missing, "DB_USER")
		}
	}

	cfg.Redis = RedisConfig{
		URL:      str("redis.url"),
		Host:     str("redis.host"),
		Port:     str("redis.port"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	ttlSeconds := v.GetInt("cache.ttl_seconds")
	if ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	cfg.Cache = CacheConfig{
		Driver:    strings.ToLower(str("cache.driver")),
		TTL:       time.Duration(ttlSeconds) * time.Second,
		OpTimeout: v.GetDuration("cache.op_timeout"),
	}
	if cfg.Cache.OpTimeout <= 0 {
		cfg.Cache.OpTimeout = 500 * time.Millisecond
	}

	cfg.Scorer = ScorerConfig{
		BaseURL: strings.TrimRight(str("scorer.base_url"), "/"),
		Timeout: clampDuration(v.GetDuration("scorer.timeout"), minScorerTimeout, maxScorerTimeout),
		RPS:     v.GetFloat64("scorer.rps"),
		Burst:   v.GetInt("scorer.burst"),
	}
	if cfg.Scorer.BaseURL == "" {
		missing = append(missing, "AI_SERVICE_URL")
	}

	cfg.Match = MatchConfig{
		RecommendationThreshold: v.GetFloat64("match.recommendation_threshold"),
		CoalesceScoring:         v.GetBool("match.coalesce_scoring"),
		BatchWorkers:            v.GetInt("match.batch_workers"),
		BatchMaxItems:           v.GetInt("match.batch_max_items"),
	}

	cfg.Kafka = KafkaConfig{
		Brokers: splitList(v.GetString("kafka.brokers")),
		Topic:   str("kafka.topic"),
	}

	cfg.Log = LogConfig{
		JSON:  v.GetBool("log.json"),
		Debug: v.GetBool("log.debug"),
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s", errMissingRequiredEnv, strings.Join(missing, ", "))
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("%w: STORE_DRIVER must be %q or %q", errInvalidConfig, DriverPostgres, DriverMemory)
	}
	switch c.Cache.Driver {
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("%w: CACHE_DRIVER must be %q or %q", errInvalidConfig, DriverRedis, DriverMemory)
	}
	if c.Match.RecommendationThreshold < 0 || c.Match.RecommendationThreshold > 100 {
		return fmt.Errorf("%w: RECOMMENDATION_THRESHOLD must be within [0,100]", errInvalidConfig)
	}
	if _, err := url.ParseRequestURI(c.Scorer.BaseURL); err != nil {
		return fmt.Errorf("%w: AI_SERVICE_URL: %v", errInvalidConfig, err)
	}
	return nil
}

// DSN returns DATABASE_URL when set, otherwise a key/value DSN built from the
// DB_* parts.
func (c DatabaseConfig) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		strings.TrimSpace(c.DBHost),
		strings.TrimSpace(c.DBPort),
		strings.TrimSpace(c.DBUser),
		c.DBPassword,
		strings.TrimSpace(c.DBName),
		strings.TrimSpace(c.DBSSLMode),
	)
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
