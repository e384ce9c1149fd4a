package config

import (
	"fmt"
	"os"
	"regions-server/internal/shared/utils"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Frontend  FrontendConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	World     WorldConfig
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port         string
	URL          string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
}

type AuthConfig struct {
	JWTSecret       string
	TokenExpiration time.Duration
	Required        bool
}

type FrontendConfig struct {
	URL       string
	CORSDebug bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	JSONFormat bool
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	TrustProxy        bool
}

type StoreConfig struct {
	Driver string
}

// WorldConfig holds the tunables of region resolution and resource lifecycle
type WorldConfig struct {
	RegionResolution    int
	ResourceResolution  int
	ScanRingDistance    int
	ResourcesPerRegion  int
	ResourceQuantity    int
	ResetInterval       time.Duration
	InteractionRadiusM  float64
	ScanTimeout         time.Duration
	CreateConcurrency   int
	ResourceNames       []string
	RegionCacheTTL      time.Duration
	StaleSweepBatchSize int
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// DefaultResourceNames is the catalog used when WORLD_RESOURCE_NAMES is unset
var DefaultResourceNames = []string{"Wood", "Stone", "Iron Ore", "Herbs", "Fresh Water", "Clay", "Berries"}

var GlobalConfig *Config

func Init() error {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables")
	}

	config, err := load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	GlobalConfig = config
	return nil
}

func load() (*Config, error) {
	config := &Config{
		Server:    loadServerConfig(),
		Database:  loadDatabaseConfig(),
		Redis:     loadRedisConfig(),
		Auth:      loadAuthConfig(),
		Frontend:  loadFrontendConfig(),
		Logging:   loadLoggingConfig(),
		RateLimit: loadRateLimitConfig(),
		Store:     loadStoreConfig(),
	}

	world, err := loadWorldConfig()
	if err != nil {
		return nil, err
	}
	config.World = world

	return config, nil
}

func loadRedisConfig() RedisConfig {
	enabled := utils.GetEnv("REDIS_ENABLED", "false") == "true"
	db, _ := strconv.Atoi(utils.GetEnv("REDIS_DB", "0"))

	return RedisConfig{
		Enabled:  enabled,
		URL:      utils.GetEnv("REDIS_URL", ""),
		Host:     utils.GetEnv("REDIS_HOST", "localhost"),
		Port:     utils.GetEnv("REDIS_PORT", "6379"),
		Password: utils.GetEnv("REDIS_PASSWORD", ""),
		DB:       db,
	}
}

func loadServerConfig() ServerConfig {
	readTimeout, _ := strconv.Atoi(utils.GetEnv("SERVER_READ_TIMEOUT_SECONDS", "15"))
	writeTimeout, _ := strconv.Atoi(utils.GetEnv("SERVER_WRITE_TIMEOUT_SECONDS", "15"))
	idleTimeout, _ := strconv.Atoi(utils.GetEnv("SERVER_IDLE_TIMEOUT_SECONDS", "60"))

	return ServerConfig{
		Port:         utils.GetEnv("SERVER_PORT", "8080"),
		URL:          utils.GetEnv("SERVER_URL", "http://localhost:8080"),
		Environment:  utils.GetEnv("ENVIRONMENT", "development"),
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
		IdleTimeout:  time.Duration(idleTimeout) * time.Second,
	}
}

func loadDatabaseConfig() DatabaseConfig {
	maxOpenConns, _ := strconv.Atoi(utils.GetEnv("DB_MAX_OPEN_CONNS", "25"))
	maxIdleConns, _ := strconv.Atoi(utils.GetEnv("DB_MAX_IDLE_CONNS", "5"))
	connMaxLifetime, _ := strconv.Atoi(utils.GetEnv("DB_CONN_MAX_LIFETIME_MINUTES", "5"))

	return DatabaseConfig{
		Host:            utils.GetEnv("DB_HOST", "localhost"),
		Port:            utils.GetEnv("DB_PORT", "5432"),
		User:            utils.GetEnv("DB_USER", "postgres"),
		Password:        utils.GetEnv("DB_PASSWORD", "postgres"),
		Name:            utils.GetEnv("DB_NAME", "regions"),
		SSLMode:         utils.GetEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: time.Duration(connMaxLifetime) * time.Minute,
		MigrationsPath:  utils.GetEnv("DB_MIGRATIONS_PATH", ""),
	}
}

func loadAuthConfig() AuthConfig {
	tokenExpiration, _ := strconv.Atoi(utils.GetEnv("JWT_EXPIRATION_HOURS", "24"))

	return AuthConfig{
		JWTSecret:       utils.GetEnv("JWT_SECRET", ""),
		TokenExpiration: time.Duration(tokenExpiration) * time.Hour,
		Required:        utils.GetEnv("AUTH_REQUIRED", "false") == "true",
	}
}

func loadFrontendConfig() FrontendConfig {
	return FrontendConfig{
		URL:       utils.GetEnv("FRONTEND_URL", "http://localhost:3000"),
		CORSDebug: utils.GetEnv("CORS_DEBUG", "") == "true",
	}
}

func loadLoggingConfig() LoggingConfig {
	environment := utils.GetEnv("ENVIRONMENT", "development")
	format := utils.GetEnv("LOG_FORMAT", "text")

	return LoggingConfig{
		Level:      utils.GetEnv("LOG_LEVEL", "debug"),
		Format:     format,
		JSONFormat: environment == "production" || format == "json",
	}
}

func loadRateLimitConfig() RateLimitConfig {
	enabled := utils.GetEnv("RATE_LIMIT_ENABLED", "true") == "true"
	requestsPerSecond, _ := strconv.ParseFloat(utils.GetEnv("RATE_LIMIT_REQUESTS_PER_SECOND", "10"), 64)
	burstSize, _ := strconv.Atoi(utils.GetEnv("RATE_LIMIT_BURST_SIZE", "20"))

	return RateLimitConfig{
		Enabled:           enabled,
		RequestsPerSecond: requestsPerSecond,
		BurstSize:         burstSize,
		TrustProxy:        utils.GetEnv("RATE_LIMIT_TRUST_PROXY", "false") == "true",
	}
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Driver: utils.GetEnv("STORE_DRIVER", StoreDriverPostgres),
	}
}

// worldEnv parses numeric WORLD_* variables and keeps the first failure, so a
// typo never silently turns a grid parameter into zero.
type worldEnv struct {
	err error
}

func (e *worldEnv) integer(key, fallback string) int {
	raw := utils.GetEnv(key, fallback)
	value, err := strconv.Atoi(raw)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return value
}

func (e *worldEnv) number(key, fallback string) float64 {
	raw := utils.GetEnv(key, fallback)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("%s: invalid number %q", key, raw)
	}
	return value
}

func loadWorldConfig() (WorldConfig, error) {
	env := &worldEnv{}

	world := WorldConfig{
		RegionResolution:    env.integer("WORLD_REGION_RESOLUTION", "9"),
		ResourceResolution:  env.integer("WORLD_RESOURCE_RESOLUTION", "11"),
		ScanRingDistance:    env.integer("WORLD_SCAN_RING_DISTANCE", "1"),
		ResourcesPerRegion:  env.integer("WORLD_RESOURCES_PER_REGION", "3"),
		ResourceQuantity:    env.integer("WORLD_RESOURCE_QUANTITY", "100"),
		ResetInterval:       time.Duration(env.integer("WORLD_RESET_INTERVAL_HOURS", "72")) * time.Hour,
		InteractionRadiusM:  env.number("WORLD_INTERACTION_RADIUS_METERS", "100"),
		ScanTimeout:         time.Duration(env.integer("WORLD_SCAN_TIMEOUT_SECONDS", "10")) * time.Second,
		CreateConcurrency:   env.integer("WORLD_CREATE_CONCURRENCY", "8"),
		ResourceNames:       utils.GetEnvList("WORLD_RESOURCE_NAMES", DefaultResourceNames),
		RegionCacheTTL:      time.Duration(env.integer("WORLD_REGION_CACHE_TTL_SECONDS", "30")) * time.Second,
		StaleSweepBatchSize: env.integer("WORLD_STALE_SWEEP_BATCH_SIZE", "100"),
	}
	if env.err != nil {
		return WorldConfig{}, env.err
	}
	return world, nil
}

// DefaultWorldConfig returns the world settings used when nothing is overridden
func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		RegionResolution:    9,
		ResourceResolution:  11,
		ScanRingDistance:    1,
		ResourcesPerRegion:  3,
		ResourceQuantity:    100,
		ResetInterval:       72 * time.Hour,
		InteractionRadiusM:  100,
		ScanTimeout:         10 * time.Second,
		CreateConcurrency:   8,
		ResourceNames:       append([]string(nil), DefaultResourceNames...),
		RegionCacheTTL:      30 * time.Second,
		StaleSweepBatchSize: 100,
	}
}

func (c *Config) validate() error {
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_REQUIRED is set")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}

	return c.World.Validate()
}

// Validate checks the world settings for internal consistency
func (w WorldConfig) Validate() error {
	if w.RegionResolution < 0 || w.RegionResolution > 15 {
		return fmt.Errorf("WORLD_REGION_RESOLUTION must be between 0 and 15")
	}

	if w.ResourceResolution <= w.RegionResolution || w.ResourceResolution > 15 {
		return fmt.Errorf("WORLD_RESOURCE_RESOLUTION must be finer than the region resolution and at most 15")
	}

	if w.ScanRingDistance < 0 {
		return fmt.Errorf("WORLD_SCAN_RING_DISTANCE must not be negative")
	}

	if w.ResourcesPerRegion < 0 {
		return fmt.Errorf("WORLD_RESOURCES_PER_REGION must not be negative")
	}

	if w.ResourceQuantity <= 0 {
		return fmt.Errorf("WORLD_RESOURCE_QUANTITY must be positive")
	}

	if w.ResetInterval <= 0 {
		return fmt.Errorf("WORLD_RESET_INTERVAL_HOURS must be positive")
	}

	if w.ScanTimeout <= 0 {
		return fmt.Errorf("WORLD_SCAN_TIMEOUT_SECONDS must be positive")
	}

	if w.CreateConcurrency <= 0 {
		return fmt.Errorf("WORLD_CREATE_CONCURRENCY must be positive")
	}

	if w.StaleSweepBatchSize <= 0 {
		return fmt.Errorf("WORLD_STALE_SWEEP_BATCH_SIZE must be positive")
	}

	if len(w.ResourceNames) == 0 {
		return fmt.Errorf("WORLD_RESOURCE_NAMES must contain at least one name")
	}

	return nil
}

// DSN is the lib/pq connection string of the database section
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}
