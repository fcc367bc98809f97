package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Source          string        `mapstructure:"source"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// CacheTTLPolicy selects how entry lifetimes are assigned.
//
// "fixed" gives every purpose its own TTL (users 1h, stats 5m, search 10m,
// credentials 30m). "manual" stores entries without expiry and relies
// entirely on invalidation sweeps after mutations.
type CacheTTLPolicy string

const (
	CacheTTLFixed  CacheTTLPolicy = "fixed"
	CacheTTLManual CacheTTLPolicy = "manual"
)

type CacheConfig struct {
	TTLPolicy      CacheTTLPolicy `mapstructure:"ttl_policy"`
	UserTTL        time.Duration  `mapstructure:"user_ttl"`
	StatsTTL       time.Duration  `mapstructure:"stats_ttl"`
	SearchTTL      time.Duration  `mapstructure:"search_ttl"`
	CredentialsTTL time.Duration  `mapstructure:"credentials_ttl"`
	ScanBatchSize  int64          `mapstructure:"scan_batch_size"`
}

// EntryTTL resolves the effective TTL for one of the fixed purposes. Under
// the manual policy every entry is stored without expiry.
func (c *CacheConfig) EntryTTL(fixed time.Duration) time.Duration {
	if c.TTLPolicy == CacheTTLManual {
		return 0
	}
	return fixed
}

type SecurityConfig struct {
	JWTAccessSecret  string        `mapstructure:"jwt_access_secret"`
	JWTRefreshSecret string        `mapstructure:"jwt_refresh_secret"`
	AccessTokenTTL   time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL  time.Duration `mapstructure:"refresh_token_ttl"`
	BCryptCost       int           `mapstructure:"bcrypt_cost"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ----------------- DEFAULTS -----------------

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTLPolicy:      CacheTTLFixed,
		UserTTL:        time.Hour,
		StatsTTL:       5 * time.Minute,
		SearchTTL:      10 * time.Minute,
		CredentialsTTL: 30 * time.Minute,
		ScanBatchSize:  1000,
	}
}

func (c *CacheConfig) ApplyDefaults() {
	def := DefaultCacheConfig()
	if c.TTLPolicy == "" {
		c.TTLPolicy = def.TTLPolicy
	}
	if c.UserTTL <= 0 {
		c.UserTTL = def.UserTTL
	}
	if c.StatsTTL <= 0 {
		c.StatsTTL = def.StatsTTL
	}
	if c.SearchTTL <= 0 {
		c.SearchTTL = def.SearchTTL
	}
	if c.CredentialsTTL <= 0 {
		c.CredentialsTTL = def.CredentialsTTL
	}
	if c.ScanBatchSize <= 0 {
		c.ScanBatchSize = def.ScanBatchSize
	}
}

func (c *SecurityConfig) ApplyDefaults() {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.BCryptCost < 10 {
		c.BCryptCost = 10
	}
}

// ----------------- ENV -----------------

// LoadConfigFromEnv builds a Config purely from environment variables, used
// for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 3000),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:3000"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Source:          os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Cache: CacheConfig{
			TTLPolicy: CacheTTLPolicy(getEnv("CACHE_TTL_POLICY", string(CacheTTLFixed))),
		},
		Security: SecurityConfig{
			JWTAccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
			JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
			AccessTokenTTL:   getEnvAsDuration("JWT_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL:  getEnvAsDuration("JWT_REFRESH_TOKEN_TTL", 7*24*time.Hour),
			BCryptCost:       getEnvAsInt("BCRYPT_COST", 10),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	cfg.Cache.ApplyDefaults()
	cfg.Security.ApplyDefaults()
	return cfg
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}
	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}
	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("cache config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *SecurityConfig) Validate() error {
	if c.JWTAccessSecret == "" {
		return errors.New("jwt_access_secret is required")
	}
	if c.JWTRefreshSecret == "" {
		return errors.New("jwt_refresh_secret is required")
	}
	if c.BCryptCost < 10 || c.BCryptCost > 15 {
		return errors.New("bcrypt_cost must be between 10 and 15")
	}
	return nil
}

func (c *CacheConfig) Validate() error {
	switch c.TTLPolicy {
	case CacheTTLFixed, CacheTTLManual, "":
		return nil
	default:
		return fmt.Errorf("unknown ttl_policy %q", c.TTLPolicy)
	}
}
