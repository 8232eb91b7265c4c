// internal/config/config.go
package config

import (
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	App       AppConfig
	Cache     CacheConfig
	Replenish ReplenishConfig
	Refresh   RefreshConfig
	Archive   ArchiveConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	LogLevel       string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type AppConfig struct {
	// StoreDriver selects the metrics cache backend: "postgres" or "memory".
	StoreDriver string
}

type CacheConfig struct {
	Enabled             bool
	RedisURL            string
	RedisHost           string
	RedisPort           string
	RedisPassword       string
	RedisDB             int
	DashboardTTLSeconds int
}

// ReplenishConfig holds the formula constants. They are process-wide.
type ReplenishConfig struct {
	WindowDays          int
	HorizonDays         int
	MaxDaysWithoutSales int
	CriticalBelow       float64
	LowBelow            float64
	NormalBelow         float64
}

type RefreshConfig struct {
	IntervalMinutes   int
	Workers           int
	KeyTimeoutSeconds int
	StaleFactor       float64
	LockEnabled       bool
	RunOnStart        bool
}

// Interval is the refresh cadence.
func (r RefreshConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}

// KeyTimeout bounds one key's computation.
func (r RefreshConfig) KeyTimeout() time.Duration {
	return time.Duration(r.KeyTimeoutSeconds) * time.Second
}

// StaleAfter is the age beyond which a cache row is flagged stale at query time.
func (r RefreshConfig) StaleAfter() time.Duration {
	return time.Duration(r.StaleFactor * float64(r.Interval()))
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

var (
	once     sync.Once
	instance *Config
)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		setDefaults()

		// Read from environment variables
		viper.AutomaticEnv()

		instance = fromViper()
	})

	return instance
}

func setDefaults() {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_MODE", "debug")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SERVER_READ_TIMEOUT", 15)
	viper.SetDefault("SERVER_WRITE_TIMEOUT", 60)
	viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_PASSWORD", "postgres")
	viper.SetDefault("DB_NAME", "replenish")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("STORE_DRIVER", "postgres")
	viper.SetDefault("CACHE_ENABLED", false)
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("REDIS_HOST", "127.0.0.1")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("CACHE_DASHBOARD_TTL_SECONDS", 60)
	viper.SetDefault("REPLENISH_WINDOW_DAYS", 28)
	viper.SetDefault("REPLENISH_HORIZON_DAYS", 30)
	viper.SetDefault("REPLENISH_MAX_DAYS_WITHOUT_SALES", 365)
	viper.SetDefault("REPLENISH_CRITICAL_BELOW", 7)
	viper.SetDefault("REPLENISH_LOW_BELOW", 15)
	viper.SetDefault("REPLENISH_NORMAL_BELOW", 45)
	viper.SetDefault("REFRESH_INTERVAL_MINUTES", 60)
	viper.SetDefault("REFRESH_WORKERS", 4)
	viper.SetDefault("REFRESH_KEY_TIMEOUT_SECONDS", 30)
	viper.SetDefault("REFRESH_STALE_FACTOR", 2)
	viper.SetDefault("REFRESH_LOCK_ENABLED", false)
	viper.SetDefault("REFRESH_RUN_ON_START", true)
	viper.SetDefault("ARCHIVE_ENABLED", false)
	viper.SetDefault("ARCHIVE_PREFIX", "exports/replenishment")
	viper.SetDefault("ARCHIVE_USE_SSL", true)
}

func fromViper() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           viper.GetString("SERVER_PORT"),
			Mode:           viper.GetString("SERVER_MODE"),
			LogLevel:       viper.GetString("LOG_LEVEL"),
			ReadTimeout:    viper.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   viper.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			DBName:   viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		App: AppConfig{
			StoreDriver: viper.GetString("STORE_DRIVER"),
		},
		Cache: CacheConfig{
			Enabled:             viper.GetBool("CACHE_ENABLED"),
			RedisURL:            viper.GetString("REDIS_URL"),
			RedisHost:           viper.GetString("REDIS_HOST"),
			RedisPort:           viper.GetString("REDIS_PORT"),
			RedisPassword:       viper.GetString("REDIS_PASSWORD"),
			RedisDB:             viper.GetInt("REDIS_DB"),
			DashboardTTLSeconds: viper.GetInt("CACHE_DASHBOARD_TTL_SECONDS"),
		},
		Replenish: ReplenishConfig{
			WindowDays:          viper.GetInt("REPLENISH_WINDOW_DAYS"),
			HorizonDays:         viper.GetInt("REPLENISH_HORIZON_DAYS"),
			MaxDaysWithoutSales: viper.GetInt("REPLENISH_MAX_DAYS_WITHOUT_SALES"),
			CriticalBelow:       viper.GetFloat64("REPLENISH_CRITICAL_BELOW"),
			LowBelow:            viper.GetFloat64("REPLENISH_LOW_BELOW"),
			NormalBelow:         viper.GetFloat64("REPLENISH_NORMAL_BELOW"),
		},
		Refresh: RefreshConfig{
			IntervalMinutes:   viper.GetInt("REFRESH_INTERVAL_MINUTES"),
			Workers:           viper.GetInt("REFRESH_WORKERS"),
			KeyTimeoutSeconds: viper.GetInt("REFRESH_KEY_TIMEOUT_SECONDS"),
			StaleFactor:       viper.GetFloat64("REFRESH_STALE_FACTOR"),
			LockEnabled:       viper.GetBool("REFRESH_LOCK_ENABLED"),
			RunOnStart:        viper.GetBool("REFRESH_RUN_ON_START"),
		},
		Archive: ArchiveConfig{
			Enabled:   viper.GetBool("ARCHIVE_ENABLED"),
			Endpoint:  viper.GetString("ARCHIVE_ENDPOINT"),
			AccessKey: viper.GetString("ARCHIVE_ACCESS_KEY"),
			SecretKey: viper.GetString("ARCHIVE_SECRET_KEY"),
			Bucket:    viper.GetString("ARCHIVE_BUCKET"),
			Prefix:    viper.GetString("ARCHIVE_PREFIX"),
			UseSSL:    viper.GetBool("ARCHIVE_USE_SSL"),
		},
	}
}

// DSN renders the libpq connection string used by both database clients.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host + " port=" + d.Port + " user=" + d.User +
		" password=" + d.Password + " dbname=" + d.DBName + " sslmode=" + d.SSLMode
}
