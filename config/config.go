package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// MongoDB, used when the preference backend is "mongo".
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DatabaseName string `mapstructure:"DATABASE_NAME"`

	// Redis configuration (geocode cache).
	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	RedisPassword   string        `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB    int           `mapstructure:"REDIS_CACHE_DB"`
	GeocodeCacheTTL time.Duration `mapstructure:"GEOCODE_CACHE_TTL"`

	// Geocoding provider (Nominatim compatible).
	GeocoderBaseURL    string  `mapstructure:"GEOCODER_BASE_URL"`
	GeocoderUserAgent  string  `mapstructure:"GEOCODER_USER_AGENT"`
	GeocoderRatePerSec float64 `mapstructure:"GEOCODER_RATE_PER_SEC"`

	// Remote services.
	PreferenceBackend   string        `mapstructure:"PREFERENCE_BACKEND"`
	PreferenceBaseURL   string        `mapstructure:"PREFERENCE_BASE_URL"`
	AvailabilityBaseURL string        `mapstructure:"AVAILABILITY_BASE_URL"`
	HTTPTimeout         time.Duration `mapstructure:"HTTP_TIMEOUT"`

	// Discovery behaviour.
	SearchDebounce      time.Duration `mapstructure:"SEARCH_DEBOUNCE"`
	DefaultRadiusKm     float64       `mapstructure:"DEFAULT_RADIUS_KM"`
	DeviceCallTimeout   time.Duration `mapstructure:"DEVICE_CALL_TIMEOUT"`
	SessionIdleTTL      time.Duration `mapstructure:"SESSION_IDLE_TTL"`
	SessionReapInterval time.Duration `mapstructure:"SESSION_REAP_INTERVAL"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func setDefaults() {
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 200)
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("DATABASE_NAME", "homehelp")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("GEOCODE_CACHE_TTL", "24h")
	viper.SetDefault("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org")
	viper.SetDefault("GEOCODER_USER_AGENT", "homehelp-discovery/1.0 (support@homehelp.app)")
	viper.SetDefault("GEOCODER_RATE_PER_SEC", 1.0)
	viper.SetDefault("PREFERENCE_BACKEND", "http")
	viper.SetDefault("PREFERENCE_BASE_URL", "http://localhost:9000/api")
	viper.SetDefault("AVAILABILITY_BASE_URL", "http://localhost:9000/api")
	viper.SetDefault("HTTP_TIMEOUT", "20s")
	viper.SetDefault("SEARCH_DEBOUNCE", "500ms")
	viper.SetDefault("DEFAULT_RADIUS_KM", 10.0)
	viper.SetDefault("DEVICE_CALL_TIMEOUT", "15s")
	viper.SetDefault("SESSION_IDLE_TTL", "30m")
	viper.SetDefault("SESSION_REAP_INTERVAL", "1m")
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}
