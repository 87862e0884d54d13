package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// Version is overridden at build time with -ldflags "-X .../config.Version=..."
var Version = "1.0.0"

type Config struct {
	App        AppConfig
	Storage    StorageConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	Scan       ScanConfig
	RateLimits map[entity.Provider]entity.RateLimitConfig
	SeedKeys   map[entity.Provider]string
}

type AppConfig struct {
	Env      string
	Port     int
	Host     string
	LogLevel string

	CORSOrigins       []string
	RequestsPerMinute int // per client IP, API routes only
}

type StorageConfig struct {
	Backend string // memory or redis
}

type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

type ScanConfig struct {
	DefaultMode    entity.ScanMode
	SmartPrimary   []entity.Provider
	SmartThreshold int
	RescanPolicy   string
	DispatchRate   float64
	DispatchBurst  int
	MockLatency    time.Duration
}

// providerEnv is the env var prefix of each provider
var providerEnv = map[entity.Provider]string{
	entity.ProviderVirusTotal:  "VIRUSTOTAL",
	entity.ProviderAbuseIPDB:   "ABUSEIPDB",
	entity.ProviderScamalytics: "SCAMALYTICS",
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/etc/ipreputation")

	// Environment variables
	viper.AutomaticEnv()

	bindEnvVars()
	setDefaults()

	// Try to read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("Error reading config file", "error", err)
		}
	}

	mode, err := entity.ParseScanMode(viper.GetString("SCAN_DEFAULT_MODE"))
	if err != nil {
		return nil, err
	}

	primary, err := parseProviders(viper.GetString("SCAN_SMART_PRIMARY"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		App: AppConfig{
			Env:      viper.GetString("APP_ENV"),
			Port:     viper.GetInt("APP_PORT"),
			Host:     viper.GetString("APP_HOST"),
			LogLevel: viper.GetString("LOG_LEVEL"),

			CORSOrigins:       splitList(viper.GetString("CORS_ORIGINS")),
			RequestsPerMinute: viper.GetInt("API_RATE_LIMIT"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(viper.GetString("STORAGE_BACKEND")),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  viper.GetBool("CLICKHOUSE_ENABLED"),
			Host:     viper.GetString("CLICKHOUSE_HOST"),
			Port:     viper.GetInt("CLICKHOUSE_PORT"),
			User:     viper.GetString("CLICKHOUSE_USER"),
			Password: viper.GetString("CLICKHOUSE_PASSWORD"),
			Database: viper.GetString("CLICKHOUSE_DATABASE"),
		},
		Redis: RedisConfig{
			Host:      viper.GetString("REDIS_HOST"),
			Port:      viper.GetInt("REDIS_PORT"),
			Password:  viper.GetString("REDIS_PASSWORD"),
			DB:        viper.GetInt("REDIS_DB"),
			KeyPrefix: viper.GetString("REDIS_KEY_PREFIX"),
		},
		Scan: ScanConfig{
			DefaultMode:    mode,
			SmartPrimary:   primary,
			SmartThreshold: viper.GetInt("SCAN_SMART_THRESHOLD"),
			RescanPolicy:   viper.GetString("SCAN_RESCAN_POLICY"),
			DispatchRate:   viper.GetFloat64("SCAN_DISPATCH_RATE"),
			DispatchBurst:  viper.GetInt("SCAN_DISPATCH_BURST"),
			MockLatency:    viper.GetDuration("PROVIDER_MOCK_LATENCY"),
		},
		RateLimits: make(map[entity.Provider]entity.RateLimitConfig),
		SeedKeys:   make(map[entity.Provider]string),
	}

	for p, prefix := range providerEnv {
		config.RateLimits[p] = entity.RateLimitConfig{
			MaxRequestsPerWindow: viper.GetInt(prefix + "_RATE_LIMIT"),
			Window:               viper.GetDuration(prefix + "_RATE_WINDOW"),
			DailyQuota:           viper.GetInt(prefix + "_DAILY_QUOTA"),
		}
		if key := viper.GetString(prefix + "_API_KEY"); key != "" {
			config.SeedKeys[p] = key
		}
	}

	return config, nil
}

func parseProviders(list string) ([]entity.Provider, error) {
	var out []entity.Provider
	for _, name := range strings.Split(list, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		p, err := entity.ParseProvider(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func bindEnvVars() {
	// App
	viper.BindEnv("APP_ENV")
	viper.BindEnv("APP_PORT")
	viper.BindEnv("APP_HOST")
	viper.BindEnv("LOG_LEVEL")
	viper.BindEnv("CORS_ORIGINS")
	viper.BindEnv("API_RATE_LIMIT")

	viper.BindEnv("STORAGE_BACKEND")

	// ClickHouse
	viper.BindEnv("CLICKHOUSE_ENABLED")
	viper.BindEnv("CLICKHOUSE_HOST")
	viper.BindEnv("CLICKHOUSE_PORT")
	viper.BindEnv("CLICKHOUSE_USER")
	viper.BindEnv("CLICKHOUSE_PASSWORD")
	viper.BindEnv("CLICKHOUSE_DATABASE")

	// Redis
	viper.BindEnv("REDIS_HOST")
	viper.BindEnv("REDIS_PORT")
	viper.BindEnv("REDIS_PASSWORD")
	viper.BindEnv("REDIS_DB")
	viper.BindEnv("REDIS_KEY_PREFIX")

	// Scan
	viper.BindEnv("SCAN_DEFAULT_MODE")
	viper.BindEnv("SCAN_SMART_PRIMARY")
	viper.BindEnv("SCAN_SMART_THRESHOLD")
	viper.BindEnv("SCAN_RESCAN_POLICY")
	viper.BindEnv("SCAN_DISPATCH_RATE")
	viper.BindEnv("SCAN_DISPATCH_BURST")
	viper.BindEnv("PROVIDER_MOCK_LATENCY")

	// Providers
	for _, prefix := range providerEnv {
		viper.BindEnv(prefix + "_API_KEY")
		viper.BindEnv(prefix + "_RATE_LIMIT")
		viper.BindEnv(prefix + "_RATE_WINDOW")
		viper.BindEnv(prefix + "_DAILY_QUOTA")
	}
}

func setDefaults() {
	// App defaults
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_HOST", "0.0.0.0")
	viper.SetDefault("LOG_LEVEL", "")
	viper.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	viper.SetDefault("API_RATE_LIMIT", 100)

	viper.SetDefault("STORAGE_BACKEND", "memory")

	// ClickHouse defaults
	viper.SetDefault("CLICKHOUSE_ENABLED", false)
	viper.SetDefault("CLICKHOUSE_HOST", "localhost")
	viper.SetDefault("CLICKHOUSE_PORT", 9000)
	viper.SetDefault("CLICKHOUSE_USER", "default")
	viper.SetDefault("CLICKHOUSE_DATABASE", "ip_reputation")

	// Redis defaults
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_KEY_PREFIX", "ipreputation")

	// Scan defaults
	viper.SetDefault("SCAN_DEFAULT_MODE", string(entity.ScanModeSmart))
	viper.SetDefault("SCAN_SMART_PRIMARY", "VirusTotal,AbuseIPDB")
	viper.SetDefault("SCAN_SMART_THRESHOLD", 2)
	viper.SetDefault("SCAN_RESCAN_POLICY", "never")
	viper.SetDefault("SCAN_DISPATCH_RATE", 0)
	viper.SetDefault("SCAN_DISPATCH_BURST", 1)
	viper.SetDefault("PROVIDER_MOCK_LATENCY", 500*time.Millisecond)

	// Provider free-tier limits
	for p, prefix := range providerEnv {
		limits := entity.DefaultRateLimits[p]
		viper.SetDefault(prefix+"_RATE_LIMIT", limits.MaxRequestsPerWindow)
		viper.SetDefault(prefix+"_RATE_WINDOW", limits.Window)
		viper.SetDefault(prefix+"_DAILY_QUOTA", limits.DailyQuota)
	}
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// UsesRedis reports whether usage, history and keys live in Redis
func (c *Config) UsesRedis() bool {
	return c.Storage.Backend == "redis"
}

func SetupLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
	}
	if cfg.App.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.App.LogLevel)); err == nil {
			opts.Level = level
		}
	}

	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
