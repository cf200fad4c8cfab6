package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	DownloadPath      string
	TorrentListenPort int
	MetadataTimeout   time.Duration
	RestoreDelay      time.Duration

	ScraperURL                string
	SearchBackendTimeout      time.Duration
	SearchProviderConcurrency int
	SearchCacheTTL            time.Duration
	SearchCachePurgeSchedule  string

	RedisURL      string
	MongoURI      string
	MongoDatabase string

	TransmissionURL      string
	TransmissionUsername string
	TransmissionPassword string

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	OTelEndpoint   string
	OTelSampleRate float64
}

// fileConfig mirrors Config for the YAML overlay. Durations are strings in
// time.ParseDuration form.
type fileConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	DownloadPath      string `yaml:"download_path"`
	TorrentListenPort int    `yaml:"torrent_listen_port"`
	MetadataTimeout   string `yaml:"metadata_timeout"`
	RestoreDelay      string `yaml:"restore_delay"`

	Search struct {
		ScraperURL    string `yaml:"scraper_url"`
		Timeout       string `yaml:"backend_timeout"`
		Concurrency   int    `yaml:"provider_concurrency"`
		CacheTTL      string `yaml:"cache_ttl"`
		PurgeSchedule string `yaml:"cache_purge_schedule"`
	} `yaml:"search"`

	RedisURL string `yaml:"redis_url"`
	Mongo    struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`

	Transmission struct {
		URL      string `yaml:"url"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"transmission"`

	HTTP struct {
		RateLimitRPS       float64  `yaml:"rate_limit_rps"`
		RateLimitBurst     int      `yaml:"rate_limit_burst"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"http"`

	OTel struct {
		Endpoint   string  `yaml:"endpoint"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:                  ":3000",
		LogLevel:                  "info",
		LogFormat:                 "text",
		DownloadPath:              "~/Downloads",
		MetadataTimeout:           60 * time.Second,
		RestoreDelay:              time.Second,
		ScraperURL:                "http://localhost:8000",
		SearchBackendTimeout:      45 * time.Second,
		SearchProviderConcurrency: 4,
		SearchCacheTTL:            10 * time.Minute,
		SearchCachePurgeSchedule:  "@every 10m",
		MongoDatabase:             "bitfinder",
		TransmissionURL:           "http://localhost:9091/transmission/rpc",
		RateLimitRPS:              100,
		RateLimitBurst:            200,
		OTelSampleRate:            0.1,
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named
// by CONFIG_FILE, then the environment. A .env file in the working directory
// (or ENV_FILE) seeds the environment without overriding it.
func LoadConfig() (Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := defaultConfig()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	downloadPath, err := expandHome(cfg.DownloadPath)
	if err != nil {
		return Config{}, err
	}
	cfg.DownloadPath = downloadPath
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.DownloadPath, fc.DownloadPath)
	if fc.TorrentListenPort > 0 {
		cfg.TorrentListenPort = fc.TorrentListenPort
	}
	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"metadata_timeout", fc.MetadataTimeout, &cfg.MetadataTimeout},
		{"restore_delay", fc.RestoreDelay, &cfg.RestoreDelay},
		{"search.backend_timeout", fc.Search.Timeout, &cfg.SearchBackendTimeout},
		{"search.cache_ttl", fc.Search.CacheTTL, &cfg.SearchCacheTTL},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.value) == "" {
			continue
		}
		parsed, ok := parseDuration(d.value)
		if !ok {
			return fmt.Errorf("config file %s: invalid duration for %s: %q", path, d.key, d.value)
		}
		*d.dst = parsed
	}

	setString(&cfg.ScraperURL, fc.Search.ScraperURL)
	if fc.Search.Concurrency > 0 {
		cfg.SearchProviderConcurrency = fc.Search.Concurrency
	}
	setString(&cfg.SearchCachePurgeSchedule, fc.Search.PurgeSchedule)
	setString(&cfg.RedisURL, fc.RedisURL)
	setString(&cfg.MongoURI, fc.Mongo.URI)
	setString(&cfg.MongoDatabase, fc.Mongo.Database)
	setString(&cfg.TransmissionURL, fc.Transmission.URL)
	setString(&cfg.TransmissionUsername, fc.Transmission.Username)
	setString(&cfg.TransmissionPassword, fc.Transmission.Password)
	if fc.HTTP.RateLimitRPS > 0 {
		cfg.RateLimitRPS = fc.HTTP.RateLimitRPS
	}
	if fc.HTTP.RateLimitBurst > 0 {
		cfg.RateLimitBurst = fc.HTTP.RateLimitBurst
	}
	if len(fc.HTTP.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = fc.HTTP.CORSAllowedOrigins
	}
	setString(&cfg.OTelEndpoint, fc.OTel.Endpoint)
	if fc.OTel.SampleRate > 0 {
		cfg.OTelSampleRate = fc.OTel.SampleRate
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.DownloadPath = getEnv("DOWNLOAD_PATH", cfg.DownloadPath)
	cfg.TorrentListenPort = int(getEnvInt64("TORRENT_LISTEN_PORT", int64(cfg.TorrentListenPort)))
	cfg.MetadataTimeout = getEnvDuration("METADATA_TIMEOUT", cfg.MetadataTimeout)
	cfg.RestoreDelay = getEnvDuration("RESTORE_DELAY", cfg.RestoreDelay)

	cfg.ScraperURL = getEnv("SCRAPER_URL", cfg.ScraperURL)
	cfg.SearchBackendTimeout = getEnvDuration("SEARCH_BACKEND_TIMEOUT", cfg.SearchBackendTimeout)
	cfg.SearchProviderConcurrency = int(getEnvInt64("SEARCH_PROVIDER_CONCURRENCY", int64(cfg.SearchProviderConcurrency)))
	cfg.SearchCacheTTL = getEnvDuration("SEARCH_CACHE_TTL", cfg.SearchCacheTTL)
	cfg.SearchCachePurgeSchedule = getEnv("SEARCH_CACHE_PURGE_SCHEDULE", cfg.SearchCachePurgeSchedule)

	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.MongoURI = getEnv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = getEnv("MONGO_DATABASE", cfg.MongoDatabase)

	cfg.TransmissionURL = getEnv("TRANSMISSION_URL", cfg.TransmissionURL)
	cfg.TransmissionUsername = getEnv("TRANSMISSION_USERNAME", cfg.TransmissionUsername)
	cfg.TransmissionPassword = getEnv("TRANSMISSION_PASSWORD", cfg.TransmissionPassword)

	cfg.RateLimitRPS = getEnvFloat("HTTP_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = int(getEnvInt64("HTTP_RATE_LIMIT_BURST", int64(cfg.RateLimitBurst)))
	if origins := parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.CORSAllowedOrigins = origins
	}

	cfg.OTelEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelSampleRate = getEnvFloat("OTEL_TRACES_SAMPLER_ARG", cfg.OTelSampleRate)
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

// expandHome resolves a leading "~" against the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if parsed, ok := parseDuration(value); ok {
		return parsed
	}
	return fallback
}

// parseDuration accepts Go duration strings or a bare number of seconds.
func parseDuration(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d, true
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}

func parseCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
