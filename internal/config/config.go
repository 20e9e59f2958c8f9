package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when NASMUSIC_CONFIG is not set. A missing file is not an error.
const DefaultPath = "config.yaml"

// Config is the resolved runtime configuration.
type Config struct {
	AppName string
	Version string
	Debug   bool

	HTTPAddr string
	GRPCAddr string

	DatabaseURL string
	AutoMigrate bool
	MaxDBConns  int
	RedisURL    string

	SecretKey      string
	JWTAlgorithm   string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	OutputDirectory  string
	AudioFormat      string
	AudioQuality     string
	DownloadTimeout  time.Duration
	YTDLPAutoInstall bool

	CORSOrigins        []string
	RateLimitBurst     int
	RateLimitPerSecond int
	MaxBodyBytes       int64

	SweepInterval      time.Duration
	StuckDownloadAfter time.Duration
}

type configFile struct {
	App struct {
		Name     string `yaml:"name"`
		Debug    *bool  `yaml:"debug"`
		HTTPAddr string `yaml:"http_addr"`
		GRPCAddr string `yaml:"grpc_addr"`
	} `yaml:"app"`
	Database struct {
		URL         string `yaml:"url"`
		AutoMigrate *bool  `yaml:"auto_migrate"`
		MaxConns    int    `yaml:"max_conns"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Auth struct {
		SecretKey                string `yaml:"secret_key"`
		Algorithm                string `yaml:"algorithm"`
		Issuer                   string `yaml:"issuer"`
		AccessTokenExpireMinutes int    `yaml:"access_token_expire_minutes"`
	} `yaml:"auth"`
	Download struct {
		OutputDirectory string `yaml:"output_directory"`
		AudioFormat     string `yaml:"audio_format"`
		AudioQuality    string `yaml:"audio_quality"`
		TimeoutSeconds  *int   `yaml:"timeout_seconds"`
		AutoInstall     *bool  `yaml:"ytdlp_auto_install"`
	} `yaml:"download"`
	HTTP struct {
		CORSOrigins        []string `yaml:"cors_origins"`
		RateLimitBurst     int      `yaml:"rate_limit_burst"`
		RateLimitPerSecond int      `yaml:"rate_limit_per_second"`
		MaxBodyBytes       int64    `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Sweep struct {
		IntervalSeconds           *int `yaml:"interval_seconds"`
		StuckDownloadAfterMinutes int  `yaml:"stuck_download_after_minutes"`
	} `yaml:"sweep"`
}

// Defaults returns the configuration used before the file and environment are applied.
func Defaults() Config {
	return Config{
		AppName:            "NAS Music Downloader",
		Version:            "0.1.0",
		HTTPAddr:           ":8000",
		MaxDBConns:         10,
		JWTAlgorithm:       "HS256",
		JWTIssuer:          "nasmusic",
		AccessTokenTTL:     30 * time.Minute,
		OutputDirectory:    "/app/downloads",
		AudioFormat:        "mp3",
		AudioQuality:       "192K",
		DownloadTimeout:    15 * time.Minute,
		CORSOrigins:        []string{"http://localhost", "http://localhost:3000", "http://localhost:5173", "http://localhost:8080"},
		RateLimitBurst:     10,
		RateLimitPerSecond: 5,
		MaxBodyBytes:       1 << 20,
		StuckDownloadAfter: time.Hour,
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// An empty path falls back to NASMUSIC_CONFIG and then DefaultPath.
func Load(path string) (Config, error) {
	if path == "" {
		path = envOrDefault("NASMUSIC_CONFIG", DefaultPath)
	}
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.App.Name != "" {
		cfg.AppName = f.App.Name
	}
	if f.App.Debug != nil {
		cfg.Debug = *f.App.Debug
	}
	if f.App.HTTPAddr != "" {
		cfg.HTTPAddr = f.App.HTTPAddr
	}
	if f.App.GRPCAddr != "" {
		cfg.GRPCAddr = f.App.GRPCAddr
	}
	if f.Database.URL != "" {
		cfg.DatabaseURL = f.Database.URL
	}
	if f.Database.AutoMigrate != nil {
		cfg.AutoMigrate = *f.Database.AutoMigrate
	}
	if f.Database.MaxConns > 0 {
		cfg.MaxDBConns = f.Database.MaxConns
	}
	if f.Redis.URL != "" {
		cfg.RedisURL = f.Redis.URL
	}
	if f.Auth.SecretKey != "" {
		cfg.SecretKey = f.Auth.SecretKey
	}
	if f.Auth.Algorithm != "" {
		cfg.JWTAlgorithm = f.Auth.Algorithm
	}
	if f.Auth.Issuer != "" {
		cfg.JWTIssuer = f.Auth.Issuer
	}
	if f.Auth.AccessTokenExpireMinutes > 0 {
		cfg.AccessTokenTTL = time.Duration(f.Auth.AccessTokenExpireMinutes) * time.Minute
	}
	if f.Download.OutputDirectory != "" {
		cfg.OutputDirectory = f.Download.OutputDirectory
	}
	if f.Download.AudioFormat != "" {
		cfg.AudioFormat = f.Download.AudioFormat
	}
	if f.Download.AudioQuality != "" {
		cfg.AudioQuality = f.Download.AudioQuality
	}
	if f.Download.TimeoutSeconds != nil {
		cfg.DownloadTimeout = time.Duration(*f.Download.TimeoutSeconds) * time.Second
	}
	if f.Download.AutoInstall != nil {
		cfg.YTDLPAutoInstall = *f.Download.AutoInstall
	}
	if len(f.HTTP.CORSOrigins) > 0 {
		cfg.CORSOrigins = f.HTTP.CORSOrigins
	}
	if f.HTTP.RateLimitBurst > 0 {
		cfg.RateLimitBurst = f.HTTP.RateLimitBurst
	}
	if f.HTTP.RateLimitPerSecond > 0 {
		cfg.RateLimitPerSecond = f.HTTP.RateLimitPerSecond
	}
	if f.HTTP.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = f.HTTP.MaxBodyBytes
	}
	if f.Sweep.IntervalSeconds != nil {
		cfg.SweepInterval = time.Duration(*f.Sweep.IntervalSeconds) * time.Second
	}
	if f.Sweep.StuckDownloadAfterMinutes > 0 {
		cfg.StuckDownloadAfter = time.Duration(f.Sweep.StuckDownloadAfterMinutes) * time.Minute
	}
	return nil
}

func applyEnv(cfg *Config) error {
	env := &envReader{}
	cfg.AppName = envOrDefault("APP_NAME", cfg.AppName)
	cfg.Debug = env.bool("DEBUG", cfg.Debug)
	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = envOrDefault("GRPC_ADDR", cfg.GRPCAddr)

	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.AutoMigrate = env.bool("AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.MaxDBConns = env.int("DB_MAX_CONNS", cfg.MaxDBConns)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)

	cfg.SecretKey = envOrDefault("SECRET_KEY", cfg.SecretKey)
	cfg.JWTAlgorithm = strings.ToUpper(strings.TrimSpace(envOrDefault("JWT_ALGORITHM", cfg.JWTAlgorithm)))
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.AccessTokenTTL = time.Duration(env.int("ACCESS_TOKEN_EXPIRE_MINUTES", int(cfg.AccessTokenTTL.Minutes()))) * time.Minute

	cfg.OutputDirectory = envOrDefault("OUTPUT_DIRECTORY", cfg.OutputDirectory)
	cfg.AudioFormat = envOrDefault("AUDIO_FORMAT", cfg.AudioFormat)
	cfg.AudioQuality = envOrDefault("AUDIO_QUALITY", cfg.AudioQuality)
	cfg.DownloadTimeout = time.Duration(env.int("DOWNLOAD_TIMEOUT_SECONDS", int(cfg.DownloadTimeout.Seconds()))) * time.Second
	cfg.YTDLPAutoInstall = env.bool("YTDLP_AUTO_INSTALL", cfg.YTDLPAutoInstall)

	cfg.CORSOrigins = envCSV("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.RateLimitBurst = env.int("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.RateLimitPerSecond = env.int("RATE_LIMIT_PER_SECOND", cfg.RateLimitPerSecond)

	cfg.SweepInterval = time.Duration(env.int("SWEEP_INTERVAL_SECONDS", int(cfg.SweepInterval.Seconds()))) * time.Second
	cfg.StuckDownloadAfter = time.Duration(env.int("STUCK_DOWNLOAD_AFTER_MINUTES", int(cfg.StuckDownloadAfter.Minutes()))) * time.Minute
	return errors.Join(env.errs...)
}

// Validate reports configuration that cannot produce a working server.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("config: missing DATABASE_URL")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("config: missing SECRET_KEY")
	}
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("config: unsupported JWT_ALGORITHM %q", c.JWTAlgorithm)
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("config: ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if strings.TrimSpace(c.OutputDirectory) == "" {
		return errors.New("config: missing OUTPUT_DIRECTORY")
	}
	if c.DownloadTimeout < 0 {
		return errors.New("config: DOWNLOAD_TIMEOUT_SECONDS must not be negative")
	}
	if c.SweepInterval > 0 {
		return c.CheckStuckThreshold()
	}
	return nil
}

// CheckStuckThreshold reports a reconciliation threshold that could fail a
// download that is still running: the threshold must outlast the download
// timeout, and an unbounded timeout leaves no safe threshold.
func (c Config) CheckStuckThreshold() error {
	if c.StuckDownloadAfter <= 0 {
		return nil
	}
	if c.DownloadTimeout == 0 {
		return errors.New("config: STUCK_DOWNLOAD_AFTER_MINUTES requires a bounded DOWNLOAD_TIMEOUT_SECONDS")
	}
	if c.StuckDownloadAfter <= c.DownloadTimeout {
		return fmt.Errorf("config: STUCK_DOWNLOAD_AFTER_MINUTES (%s) must exceed DOWNLOAD_TIMEOUT_SECONDS (%s)",
			c.StuckDownloadAfter, c.DownloadTimeout)
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envReader parses typed variables and keeps every malformed value so Load can
// report them together.
type envReader struct {
	errs []error
}

func (r *envReader) int(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %q is not an integer", name, raw))
		return fallback
	}
	return v
}

func (r *envReader) bool(name string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch raw {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		r.errs = append(r.errs, fmt.Errorf("config: %s: %q is not a boolean", name, raw))
		return fallback
	}
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
