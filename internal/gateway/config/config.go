package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultPort           = 5000
	DefaultMaxUploadBytes = 250 << 20
	DefaultCacheSize      = 1024
)

type Config struct {
	Port           int           `toml:"port"`
	Localhost      bool          `toml:"localhost"`
	Env            string        `toml:"env"`
	DataDir        string        `toml:"data_dir"`
	APIKeys        string        `toml:"api_keys"`
	MaxUploadBytes int64         `toml:"max_upload_bytes"`
	AllowedOrigins string        `toml:"allowed_origins"`
	Log            LogConfig     `toml:"log"`
	Catalog        CatalogConfig `toml:"catalog"`
	Archive        ArchiveConfig `toml:"archive"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type CatalogConfig struct {
	// DatabaseURL selects the postgres catalog; sqlite otherwise.
	DatabaseURL string `toml:"database_url"`
	SQLitePath  string `toml:"sqlite_path"`
	CacheSize   int    `toml:"cache_size"`
}

type ArchiveConfig struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

// CanUseS3 reports whether enough is set to reach a bucket.
func (c ArchiveConfig) CanUseS3() bool {
	return strings.TrimSpace(c.Endpoint) != "" &&
		strings.TrimSpace(c.AccessKey) != "" &&
		strings.TrimSpace(c.SecretKey) != "" &&
		strings.TrimSpace(c.Bucket) != ""
}

// Addr is the listen address.
func (c *Config) Addr() string {
	host := ""
	if c.Localhost {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// Origins splits AllowedOrigins on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// SQLitePath resolves the catalog file, defaulting into the data dir.
func (c *Config) SQLitePath() string {
	return firstNonEmpty(c.Catalog.SQLitePath, filepath.Join(c.DataDir, "catalog.sqlite"))
}

// UploadDir is where the disk archive store keeps blobs.
func (c *Config) UploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// Load reads configuration from, in increasing precedence: built-in
// defaults, an optional TOML file, the environment (including .env) and
// command line flags.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	port := fs.Int("port", 0, "server port")
	localhost := fs.Bool("localhost", false, "only allow connections from this computer")
	configPath := fs.String("config", "", "path to a TOML config file")
	dataDir := fs.String("data-dir", "", "directory for the catalog database and uploads")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := defaults()
	if path := firstNonEmpty(*configPath, os.Getenv("DARDANELLES_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "localhost":
			cfg.Localhost = *localhost
		case "data-dir":
			cfg.DataDir = *dataDir
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:           DefaultPort,
		Env:            "local",
		DataDir:        defaultDataDir(),
		MaxUploadBytes: DefaultMaxUploadBytes,
		Log:            LogConfig{Level: "info", Format: "text"},
		Catalog:        CatalogConfig{CacheSize: DefaultCacheSize},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Bucket: "dardanelles-archives",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "dardanelles")
	}
	return filepath.Join(os.TempDir(), "dardanelles")
}

func applyEnv(cfg *Config) error {
	if raw := strings.TrimSpace(os.Getenv("PORT")); raw != "" {
		port, err := strconv.Atoi(strings.TrimPrefix(raw, ":"))
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", raw, err)
		}
		cfg.Port = port
	}
	if raw := strings.TrimSpace(os.Getenv("MAX_UPLOAD_BYTES")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", raw, err)
		}
		cfg.MaxUploadBytes = n
	}
	if raw := strings.TrimSpace(os.Getenv("CATALOG_CACHE_SIZE")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid CATALOG_CACHE_SIZE %q: %w", raw, err)
		}
		cfg.Catalog.CacheSize = n
	}

	cfg.Env = firstNonEmpty(os.Getenv("APP_ENV"), cfg.Env)
	cfg.DataDir = firstNonEmpty(os.Getenv("DARDANELLES_DATA_DIR"), cfg.DataDir)
	cfg.APIKeys = firstNonEmpty(os.Getenv("DARDANELLES_API_KEYS"), cfg.APIKeys)
	cfg.AllowedOrigins = firstNonEmpty(os.Getenv("CORS_ALLOWED_ORIGINS"), cfg.AllowedOrigins)
	cfg.Log.Level = firstNonEmpty(os.Getenv("LOG_LEVEL"), cfg.Log.Level)
	cfg.Log.Format = firstNonEmpty(os.Getenv("LOG_FORMAT"), cfg.Log.Format)
	cfg.Catalog.DatabaseURL = firstNonEmpty(os.Getenv("CATALOG_DATABASE_URL"), cfg.Catalog.DatabaseURL)
	cfg.Catalog.SQLitePath = firstNonEmpty(os.Getenv("CATALOG_SQLITE_PATH"), cfg.Catalog.SQLitePath)
	applyArchiveEnv(cfg)
	return nil
}

func applyArchiveEnv(cfg *Config) {
	a := &cfg.Archive
	if strings.EqualFold(strings.TrimSpace(cfg.Env), "local") {
		a.Endpoint = firstNonEmpty(os.Getenv("ARCHIVE_MINIO_ENDPOINT"), os.Getenv("ARCHIVE_S3_ENDPOINT"), a.Endpoint)
	} else {
		a.Endpoint = firstNonEmpty(os.Getenv("ARCHIVE_S3_ENDPOINT"), a.Endpoint)
	}
	a.Region = firstNonEmpty(os.Getenv("ARCHIVE_S3_REGION"), a.Region)
	a.AccessKey = firstNonEmpty(os.Getenv("ARCHIVE_S3_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER"), a.AccessKey)
	a.SecretKey = firstNonEmpty(os.Getenv("ARCHIVE_S3_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD"), a.SecretKey)
	a.Bucket = firstNonEmpty(os.Getenv("ARCHIVE_S3_BUCKET"), a.Bucket)
	a.Prefix = firstNonEmpty(os.Getenv("ARCHIVE_S3_PREFIX"), a.Prefix)
	if raw := strings.TrimSpace(os.Getenv("ARCHIVE_S3_USE_SSL")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			a.UseSSL = v
		}
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data dir is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.Catalog.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("catalog cache size must not be negative, got %d", c.Catalog.CacheSize))
	}
	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
