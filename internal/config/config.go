package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ideaboard/api/internal/timer"
)

type Config struct {
	Addr             string            `yaml:"addr"`
	DatabaseURL      string            `yaml:"databaseUrl"`
	MigrationsDir    string            `yaml:"migrationsDir"`
	RedisURL         string            `yaml:"redisUrl"`
	MeiliURL         string            `yaml:"meiliUrl"`
	MeiliMasterKey   string            `yaml:"meiliMasterKey"`
	JWTSecret        string            `yaml:"jwtSecret"`
	TokenTTL         time.Duration     `yaml:"tokenTtl"`
	CORSOrigin       string            `yaml:"corsOrigin"`
	LogLevel         string            `yaml:"logLevel"`
	ObjectStore      ObjectStoreConfig `yaml:"objectStore"`
	MaxImageBytes    int64             `yaml:"maxImageBytes"`
	UpvoteAttempts   int               `yaml:"upvoteAttempts"`
	SubmissionPolicy string            `yaml:"submissionPolicy"`
}

// ObjectStoreConfig points at an S3-compatible store for idea images. An
// empty Endpoint disables uploads.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
	Region    string `yaml:"region"`
}

func defaults() Config {
	return Config{
		Addr:             ":8787",
		MigrationsDir:    "./db/migrations",
		JWTSecret:        "ideaboard-dev-secret",
		TokenTTL:         time.Hour,
		CORSOrigin:       "*",
		LogLevel:         "info",
		ObjectStore:      ObjectStoreConfig{Bucket: "ideaboard"},
		MaxImageBytes:    5 << 20,
		UpvoteAttempts:   4,
		SubmissionPolicy: string(timer.SubmitAlways),
	}
}

// Load builds the configuration from defaults, then an optional YAML file
// named by IDEABOARD_CONFIG_PATH, then the environment. A .env file (or the
// file named by IDEABOARD_ENV_FILE) is loaded into the environment first;
// variables already set win over it.
func Load() (Config, error) {
	if err := loadDotEnv(getenv("IDEABOARD_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := defaults()
	if path := os.Getenv("IDEABOARD_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Addr = getenv("API_ADDR", cfg.Addr)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = getenv("IDEABOARD_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.MeiliURL = getenv("MEILI_URL", cfg.MeiliURL)
	cfg.MeiliMasterKey = getenv("MEILI_MASTER_KEY", cfg.MeiliMasterKey)
	cfg.JWTSecret = getenv("IDEABOARD_JWT_SECRET", cfg.JWTSecret)
	cfg.CORSOrigin = getenv("IDEABOARD_CORS_ORIGIN", cfg.CORSOrigin)
	cfg.LogLevel = getenv("IDEABOARD_LOG_LEVEL", cfg.LogLevel)
	cfg.SubmissionPolicy = getenv("IDEABOARD_SUBMISSION_POLICY", cfg.SubmissionPolicy)
	cfg.ObjectStore.Endpoint = getenv("MINIO_ENDPOINT", cfg.ObjectStore.Endpoint)
	cfg.ObjectStore.AccessKey = getenv("MINIO_ACCESS_KEY", cfg.ObjectStore.AccessKey)
	cfg.ObjectStore.SecretKey = getenv("MINIO_SECRET_KEY", cfg.ObjectStore.SecretKey)
	cfg.ObjectStore.Bucket = getenv("MINIO_BUCKET", cfg.ObjectStore.Bucket)
	cfg.ObjectStore.Region = getenv("MINIO_REGION", cfg.ObjectStore.Region)

	var err error
	if cfg.ObjectStore.UseSSL, err = getenvBool("MINIO_USE_SSL", cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	ttlSeconds, err := getenvInt("IDEABOARD_TOKEN_TTL_SECONDS", int(cfg.TokenTTL/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL = time.Duration(ttlSeconds) * time.Second
	maxImage, err := getenvInt("IDEABOARD_MAX_IMAGE_BYTES", int(cfg.MaxImageBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxImageBytes = int64(maxImage)
	if cfg.UpvoteAttempts, err = getenvInt("IDEABOARD_UPVOTE_ATTEMPTS", cfg.UpvoteAttempts); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("API_ADDR is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("IDEABOARD_JWT_SECRET is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("max image bytes must be positive")
	}
	if c.UpvoteAttempts <= 0 {
		return fmt.Errorf("upvote attempts must be positive")
	}
	if _, err := timer.ParsePolicy(c.SubmissionPolicy); err != nil {
		return err
	}
	return nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
