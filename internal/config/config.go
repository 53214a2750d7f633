// Package config centralizes how PhotoDrop reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/dharsanguruparan/PhotoDrop/internal/logging"
)

// Config represents runtime configuration for every PhotoDrop binary.
type Config struct {
	Environment string `env:"PHOTODROP_ENV" env-default:"development"`
	Address     string `env:"PHOTODROP_ADDRESS" env-default:":8080"`

	Ingest      IngestConfig
	Derivatives DerivativeConfig
	Signing     SigningConfig
	Storage     StorageConfig
	Queue       QueueConfig
	Auth        AuthConfig
	Log         logging.Config

	// DatabaseURL selects the Postgres repository. Empty uses the in-memory one.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR" env-default:"localhost:6379"`

	// RedisPassword is shared by asynq and the lock client.
	RedisPassword string `env:"REDIS_PASSWORD"`
}

// IngestConfig bounds what the upload endpoint accepts.
type IngestConfig struct {
	MaxUploadBytes    int64    `env:"MAX_UPLOAD_BYTES" env-default:"52428800"`
	AllowedTypes      []string `env:"ALLOWED_TYPES" env-separator:"," env-default:"image/jpeg,image/png,image/gif,image/webp,image/heic,image/heif,image/tiff,image/bmp,image/avif"`
	AllowedExtensions []string `env:"ALLOWED_EXTENSIONS" env-separator:"," env-default:".jpg,.jpeg,.png,.gif,.webp,.heic,.heif,.tif,.tiff,.bmp,.avif"`
	HintMaxBytes      int64    `env:"HINT_MAX_BYTES" env-default:"262144"`
	// HintMaxPx follows THUMB_LIST_PX; Validate sets it.
	HintMaxPx int
	FileField         string   `env:"UPLOAD_FILE_FIELD" env-default:"file"`
	HintField         string   `env:"UPLOAD_HINT_FIELD" env-default:"thumbnail"`
}

// DerivativeConfig sizes the generated images.
type DerivativeConfig struct {
	ThumbDetailPx int    `env:"THUMB_DETAIL_PX" env-default:"1200"`
	ThumbListPx   int    `env:"THUMB_LIST_PX" env-default:"400"`
	DisplayMaxPx  int    `env:"DISPLAY_MAX_PX" env-default:"2560"`
	JPEGQuality   int    `env:"JPEG_QUALITY" env-default:"82"`
	HEICConverter string `env:"HEIC_CONVERTER" env-default:"magick"`
}

// SigningConfig drives signed media URLs.
type SigningConfig struct {
	Secret string        `env:"SIGNING_SECRET"`
	Window time.Duration `env:"SIGNING_WINDOW" env-default:"24h"`

	// ServeMode is "redirect" (302 to a presigned URL) or "stream".
	ServeMode  string        `env:"MEDIA_SERVE_MODE" env-default:"redirect"`
	PresignTTL time.Duration `env:"PRESIGN_TTL" env-default:"5m"`

	// PublicBaseURL prefixes minted media URLs. Empty yields relative URLs.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend   string `env:"STORAGE_BACKEND" env-default:"minio"`
	Endpoint  string `env:"S3_ENDPOINT" env-default:"localhost:9000"`
	AccessKey string `env:"S3_ACCESS_KEY" env-default:"minioadmin"`
	SecretKey string `env:"S3_SECRET_KEY" env-default:"minioadmin"`
	Region    string `env:"S3_REGION" env-default:"us-east-1"`
	Bucket    string `env:"S3_BUCKET" env-default:"photos"`
	UseSSL    bool   `env:"S3_USE_SSL" env-default:"false"`

	// AWSEndpoint overrides the AWS S3 endpoint (STORAGE_BACKEND=s3) for
	// S3-compatible services. Empty uses the regional AWS endpoint.
	AWSEndpoint  string `env:"AWS_S3_ENDPOINT"`
	UsePathStyle bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`

	// PartSizeMB caps the memory a streaming multipart put buffers.
	PartSizeMB int `env:"S3_PART_SIZE_MB" env-default:"5"`
}

// QueueConfig selects how derivative jobs run.
type QueueConfig struct {
	Backend     string        `env:"QUEUE_BACKEND" env-default:"asynq"`
	Concurrency int           `env:"WORKER_CONCURRENCY" env-default:"4"`
	LockTTL     time.Duration `env:"PHOTO_LOCK_TTL" env-default:"15m"`
	MaxRetry    int           `env:"JOB_MAX_RETRY" env-default:"5"`
}

// AuthConfig configures the legacy bearer/cookie authentication.
type AuthConfig struct {
	JWTSecret  string `env:"JWT_SECRET"`
	CookieName string `env:"AUTH_COOKIE" env-default:"session"`
}

const (
	defaultMaxUpload   = 50 << 20 // 50 MiB
	defaultHintMax     = 256 << 10
	defaultThumbListPx = 400
	defaultWindow      = 24 * time.Hour
	defaultConcurrency = 4
	minPartSizeMB      = 5
)

// Load reads an optional .env file outside production, then the environment.
func Load() (*Config, error) {
	if os.Getenv("PHOTODROP_ENV") != "production" {
		// A missing .env is normal.
		_ = godotenv.Load()
	}
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes out-of-range values to defaults and rejects unknown
// backend names.
func (c *Config) Validate() error {
	if c.Ingest.MaxUploadBytes <= 0 {
		c.Ingest.MaxUploadBytes = defaultMaxUpload
	}
	if c.Ingest.HintMaxBytes <= 0 {
		c.Ingest.HintMaxBytes = defaultHintMax
	}
	if c.Derivatives.ThumbListPx <= 0 {
		c.Derivatives.ThumbListPx = defaultThumbListPx
	}
	c.Ingest.HintMaxPx = c.Derivatives.ThumbListPx
	c.Ingest.AllowedTypes = cleanList(c.Ingest.AllowedTypes)
	c.Ingest.AllowedExtensions = cleanList(c.Ingest.AllowedExtensions)
	if c.Signing.Window <= 0 {
		c.Signing.Window = defaultWindow
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = defaultConcurrency
	}
	if c.Storage.PartSizeMB < minPartSizeMB {
		c.Storage.PartSizeMB = minPartSizeMB
	}

	switch c.Storage.Backend {
	case "minio", "s3", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	switch c.Queue.Backend {
	case "asynq", "inline":
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.Queue.Backend)
	}
	switch c.Signing.ServeMode {
	case "redirect", "stream":
	default:
		return fmt.Errorf("unknown MEDIA_SERVE_MODE %q", c.Signing.ServeMode)
	}
	return nil
}

// SigningSecret returns the configured secret or a random one. A random
// secret only works for a single instance.
func (c *Config) SigningSecret() (secret []byte, generated bool) {
	if c.Signing.Secret != "" {
		return []byte(c.Signing.Secret), false
	}
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	c.Signing.Secret = string(buf)
	return buf, true
}

// PartSize returns the multipart part size in bytes.
func (c StorageConfig) PartSize() uint64 {
	return uint64(c.PartSizeMB) << 20
}

func cleanList(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
