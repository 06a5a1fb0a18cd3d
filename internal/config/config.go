package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/italolelis/drive_relay/internal/transfer"
)

// Drivers.
const (
	SourceGDrive = "gdrive"
	SourcePutio  = "putio"

	StoreS3     = "s3"
	StoreMinio  = "minio"
	StoreMemory = "memory"
)

// MinRemotePartSize is the smallest part S3-compatible stores accept for
// every part but the last.
const MinRemotePartSize = 5 * 1024 * 1024

// ByteSize is a size in bytes that can be written as "10MB" or "64MiB".
type ByteSize int64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value, err)
	}

	*b = ByteSize(n)

	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Config struct for environment variables.
type Config struct {
	LogLevel      string `envconfig:"LOG_LEVEL" default:"INFO"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL"`

	SourceDriver string `envconfig:"SOURCE_DRIVER" default:"gdrive"`
	GDriveAPIKey string `envconfig:"GDRIVE_API_KEY"`
	GDriveAPIURL string `envconfig:"GDRIVE_API_URL" default:"https://www.googleapis.com/drive/v3"`
	PutioToken   string `envconfig:"PUTIO_TOKEN"`

	Store struct {
		Driver      string `split_words:"true" default:"s3"`
		Endpoint    string `split_words:"true"`
		R2AccountID string `envconfig:"R2_ACCOUNT_ID"`
		AccessKey   string `split_words:"true"`
		SecretKey   string `split_words:"true"`
		Bucket      string `split_words:"true"`
		Region      string `split_words:"true" default:"auto"`
		Secure      bool   `split_words:"true" default:"true"`
	}

	Transfer struct {
		MaxConcurrent int      `split_words:"true" default:"2"`
		PartSize      ByteSize `split_words:"true" default:"10MiB"`
		PartsInFlight int      `split_words:"true" default:"4"`
		MinIDLength   int      `envconfig:"MIN_ID_LENGTH"`
	}

	DBPath           string        `envconfig:"DB_PATH" default:"relay.db"`
	JournalRetention time.Duration `envconfig:"JOURNAL_RETENTION" default:"168h"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"drive_relay"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables, populates the Config struct and
// validates it. A .env file in the working directory is loaded first when
// present; variables already set in the environment take precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings that envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.SourceDriver {
	case SourceGDrive:
		if c.GDriveAPIKey == "" {
			errs = append(errs, errors.New("GDRIVE_API_KEY is required for the gdrive source"))
		}
	case SourcePutio:
		if c.PutioToken == "" {
			errs = append(errs, errors.New("PUTIO_TOKEN is required for the putio source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source driver %q", c.SourceDriver))
	}

	switch c.Store.Driver {
	case StoreS3, StoreMinio:
		if c.Store.Bucket == "" {
			errs = append(errs, errors.New("STORE_BUCKET is required"))
		}

		if c.StoreEndpoint() == "" && c.Store.Driver == StoreMinio {
			errs = append(errs, errors.New("STORE_ENDPOINT or STORE_R2_ACCOUNT_ID is required for the minio store"))
		}

		if c.Transfer.PartSize < MinRemotePartSize {
			errs = append(errs, fmt.Errorf("TRANSFER_PART_SIZE must be at least %s, got %s",
				ByteSize(MinRemotePartSize), c.Transfer.PartSize))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Transfer.PartSize <= 0 {
		errs = append(errs, errors.New("TRANSFER_PART_SIZE must be positive"))
	}

	if c.Transfer.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("TRANSFER_MAX_CONCURRENT must be at least 1, got %d", c.Transfer.MaxConcurrent))
	}

	if c.Transfer.MinIDLength < 0 {
		errs = append(errs, fmt.Errorf("TRANSFER_MIN_ID_LENGTH cannot be negative, got %d", c.Transfer.MinIDLength))
	}

	if c.Transfer.PartsInFlight < 1 {
		errs = append(errs, fmt.Errorf("TRANSFER_PARTS_IN_FLIGHT must be at least 1, got %d", c.Transfer.PartsInFlight))
	}

	return errors.Join(errs...)
}

// StoreEndpoint is the configured endpoint, or the Cloudflare R2 endpoint of
// the account when only an account id is set.
func (c *Config) StoreEndpoint() string {
	if c.Store.Endpoint != "" {
		return c.Store.Endpoint
	}

	if c.Store.R2AccountID != "" {
		return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.Store.R2AccountID)
	}

	return ""
}

// IDRule is the identifier rule of the configured source driver.
// TRANSFER_MIN_ID_LENGTH overrides the driver's minimum length when set.
func (c *Config) IDRule() transfer.IDRule {
	rule := transfer.DriveIDRule
	if c.SourceDriver == SourcePutio {
		rule = transfer.PutioIDRule
	}

	if c.Transfer.MinIDLength > 0 {
		rule.MinLength = c.Transfer.MinIDLength
	}

	return rule
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
