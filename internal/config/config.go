// package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig is returned by Validate when required values are missing or malformed.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	// telegram
	TGApiID       int
	TGApiHash     string
	TGSessionStr  string
	SessionFormat string // gotgproto | pyrogram | telethon
	SessionDB     string // sqlite file used when TGSessionStr is empty
	BotToken      string

	// backup
	DestinationChannel int64
	MinDelay           time.Duration
	MaxDelay           time.Duration
	FloodMargin        time.Duration
	TransientRetries   int
	ProgressEvery      int
	ProgressInterval   time.Duration
	MaxBatch           int
	DownloadDir        string
	AllowedUsers       []int64

	// caption editor
	PresetsFile             string
	FloodDowngradeThreshold int

	// server
	HTTPPort   int
	AdminToken string // enables DELETE /jobs/current when set

	// nats (optional)
	NatsURL string

	// logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		TGApiID:                 getEnvInt("API_ID", 0),
		TGApiHash:               getEnv("API_HASH", ""),
		TGSessionStr:            getEnv("USER_SESSION_STRING", ""),
		SessionFormat:           getEnv("SESSION_FORMAT", "gotgproto"),
		SessionDB:               getEnv("SESSION_DB", "./data/session.db"),
		BotToken:                getEnv("BOT_TOKEN", ""),
		DestinationChannel:      getEnvInt64("DESTINATION_CHANNEL", 0),
		MinDelay:                getEnvSeconds("MIN_DELAY", 5),
		MaxDelay:                getEnvSeconds("MAX_DELAY", 15),
		FloodMargin:             getEnvSeconds("FLOOD_MARGIN", 5),
		TransientRetries:        getEnvInt("TRANSIENT_RETRIES", 0),
		ProgressEvery:           getEnvInt("PROGRESS_EVERY", 5),
		ProgressInterval:        getEnvSeconds("PROGRESS_INTERVAL", 30),
		MaxBatch:                getEnvInt("MAX_BATCH", 5000),
		DownloadDir:             getEnv("DOWNLOAD_DIR", "./downloads"),
		AllowedUsers:            getEnvInt64List("ALLOWED_USERS"),
		PresetsFile:             getEnv("PRESETS_FILE", ""),
		FloodDowngradeThreshold: getEnvInt("FLOOD_DOWNGRADE_THRESHOLD", 3),
		HTTPPort:                getEnvInt("PORT", 10000),
		AdminToken:              getEnv("ADMIN_TOKEN", ""),
		NatsURL:                 getEnv("NATS_URL", ""),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFile:                 getEnv("LOG_FILE", ""),
	}

	return cfg, nil
}

// Validate checks that everything needed before the first chat interaction is present.
func (c *Config) Validate() error {
	var missing []string
	if c.TGApiID == 0 {
		missing = append(missing, "API_ID")
	}
	if c.TGApiHash == "" {
		missing = append(missing, "API_HASH")
	}
	if c.DestinationChannel == 0 {
		missing = append(missing, "DESTINATION_CHANNEL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}

	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("%w: MIN_DELAY must be >= 0 and <= MAX_DELAY", ErrInvalidConfig)
	}

	switch c.SessionFormat {
	case "gotgproto", "pyrogram", "telethon":
	default:
		return fmt.Errorf("%w: unknown SESSION_FORMAT %q", ErrInvalidConfig, c.SessionFormat)
	}

	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvSeconds accepts either a plain number of seconds ("5", "1.5") or a Go duration ("1500ms").
func getEnvSeconds(key string, defaultSec float64) time.Duration {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return time.Duration(defaultSec * float64(time.Second))
}

func getEnvInt64List(key string) []int64 {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(val, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
