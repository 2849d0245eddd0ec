package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultInputDir      = "USER-FILES/04.INPUT"
	DefaultProfilesDir   = "USER-FILES/03.PROFILES"
	DefaultOutputDir     = "USER-FILES/05.OUTPUT"
	DefaultAuthConfig    = "USER-FILES/01.CONFIG/auth.yaml"
	DefaultReplicateBase = "https://api.replicate.com/v1"
)

// Config holds every tunable of a run. Flags override these values in the CLI.
type Config struct {
	AppEnv   string
	LogLevel string

	InputDir    string
	ProfilesDir string
	OutputDir   string

	AuthConfigPath string
	Use1Password   bool
	ReplicateToken string
	ReplicateBase  string

	PollInterval    time.Duration
	MaxWait         time.Duration
	MaxRetries      int
	RateLimitDelay  time.Duration
	HTTPTimeout     time.Duration
	DownloadTimeout time.Duration
}

// Load reads .env from the working directory when present, then the environment.
func Load() Config {
	_ = godotenv.Load(".env")

	return Config{
		AppEnv:          getEnv("APP_ENV", "production"),
		LogLevel:        getEnv("VIDMATRIX_LOG_LEVEL", ""),
		InputDir:        getEnv("VIDMATRIX_INPUT_DIR", DefaultInputDir),
		ProfilesDir:     getEnv("VIDMATRIX_PROFILES_DIR", DefaultProfilesDir),
		OutputDir:       getEnv("VIDMATRIX_OUTPUT_DIR", DefaultOutputDir),
		AuthConfigPath:  getEnv("VIDMATRIX_AUTH_CONFIG", DefaultAuthConfig),
		Use1Password:    getEnvBool("VIDMATRIX_USE_1PASSWORD", true),
		ReplicateToken:  strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN")),
		ReplicateBase:   strings.TrimRight(getEnv("REPLICATE_BASE_URL", DefaultReplicateBase), "/"),
		PollInterval:    getEnvDuration("VIDMATRIX_POLL_INTERVAL", 3*time.Second),
		MaxWait:         getEnvDuration("VIDMATRIX_MAX_WAIT", 20*time.Minute),
		MaxRetries:      getEnvInt("VIDMATRIX_MAX_RETRIES", 3),
		RateLimitDelay:  getEnvDuration("VIDMATRIX_RATE_LIMIT_DELAY", 60*time.Second),
		HTTPTimeout:     getEnvDuration("VIDMATRIX_HTTP_TIMEOUT", 10*time.Minute),
		DownloadTimeout: getEnvDuration("VIDMATRIX_DOWNLOAD_TIMEOUT", 5*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts a Go duration ("90s", "2m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	d, err := ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}
