package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Limits bound what a posted message may carry.
type Limits struct {
	MaxJSONSize   int64 `json:"max_json_size"`
	MaxUserLen    int   `json:"max_user_len"`
	MaxIVLen      int   `json:"max_iv_len"`
	MaxContentLen int   `json:"max_content_len"`
}

// DefaultLimits apply when neither the limits file nor the environment
// set a value.
var DefaultLimits = Limits{
	MaxJSONSize:   8 * 1024,
	MaxUserLen:    512,
	MaxIVLen:      64,
	MaxContentLen: 4096,
}

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Storage
	Backend     string
	DataDir     string
	SQLitePath  string
	DatabaseURL string
	RedisURL    string

	Limits    Limits
	StrictHex bool // require hex IVs and GCM-sized ciphertexts

	// Expiration
	Retention     time.Duration
	SweepInterval time.Duration

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	CORSOrigins []string

	// Event stream; disabled when KafkaBrokers is empty
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from the limits file and environment
// variables, loading .env first if present. Any malformed value is an
// error; the server must not start without valid bounds.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("ENV", "development"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Backend:      strings.ToLower(getEnv("STORE_BACKEND", BackendFile)),
		DataDir:      getEnv("DATA_DIR", "messages"),
		SQLitePath:   getEnv("SQLITE_PATH", "./data/cipherroom.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		Limits:       DefaultLimits,
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "*")),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "messages.created"),
	}

	limits, err := loadLimitsFile(getEnv("CONFIG_FILE", "config.json"), cfg.Limits)
	if err != nil {
		return nil, err
	}
	if cfg.Limits, err = limitsFromEnv(limits); err != nil {
		return nil, err
	}

	if cfg.StrictHex, err = parseBoolEnv("STRICT_HEX", false); err != nil {
		return nil, err
	}
	if cfg.AutoBlockEnabled, err = parseBoolEnv("AUTO_BLOCK_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.Retention, err = parseDurationEnv("RETENTION", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = parseDurationEnv("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	cfg.RateLimitWhitelist = splitList(os.Getenv("RATE_LIMIT_WHITELIST"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendFile, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Backend)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// loadLimitsFile overlays values from a JSON or YAML limits file, chosen
// by extension. A missing file is fine; an unreadable or invalid one is
// not.
func loadLimitsFile(path string, limits Limits) (Limits, error) {
	if path == "" {
		return limits, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return limits, nil
	}
	if err != nil {
		return limits, fmt.Errorf("reading %s: %w", path, err)
	}

	file, err := decodeLimitsDoc(path, data)
	if err != nil {
		return limits, fmt.Errorf("invalid %s: %w", path, err)
	}

	fields := map[string]func(int64){
		"max_json_size":   func(v int64) { limits.MaxJSONSize = v },
		"max_user_len":    func(v int64) { limits.MaxUserLen = int(v) },
		"max_iv_len":      func(v int64) { limits.MaxIVLen = int(v) },
		"max_content_len": func(v int64) { limits.MaxContentLen = int(v) },
	}
	for key, raw := range file {
		set, ok := fields[key]
		if !ok {
			return limits, fmt.Errorf("invalid %s: unknown key %q", path, key)
		}
		v, ok := positiveInt(raw)
		if !ok {
			return limits, fmt.Errorf("invalid %s: %s must be a positive integer", path, key)
		}
		set(v)
	}
	return limits, nil
}

func decodeLimitsDoc(path string, data []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func positiveInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil && i > 0
	case int:
		return int64(n), n > 0
	}
	return 0, false
}

func limitsFromEnv(limits Limits) (Limits, error) {
	size, err := parsePositiveIntEnv("MAX_JSON_SIZE", int(limits.MaxJSONSize))
	if err != nil {
		return limits, err
	}
	limits.MaxJSONSize = int64(size)

	if limits.MaxUserLen, err = parsePositiveIntEnv("MAX_USER_LEN", limits.MaxUserLen); err != nil {
		return limits, err
	}
	if limits.MaxIVLen, err = parsePositiveIntEnv("MAX_IV_LEN", limits.MaxIVLen); err != nil {
		return limits, err
	}
	if limits.MaxContentLen, err = parsePositiveIntEnv("MAX_CONTENT_LEN", limits.MaxContentLen); err != nil {
		return limits, err
	}
	return limits, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parsePositiveIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
