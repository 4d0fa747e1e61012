/*
Package config loads runtime configuration for the portal and the reference
backend.

SOURCES (later wins):
  1. Defaults()
  2. YAML file given with -config (optional)
  3. .env file next to the binary (optional)
  4. Process environment (PORTAL_*)

The result is validated before use; a bad value fails startup.

ENVIRONMENT:
  PORTAL_ADDR               server.addr
  PORTAL_ALLOWED_ORIGINS    server.allowed_origins (comma separated)
  PORTAL_BACKEND_URL        backend.url
  PORTAL_BACKEND_ADDR       backend.addr
  PORTAL_BACKEND_TIMEOUT    backend.timeout
  PORTAL_JWT_SECRET         auth.jwt_secret
  PORTAL_TOKEN_TTL          auth.token_ttl
  PORTAL_ANNUAL_ALLOTMENT   leave.annual_allotment
  PORTAL_HOLIDAY_CACHE_TTL  leave.holiday_cache_ttl
  PORTAL_SESSION_IDLE_TTL   leave.session_idle_ttl
  PORTAL_DB_PATH            store.path
  PORTAL_LOG_LEVEL          log.level
  PORTAL_LOG_FORMAT         log.format
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Auth    AuthConfig    `yaml:"auth"`
	Leave   LeaveConfig   `yaml:"leave"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `yaml:"allowed_origins" validate:"dive,required"`
}

// BackendConfig describes the leave backend: where the portal reaches it and
// where cmd/backend listens.
type BackendConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Addr    string        `yaml:"addr" validate:"required"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" validate:"required,min=16"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"gt=0"`
}

type LeaveConfig struct {
	// Used when a session carries no allotment.
	AnnualAllotment int           `yaml:"annual_allotment" validate:"gte=1,lte=366"`
	HolidayCacheTTL time.Duration `yaml:"holiday_cache_ttl" validate:"gte=0"`
	// Per-session workspaces idle longer than this are dropped.
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl" validate:"gt=0"`
}

type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:3000"},
		},
		Backend: BackendConfig{
			URL:     "http://localhost:8081",
			Addr:    ":8081",
			Timeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 8 * time.Hour,
		},
		Leave: LeaveConfig{
			AnnualAllotment: 22,
			HolidayCacheTTL: time.Hour,
			SessionIdleTTL:  30 * time.Minute,
		},
		Store: StoreConfig{
			Path: "./data/leave.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (may be empty) and ".env" from the working directory.
func Load(path string) (*Config, error) {
	return LoadFiles(path, ".env")
}

// LoadFiles is Load with an explicit .env location. A missing .env is fine;
// a missing YAML file is not.
func LoadFiles(path, envFile string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
		if vals != nil {
			dotenv = vals
		}
	}

	env := envSource{dotenv: dotenv}
	if err := env.apply(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks every section and reports all failures at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fieldPath(fe), fe.Tag(), redact(fe)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// fieldPath turns "Config.Auth.JWTSecret" into "Auth.JWTSecret".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func redact(fe validator.FieldError) any {
	if fe.StructField() == "JWTSecret" {
		return "<redacted>"
	}
	return fe.Value()
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

type envSource struct {
	dotenv map[string]string
}

// get prefers the process environment over .env.
func (e envSource) get(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	v, ok := e.dotenv[key]
	return v, ok && v != ""
}

func (e envSource) apply(cfg *Config) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := e.get(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := e.get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := e.get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("PORTAL_ADDR", &cfg.Server.Addr)
	if v, ok := e.get("PORTAL_ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	str("PORTAL_BACKEND_URL", &cfg.Backend.URL)
	str("PORTAL_BACKEND_ADDR", &cfg.Backend.Addr)
	dur("PORTAL_BACKEND_TIMEOUT", &cfg.Backend.Timeout)
	str("PORTAL_JWT_SECRET", &cfg.Auth.JWTSecret)
	dur("PORTAL_TOKEN_TTL", &cfg.Auth.TokenTTL)
	integer("PORTAL_ANNUAL_ALLOTMENT", &cfg.Leave.AnnualAllotment)
	dur("PORTAL_HOLIDAY_CACHE_TTL", &cfg.Leave.HolidayCacheTTL)
	dur("PORTAL_SESSION_IDLE_TTL", &cfg.Leave.SessionIdleTTL)
	str("PORTAL_DB_PATH", &cfg.Store.Path)
	str("PORTAL_LOG_LEVEL", &cfg.Log.Level)
	str("PORTAL_LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
