// Package config loads the dashai settings. Layers, lowest first:
// built-in defaults, a YAML file, DASHAI_* environment variables and
// explicitly set command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DASHAI_"
	// ConfigPathEnvVar names the YAML file to load.
	ConfigPathEnvVar = "DASHAI_CONFIG"
)

// DefaultConfigPaths are tried in order when neither the --config
// flag nor DASHAI_CONFIG names a file.
var DefaultConfigPaths = []string{
	"dashai.yaml",
	"dashai.yml",
	"config/dashai.yaml",
}

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
	Agent    AgentConfig    `koanf:"agent"`
	Chat     ChatConfig     `koanf:"chat"`
	Watch    WatchConfig    `koanf:"watch"`
}

type ServerConfig struct {
	Host         string        `koanf:"host" validate:"required"`
	Port         int           `koanf:"port" validate:"min=1,max=65535"`
	StaticDir    string        `koanf:"static_dir"`
	CORSOrigins  []string      `koanf:"cors_origins" validate:"dive,required"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"min=1s"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// AgentConfig describes the external chat agent. An empty Command
// leaves the chat endpoints answering 503.
type AgentConfig struct {
	Command string        `koanf:"command"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
	// PassEnv lists extra environment variables (provider API keys)
	// handed to the agent process.
	PassEnv         []string      `koanf:"pass_env"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"min=1s"`
}

type ChatConfig struct {
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int `koanf:"rate_limit" validate:"min=0"`
}

type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce" validate:"min=10ms"`
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Default returns a Config with default values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8000,
			StaticDir:    "static",
			CORSOrigins:  []string{"http://localhost:5173"},
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{Path: defaultDBPath()},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Agent: AgentConfig{
			Timeout:         2 * time.Minute,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Chat:  ChatConfig{RateLimit: 20},
		Watch: WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

// defaultDBPath is app.db beside the installed binary, so the
// server finds the loader's output regardless of working directory.
func defaultDBPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "app.db"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "app.db")
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	// A missing .env is normal; real environment variables win.
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}

	if path := configPath(fs); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	if err := splitLists(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := applyFlags(&cfg, fs); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// configPath picks the YAML file: --config, then DASHAI_CONFIG, then
// the first existing default path. An explicitly named file must
// exist; the defaults are optional.
func configPath(fs *flag.FlagSet) string {
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			return f.Value.String()
		}
	}
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps DASHAI_AGENT_BREAKER_FAILURES to
// agent.breaker_failures. The first segment is the section.
func envKey(s string) string {
	if s == ConfigPathEnvVar {
		return ""
	}
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return ""
	}
	return section + "." + rest
}

// listKeys hold string lists that env vars supply comma-separated.
var listKeys = []string{"server.cors_origins", "agent.pass_env"}

func splitLists(k *koanf.Koanf) error {
	for _, key := range listKeys {
		raw, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		parts := []string{}
		for p := range strings.SplitSeq(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf(
			"%s: failed %q (value %v)",
			strings.TrimPrefix(fe.Namespace(), "Config."),
			fe.Tag(), fe.Value(),
		))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file")
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8000, "Port to listen on")
	fs.String("db", "", "Path to the SQLite database")
	fs.String("static-dir", "", "Directory holding schema.png")
	fs.String("agent-command", "", "Command that starts the chat agent")
	fs.String("log-level", "info", "Log level")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var err error
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "host":
			cfg.Server.Host = v
		case "port":
			var port int
			port, err = strconv.Atoi(v)
			if err != nil {
				err = fmt.Errorf("invalid --port %q: %w", v, err)
				return
			}
			cfg.Server.Port = port
		case "db":
			cfg.Database.Path = v
		case "static-dir":
			cfg.Server.StaticDir = v
		case "agent-command":
			cfg.Agent.Command = v
		case "log-level":
			cfg.Logging.Level = v
		}
	})
	return err
}
