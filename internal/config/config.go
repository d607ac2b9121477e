// Package config loads grab settings.
//
// Sources, lowest to highest precedence: built-in defaults, the config file
// (grab.yaml in the home directory, or an explicit path), a .env file, and
// GRAB_* environment variables. A .env file never overrides a variable that
// is already set in the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable grab reads.
const EnvPrefix = "GRAB"

// DefaultConfigName is the config file looked up in the home directory.
const DefaultConfigName = "grab.yaml"

// DefaultKeywords select purchase-related mail when no keywords are configured.
var DefaultKeywords = []string{
	"заказ", "чек", "receipt", "order",
	"ozon", "wildberries", "market", "мегамаркет", "dns", "ашан", "яндекс маркет",
	"aliexpress", "ali express", "алиэкспресс",
}

// Settings is the resolved configuration. All paths are absolute.
type Settings struct {
	Home      string `json:"home"`
	DataDir   string `json:"data_dir"`
	DBPath    string `json:"db_path"`
	MediaDir  string `json:"media_dir"`
	LogDir    string `json:"log_dir"`
	ExportDir string `json:"export_dir"`
	InboxDir  string `json:"inbox_dir"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	MaxMessages    int           `json:"max_messages"`
	MediaTimeout   time.Duration `json:"media_timeout"`
	MediaMaxBytes  int64         `json:"media_max_bytes"`
	MediaRateLimit float64       `json:"media_rate_limit"`
	MediaRateBurst int           `json:"media_rate_burst"`
	Keywords       []string      `json:"keywords"`

	ServeAddr string `json:"serve_addr"`
}

// LoadOptions points Load at its inputs. Zero values use the defaults.
type LoadOptions struct {
	// Home overrides GRAB_HOME and the working directory.
	Home string
	// ConfigFile is an explicit config file; it must exist.
	ConfigFile string
	// EnvFile is the dotenv file. Empty means ".env" in the working directory.
	EnvFile string
}

// Load resolves Settings.
func Load(opts LoadOptions) (*Settings, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	home, err := resolveHome(opts.Home, v.GetString("home"))
	if err != nil {
		return nil, err
	}

	configFile := opts.ConfigFile
	if configFile == "" {
		candidate := filepath.Join(home, DefaultConfigName)
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	s := &Settings{Home: home}
	s.DataDir = resolvePath(home, v.GetString("data_dir"), "data")
	s.DBPath = resolvePath(home, v.GetString("db_path"), filepath.Join(s.DataDir, "grab.sqlite3"))
	s.MediaDir = resolvePath(home, v.GetString("media_dir"), filepath.Join(s.DataDir, "media"))
	s.InboxDir = resolvePath(home, v.GetString("inbox_dir"), filepath.Join(s.DataDir, "inbox"))
	s.LogDir = resolvePath(home, v.GetString("log_dir"), "logs")
	s.ExportDir = resolvePath(home, v.GetString("export_dir"), "exports")

	s.LogLevel = v.GetString("log_level")
	s.LogFormat = v.GetString("log_format")
	s.MaxMessages = v.GetInt("max_messages")
	s.MediaTimeout = v.GetDuration("media_timeout")
	s.MediaMaxBytes = v.GetInt64("media_max_bytes")
	s.MediaRateLimit = v.GetFloat64("media_rate_limit")
	s.MediaRateBurst = v.GetInt("media_rate_burst")
	s.Keywords = keywords(v)
	s.ServeAddr = v.GetString("serve_addr")

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("max_messages", 200)
	v.SetDefault("media_timeout", 30*time.Second)
	v.SetDefault("media_max_bytes", int64(50_000_000))
	v.SetDefault("media_rate_limit", 0.0)
	v.SetDefault("media_rate_burst", 1)
	v.SetDefault("serve_addr", "127.0.0.1:8080")
	for _, key := range []string{"home", "data_dir", "db_path", "media_dir", "inbox_dir", "log_dir", "export_dir", "keywords"} {
		v.SetDefault(key, "")
	}
}

func (s *Settings) validate() error {
	var problems []string
	if s.MaxMessages < 0 {
		problems = append(problems, "max_messages must not be negative")
	}
	if s.MediaTimeout <= 0 {
		problems = append(problems, "media_timeout must be positive")
	}
	if s.MediaMaxBytes <= 0 {
		problems = append(problems, "media_max_bytes must be positive")
	}
	if s.MediaRateLimit < 0 {
		problems = append(problems, "media_rate_limit must not be negative")
	}
	if s.MediaRateLimit > 0 && s.MediaRateBurst < 1 {
		problems = append(problems, "media_rate_burst must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func resolveHome(flag, env string) (string, error) {
	home := flag
	if home == "" {
		home = env
	}
	if home == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		home = wd
	}
	home, err := expandUser(home)
	if err != nil {
		return "", err
	}
	return filepath.Abs(home)
}

// resolvePath returns value, or fallback when value is empty, made absolute
// relative to home.
func resolvePath(home, value, fallback string) string {
	p := value
	if p == "" {
		p = fallback
	}
	if expanded, err := expandUser(p); err == nil {
		p = expanded
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(home, p)
	}
	return filepath.Clean(p)
}

func expandUser(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return filepath.Join(userHome, strings.TrimPrefix(p, "~")), nil
}

// keywords reads a comma-separated string (environment) or a list (config
// file). Nothing configured means DefaultKeywords.
func keywords(v *viper.Viper) []string {
	var raw []string
	switch val := v.Get("keywords").(type) {
	case string:
		raw = strings.Split(val, ",")
	default:
		raw = v.GetStringSlice("keywords")
	}
	var out []string
	for _, k := range raw {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultKeywords...)
	}
	return out
}

// EnsureDirectories creates every directory grab writes to.
func (s *Settings) EnsureDirectories() error {
	for _, dir := range []string{s.DataDir, filepath.Dir(s.DBPath), s.MediaDir, s.InboxDir, s.LogDir, s.ExportDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
