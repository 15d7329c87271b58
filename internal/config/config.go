// Package config loads peon's configuration with viper: a YAML file, PEON_* environment
// overrides, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/evan-idocoding/peon/rt/task"
)

// EnvPrefix prefixes environment overrides, e.g. PEON_LOG_LEVEL=debug.
const EnvPrefix = "PEON"

// Config is the effective configuration.
type Config struct {
	Log             LogConfig             `yaml:"log" mapstructure:"log"`
	Admin           AdminConfig           `yaml:"admin" mapstructure:"admin"`
	Journal         JournalConfig         `yaml:"journal" mapstructure:"journal"`
	ShutdownTimeout time.Duration         `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Tasks           map[string]TaskConfig `yaml:"tasks" mapstructure:"tasks"`
	Starters        map[string][]string   `yaml:"starters" mapstructure:"starters"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`           // debug/info/warn/error
	Format     string `yaml:"format" mapstructure:"format"`         // json/text
	Output     string `yaml:"output" mapstructure:"output"`         // stdout/stderr/file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`   // required when output is file
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`     // MB
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`       // days
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
	Caller     bool   `yaml:"caller" mapstructure:"caller"`
}

// AdminConfig configures the admin HTTP surface. Nothing is served unless Enabled.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	Addr        string   `yaml:"addr" mapstructure:"addr"`
	TokenHeader string   `yaml:"token_header" mapstructure:"token_header"`
	ReadTokens  []string `yaml:"read_tokens" mapstructure:"read_tokens"`
	WriteTokens []string `yaml:"write_tokens" mapstructure:"write_tokens"`
}

// JournalConfig configures the SQLite task history.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Buffer  int    `yaml:"buffer" mapstructure:"buffer"`
}

// TaskConfig declares a task type backed by a built-in workload.
type TaskConfig struct {
	Description string        `yaml:"description,omitempty" mapstructure:"description"`
	Blocking    string        `yaml:"blocking,omitempty" mapstructure:"blocking"`
	Category    string        `yaml:"category,omitempty" mapstructure:"category"`
	Workload    string        `yaml:"workload" mapstructure:"workload"`
	Steps       int           `yaml:"steps,omitempty" mapstructure:"steps"`
	Interval    time.Duration `yaml:"interval,omitempty" mapstructure:"interval"`
	FailAt      int           `yaml:"fail_at,omitempty" mapstructure:"fail_at"`
}

// Policy parses the blocking declaration.
func (t TaskConfig) Policy() (task.Policy, error) {
	b, err := task.ParseBlocking(t.Blocking)
	if err != nil {
		return task.Policy{}, err
	}
	return task.Policy{Blocking: b, Category: t.Category}, nil
}

// Loader reads configuration and, optionally, watches the file for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a Loader. An empty path searches ./peon.yaml and
// $HOME/.config/peon/peon.yaml, and a missing file is not an error.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("peon")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "peon"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, path: path}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.caller", false)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.addr", "127.0.0.1:8089")
	v.SetDefault("admin.token_header", "X-Peon-Token")

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "peon.db")
	v.SetDefault("journal.buffer", 256)

	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// Load reads the file (if any) and returns the validated configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	return l.decode()
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string { return l.v.ConfigFileUsed() }

// Watch calls fn with the re-read configuration whenever the file changes. It reports false
// when no file is in use. fn runs on the watcher goroutine.
func (l *Loader) Watch(fn func(*Config, error)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(l.decode())
	})
	l.v.WatchConfig()
	return true
}

func (l *Loader) decode() (*Config, error) {
	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(c.Tasks) == 0 {
		c.Tasks = DefaultTasks()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values viper cannot check.
func (c *Config) Validate() error {
	var errs []error
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be > 0, got %v", c.ShutdownTimeout))
	}
	switch strings.ToLower(c.Log.Output) {
	case "stdout", "stderr":
	case "file":
		if c.Log.FilePath == "" {
			errs = append(errs, errors.New("log.file_path is required when log.output is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("log.output: unsupported %q", c.Log.Output))
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required when the journal is enabled"))
	}
	for _, name := range sortedKeys(c.Tasks) {
		tc := c.Tasks[name]
		if _, err := tc.Policy(); err != nil {
			errs = append(errs, fmt.Errorf("tasks.%s: %w", name, err))
		}
		if tc.Workload == "" {
			errs = append(errs, fmt.Errorf("tasks.%s: workload is required", name))
		}
	}
	for _, name := range sortedKeys(c.Starters) {
		for _, typ := range c.Starters[name] {
			if _, ok := c.Tasks[strings.ToLower(typ)]; !ok {
				errs = append(errs, fmt.Errorf("starters.%s: unknown task type %q", name, typ))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Dump renders c as YAML.
func Dump(c *Config) ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: dump: %w", err)
	}
	return out, nil
}

// DefaultTasks is the task set used when the configuration declares none.
func DefaultTasks() map[string]TaskConfig {
	return map[string]TaskConfig{
		"backup": {
			Description: "copies everything; nothing else may run",
			Blocking:    "application",
			Workload:    "sleep",
			Steps:       20,
			Interval:    250 * time.Millisecond,
		},
		"import": {
			Description: "loads records into the database",
			Blocking:    "category",
			Category:    "db",
			Workload:    "sleep",
			Steps:       10,
			Interval:    300 * time.Millisecond,
		},
		"report": {
			Description: "reads the database",
			Category:    "db",
			Workload:    "sleep",
			Steps:       5,
			Interval:    200 * time.Millisecond,
		},
		"thumbnails": {
			Description: "one at a time",
			Blocking:    "class",
			Workload:    "sleep",
			Steps:       15,
			Interval:    100 * time.Millisecond,
		},
		"flaky": {
			Description: "fails half way",
			Workload:    "fail",
			Steps:       8,
			FailAt:      4,
			Interval:    150 * time.Millisecond,
		},
		"crash": {
			Description: "panics",
			Workload:    "panic",
			Steps:       3,
			Interval:    100 * time.Millisecond,
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
