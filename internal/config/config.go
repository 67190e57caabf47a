package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "DPUSH"
	FileName  = "config"
	FileType  = "yaml"
)

// Config is the effective service and client configuration.
type Config struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	LogFile     string        `mapstructure:"log_file"`
	Journal     string        `mapstructure:"journal"`
	DriveBin    string        `mapstructure:"drive_bin"`
	AutoQuit    time.Duration `mapstructure:"auto_quit"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	MaxConns    int           `mapstructure:"max_conns"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// Addr is the service TCP address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DriveBin == "" {
		return errors.New("drive_bin must not be empty")
	}
	if c.AutoQuit < 0 {
		return errors.New("auto_quit must not be negative")
	}
	return nil
}

// Dir is the directory holding config.yaml.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dpush")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dpush")
}

// StateDir holds the task log and the journal.
func StateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "dpush")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state", "dpush")
}

func Defaults() Config {
	state := StateDir()
	return Config{
		Host:        "127.0.0.1",
		Port:        18770,
		LogFile:     filepath.Join(state, "tq.log"),
		Journal:     filepath.Join(state, "tq.db"),
		DriveBin:    "drive",
		MaxConns:    64,
		ReadTimeout: 10 * time.Second,
	}
}

// NewViper returns a viper instance with defaults, env binding and the
// config search path set up. Flags are bound by the caller.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Defaults()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("journal", d.Journal)
	v.SetDefault("drive_bin", d.DriveBin)
	v.SetDefault("auto_quit", d.AutoQuit)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("max_conns", d.MaxConns)
	v.SetDefault("read_timeout", d.ReadTimeout)

	v.SetConfigName(FileName)
	v.SetConfigType(FileType)
	v.AddConfigPath(Dir())
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads the config file if one exists and decodes the result.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Marshal renders c as YAML, durations in Go notation.
func Marshal(c Config) ([]byte, error) {
	return yaml.Marshal(fileConfig{
		Host:        c.Host,
		Port:        c.Port,
		LogFile:     c.LogFile,
		Journal:     c.Journal,
		DriveBin:    c.DriveBin,
		AutoQuit:    c.AutoQuit.String(),
		MetricsAddr: c.MetricsAddr,
		MaxConns:    c.MaxConns,
		ReadTimeout: c.ReadTimeout.String(),
	})
}

// Save writes c to path, creating parent directories.
func Save(c Config, path string) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultPath is where Save writes when no config file was found.
func DefaultPath() string {
	return filepath.Join(Dir(), FileName+"."+FileType)
}

type fileConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	LogFile     string `yaml:"log_file"`
	Journal     string `yaml:"journal"`
	DriveBin    string `yaml:"drive_bin"`
	AutoQuit    string `yaml:"auto_quit"`
	MetricsAddr string `yaml:"metrics_addr"`
	MaxConns    int    `yaml:"max_conns"`
	ReadTimeout string `yaml:"read_timeout"`
}
