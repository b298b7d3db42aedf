// Package config resolves the run configuration of a batch from defaults,
// persistent settings and an optional YAML file, and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/newtron-network/ncbulk/pkg/bulk"
	"github.com/newtron-network/ncbulk/pkg/netconf"
	"github.com/newtron-network/ncbulk/pkg/settings"
	"github.com/newtron-network/ncbulk/pkg/store"
	"github.com/newtron-network/ncbulk/pkg/util"
)

// Defaults for a run with no settings and no config file.
const (
	DefaultDevicesFile = "devices.txt"
	DefaultOutputDir   = "output"
)

// Config is the run configuration.
type Config struct {
	DevicesFile string `yaml:"devices_file"`
	OutputDir   string `yaml:"output_dir" validate:"required"`
	Username    string `yaml:"username"`

	Port       int           `yaml:"port" validate:"min=1,max=65535"`
	Timeout    time.Duration `yaml:"timeout" validate:"min=0"`
	KnownHosts string        `yaml:"known_hosts"`

	MaxInFlight int           `yaml:"max_in_flight" validate:"min=0"`
	TaskTimeout time.Duration `yaml:"task_timeout" validate:"min=0"`
	OpenRate    float64       `yaml:"open_rate" validate:"min=0"`
	OpenBurst   int           `yaml:"open_burst" validate:"min=0"`

	AuditLog string `yaml:"audit_log"`

	Redis RedisConfig `yaml:"redis"`
	Log   LogConfig   `yaml:"log"`
}

// RedisConfig enables the outcome store when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"min=0,max=15"`
	TTL      time.Duration `yaml:"ttl" validate:"min=0"`
}

// LogConfig sets the process log.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DevicesFile: DefaultDevicesFile,
		OutputDir:   DefaultOutputDir,
		Port:        netconf.DefaultPort,
		Timeout:     netconf.DefaultTimeout,
		TaskTimeout: bulk.DefaultTaskTimeout,
		Redis:       RedisConfig{TTL: store.DefaultTTL},
	}
}

// Resolve builds the configuration: defaults, then s (may be nil), then the
// YAML file at path (skipped when path is empty). Flags are applied by the
// caller, followed by Validate.
func Resolve(path string, s *settings.Settings) (*Config, error) {
	cfg := Default()
	cfg.ApplySettings(s)
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

// ApplySettings overlays the non-empty persistent settings.
func (c *Config) ApplySettings(s *settings.Settings) {
	if s == nil {
		return
	}
	if s.DevicesFile != "" {
		c.DevicesFile = s.DevicesFile
	}
	if s.OutputDir != "" {
		c.OutputDir = s.OutputDir
	}
	if s.Username != "" {
		c.Username = s.Username
	}
	if s.Port != 0 {
		c.Port = s.Port
	}
	if s.Workers != 0 {
		c.MaxInFlight = s.Workers
	}
	if s.AuditLog != "" {
		c.AuditLog = s.AuditLog
	}
}

// LoadFile overlays the keys present in a YAML file. Unknown keys are errors.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %v", util.ErrInvalidConfig, path, err)
	}
	return nil
}

// Validate checks every field, reporting all problems at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", util.ErrInvalidConfig, err)
	}

	var vb util.ValidationBuilder
	for _, fe := range fieldErrs {
		vb.AddErrorf("%s", formatFieldError(fe))
	}
	return fmt.Errorf("%w: %w", util.ErrInvalidConfig, vb.Build())
}

func formatFieldError(fe validator.FieldError) string {
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s, got %v", field, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s, got %v", field, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// RedisEnabled reports whether batches are published to Redis.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// Netconf returns the session settings for creds.
func (c *Config) Netconf(creds netconf.Credentials) netconf.Config {
	return netconf.Config{
		Credentials:    creds,
		Port:           c.Port,
		Timeout:        c.Timeout,
		KnownHostsFile: c.KnownHosts,
	}
}

// DispatchOptions returns the dispatcher settings.
func (c *Config) DispatchOptions() bulk.Options {
	return bulk.Options{
		MaxInFlight: c.MaxInFlight,
		TaskTimeout: c.TaskTimeout,
		OpenRate:    c.OpenRate,
		OpenBurst:   c.OpenBurst,
	}
}

// StoreOptions returns the Redis store settings.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TTL:      c.Redis.TTL,
	}
}
