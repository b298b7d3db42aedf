// Package settings manages persistent user settings for the ncbulk CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Settings holds persistent user preferences. Zero values mean "not set".
type Settings struct {
	// DevicesFile is the device list used when none is given on the command line.
	DevicesFile string `json:"devices_file,omitempty"`

	// OutputDir is where read results and reports are written.
	OutputDir string `json:"output_dir,omitempty"`

	// Username is the NETCONF user when NCBO_USER is unset.
	Username string `json:"username,omitempty"`

	// Port is the NETCONF port.
	Port int `json:"port,omitempty"`

	// Workers caps concurrent sessions.
	Workers int `json:"workers,omitempty"`

	// AuditLog is the audit log path.
	AuditLog string `json:"audit_log,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ncbulk_settings.json"
	}
	return filepath.Join(home, ".ncbulk", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from path. A missing file yields empty settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}

type field struct {
	get func(*Settings) string
	set func(*Settings, string) error
}

func stringField(p func(*Settings) *string) field {
	return field{
		get: func(s *Settings) string { return *p(s) },
		set: func(s *Settings, v string) error { *p(s) = v; return nil },
	}
}

func intField(name string, p func(*Settings) *int) field {
	return field{
		get: func(s *Settings) string {
			if *p(s) == 0 {
				return ""
			}
			return strconv.Itoa(*p(s))
		},
		set: func(s *Settings, v string) error {
			if v == "" {
				*p(s) = 0
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("%s must be a non-negative integer, got %q", name, v)
			}
			*p(s) = n
			return nil
		},
	}
}

var fields = map[string]field{
	"devices_file": stringField(func(s *Settings) *string { return &s.DevicesFile }),
	"output_dir":   stringField(func(s *Settings) *string { return &s.OutputDir }),
	"username":     stringField(func(s *Settings) *string { return &s.Username }),
	"audit_log":    stringField(func(s *Settings) *string { return &s.AuditLog }),
	"port":         intField("port", func(s *Settings) *int { return &s.Port }),
	"workers":      intField("workers", func(s *Settings) *int { return &s.Workers }),
}

// Keys returns the setting names accepted by Get and Set, sorted.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a setting by name; "" when unset.
func (s *Settings) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", unknownKey(key)
	}
	return f.get(s), nil
}

// Set assigns a setting by name. An empty value unsets it.
func (s *Settings) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return unknownKey(key)
	}
	return f.set(s, value)
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown setting: %s (valid: %v)", key, Keys())
}
