package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a set of named debugger profiles.
type Config struct {
	CurrentProfile string              `yaml:"currentProfile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
}

// Profile says how to reach one debugger backend.
type Profile struct {
	// Transport is one of stream, http or nats.
	Transport      string   `yaml:"transport"`
	StreamAddr     string   `yaml:"streamAddr,omitempty"`
	RPCURL         string   `yaml:"rpcURL,omitempty"`
	RedisAddr      string   `yaml:"redisAddr,omitempty"`
	NATSURL        string   `yaml:"natsURL,omitempty"`
	StateDir       string   `yaml:"stateDir,omitempty"`
	SourceRoots    []string `yaml:"sourceRoots,omitempty"`
	Extension      string   `yaml:"extension,omitempty"`
	TimeoutSeconds int      `yaml:"timeoutSeconds,omitempty"`
}

// ErrProfileNotFound indicates the requested profile is missing.
var ErrProfileNotFound = errors.New("profile not found")

// LoadConfig decodes the config file. Missing files return (nil, nil).
func LoadConfig(path string) (*Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	expanded, err := expandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to disk, creating parent directories if needed.
func (c *Config) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o600)
}

// Resolve picks a profile by explicit name or currentProfile. A nil config
// or no name resolves to nil without error.
func (c *Config) Resolve(name string) (*Profile, string, error) {
	if c == nil {
		return nil, "", nil
	}
	profile := strings.TrimSpace(name)
	if profile == "" {
		profile = c.CurrentProfile
	}
	if profile == "" {
		return nil, "", nil
	}
	p, ok := c.Profiles[profile]
	if !ok {
		return nil, profile, fmt.Errorf("%w: %s", ErrProfileNotFound, profile)
	}
	return p, profile, nil
}

func defaultHomeDir() string {
	if v := os.Getenv("DEBUGCTL_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".debugctl")
}

func defaultConfigPath() string {
	return filepath.Join(defaultHomeDir(), "config.yaml")
}

func expandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		return os.UserHomeDir()
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}
