package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ResolveProfile.
const (
	EnvBaseURL  = "ASSIGNCTL_BASE_URL"
	EnvRegistry = "ASSIGNCTL_REGISTRY"
)

// Config is the assignctl configuration file.
type Config struct {
	DefaultProfile string             `yaml:"default_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile points the CLI at a server and/or a local registry file.
type Profile struct {
	BaseURL  string `yaml:"base_url,omitempty"`
	Registry string `yaml:"registry,omitempty"`
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".assignctl", "config.yaml"), nil
}

// LoadConfig loads the configuration file. A missing file is an empty config.
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{DefaultProfile: "local", Profiles: map[string]Profile{}}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ResolveProfile merges the named profile with overrides.
// Priority: command flags > environment variables > config file.
// An empty name selects the config's default profile; a name that does not
// exist is only an error when nothing else supplies a value.
func ResolveProfile(name, baseURLFlag, registryFlag string) (Profile, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Profile{}, err
	}
	if name == "" {
		name = cfg.DefaultProfile
	}
	p, found := cfg.Profiles[name]

	p.BaseURL = firstNonEmpty(baseURLFlag, os.Getenv(EnvBaseURL), p.BaseURL)
	p.Registry = firstNonEmpty(registryFlag, os.Getenv(EnvRegistry), p.Registry)

	if !found && p.BaseURL == "" && p.Registry == "" && name != "" && len(cfg.Profiles) > 0 {
		return Profile{}, fmt.Errorf("profile '%s' not found in config", name)
	}
	return p, nil
}

// InitConfig writes a starter config file.
func InitConfig() error {
	return SaveConfig(&Config{
		DefaultProfile: "local",
		Profiles: map[string]Profile{
			"local": {
				BaseURL:  "http://localhost:8080",
				Registry: "registry.yaml",
			},
		},
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
