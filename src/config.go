package src

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds user-level settings persisted under ~/.groq/config.yaml.
type Config struct {
	APIKey          string `yaml:"api_key"`
	DefaultModel    string `yaml:"default_model"`
	InteractiveMode bool   `yaml:"interactive_mode"`
	Theme           string `yaml:"theme"`
	MaxHistory      int    `yaml:"max_history"`
	AutoSave        bool   `yaml:"auto_save"`
	FirstRun        bool   `yaml:"codeflow_first_run"`
}

// ConfigDir resolves the per-user config directory (~/.groq).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".groq"), nil
}

func configPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// HistoryDir is where session transcripts are stored when auto_save is on.
func HistoryDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history"), nil
}

// GoalHistoryPath is the archive of finalized goal change records.
func GoalHistoryPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "goal_history.json"), nil
}

func defaultConfig() *Config {
	return &Config{
		DefaultModel:    DefaultModel,
		InteractiveMode: true,
		Theme:           "default",
		MaxHistory:      200,
		AutoSave:        true,
		FirstRun:        true,
	}
}

// LoadConfig reads the config file, layering environment overrides on top.
// Order: defaults, config.yaml, .env, then GROQ_API_KEY from the process
// environment. A missing config file is not an error.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// first run, defaults apply
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// .env in the working directory, if present.
	_ = godotenv.Load()

	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 200
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	return cfg, nil
}

// Save writes the config back to disk. The file holds the API key, so it is
// created 0600 inside a 0700 directory.
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
