// Package config loads analysis settings from a YAML file and the GitHub
// token from the environment or a .env file.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds everything the analyzer needs to run.
type Config struct {
	Username             string   `yaml:"username"`
	Repositories         []string `yaml:"repositories"`
	Months               int      `yaml:"months"`
	ExcludedUsers        []string `yaml:"excluded_users"`
	RequiredLabel        string   `yaml:"required_label"`
	RequiredProjectState string   `yaml:"required_project_state"`
	ProjectNumber        int      `yaml:"project_number"`
	ExcludeGenerated     bool     `yaml:"exclude_generated_files"`
	FilePatterns         []string `yaml:"excluded_file_patterns"`
	CacheFile            string   `yaml:"cache_file"`
	NoCache              bool     `yaml:"no_cache"`

	// Token comes from GITHUB_TOKEN (environment or .env), never from the
	// YAML file.
	Token string `yaml:"-"`
}

// Load reads the YAML config at path (optional, empty path skips it) and the
// token from the environment, consulting a .env file if present.
func Load(path string) (*Config, error) {
	cfg := &Config{Months: 3}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Missing .env is fine; the environment may already carry the token.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg.Token = os.Getenv("GITHUB_TOKEN")

	if cfg.Months <= 0 {
		cfg.Months = 3
	}
	return cfg, nil
}

// Validate checks the fields no analysis can run without.
func (c *Config) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if len(c.Repositories) == 0 {
		return fmt.Errorf("at least one repository is required")
	}
	for _, repo := range c.Repositories {
		if !validRepo(repo) {
			return fmt.Errorf("repository %q is not in owner/name form", repo)
		}
	}
	return nil
}

func validRepo(repo string) bool {
	slash := -1
	for i, r := range repo {
		if r == '/' {
			if slash != -1 {
				return false
			}
			slash = i
		}
	}
	return slash > 0 && slash < len(repo)-1
}
