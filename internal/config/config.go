package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/runvet.yaml"

type Config struct {
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Browser    BrowserConfig    `yaml:"browser"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
}

type EvaluationConfig struct {
	// Command and Args override project detection when set.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Port    int               `yaml:"port,omitempty"`

	StartupTimeout time.Duration `yaml:"startup_timeout,omitempty"`
	HealthTimeout  time.Duration `yaml:"health_timeout,omitempty"`
	APITimeout     time.Duration `yaml:"api_timeout,omitempty"`
	UITimeout      time.Duration `yaml:"ui_timeout,omitempty"`

	SkipAPI    bool `yaml:"skip_api,omitempty"`
	SkipStatic bool `yaml:"skip_static,omitempty"`
	SkipUI     bool `yaml:"skip_ui,omitempty"`

	// StrictClientErrors makes 4xx API responses count as probe failures
	// instead of reachable-but-gated passes.
	StrictClientErrors bool `yaml:"strict_client_errors,omitempty"`

	OutputDir string `yaml:"output_dir,omitempty"`
}

type BrowserConfig struct {
	// Headed runs Chrome with a visible window; headless is the default.
	Headed     bool   `yaml:"headed,omitempty"`
	ChromePath string `yaml:"chrome_path,omitempty"`
}

type StorageConfig struct {
	Type string `yaml:"type,omitempty"` // "sqlite" or "memory"
	Path string `yaml:"path,omitempty"` // SQLite file path
}

type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Evaluation: EvaluationConfig{OutputDir: "runvet-out"},
		Server:     ServerConfig{Addr: ":8080"},
	}
}

// Load reads a yaml config file. An empty path means DefaultPath; a missing
// file at the default path yields Default() rather than an error, since
// evaluating a project must work without any configuration.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	usingDefault := path == ""
	if usingDefault {
		path = DefaultPath
	}

	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	case usingDefault && os.IsNotExist(err):
		// No file at the default path: defaults stand in, but env
		// overrides below still apply.
	default:
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	if v := strings.TrimSpace(os.Getenv("RUNVET_CHROME_PATH")); v != "" {
		cfg.Browser.ChromePath = v
	}
	if strings.TrimSpace(cfg.Evaluation.OutputDir) == "" {
		cfg.Evaluation.OutputDir = "runvet-out"
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8080"
	}

	return cfg, nil
}
