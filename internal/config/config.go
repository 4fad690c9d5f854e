package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Releases ReleasesConfig `yaml:"releases"`
	Paths    PathsConfig    `yaml:"paths"`
	Tools    ToolsConfig    `yaml:"tools"`
}

// EngineConfig describes the upstream engine sources to build from.
type EngineConfig struct {
	RepoURL    string `yaml:"repo_url"`
	CloneDepth int    `yaml:"clone_depth,omitempty"`
}

// ReleasesConfig describes the remote release listing used to pick a version.
type ReleasesConfig struct {
	APIURL string `yaml:"api_url"`
	Limit  int    `yaml:"limit,omitempty"` // number of recent stable releases offered
}

// PathsConfig holds the on-disk layout the pipeline works against.
type PathsConfig struct {
	DataDir     string `yaml:"data_dir"`     // registry document, history database, run log
	BuildsDir   string `yaml:"builds_dir"`   // one subdirectory per build identity
	PackagesDir string `yaml:"packages_dir"` // operator's custom module sources
	SDKArchive  string `yaml:"sdk_archive"`  // managed-SDK archive extracted on new builds
}

// ToolsConfig names the external tools the pipeline invokes.
type ToolsConfig struct {
	Scons         string   `yaml:"scons,omitempty"`
	SconsJobs     int      `yaml:"scons_jobs,omitempty"`
	ManagedScript string   `yaml:"managed_script,omitempty"` // managed-assembly build entry point
	Python        string   `yaml:"python,omitempty"`
	Required      []string `yaml:"required,omitempty"` // checked on PATH before the pipeline runs
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists; absence is normal.
	if err := loadEnvFile(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is present.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Engine.RepoURL == "" {
		c.Engine.RepoURL = "https://github.com/godotengine/godot.git"
	}
	if c.Engine.CloneDepth == 0 {
		c.Engine.CloneDepth = 1
	}
	if c.Releases.APIURL == "" {
		c.Releases.APIURL = "https://api.github.com/repos/godotengine/godot/releases"
	}
	if c.Releases.Limit == 0 {
		c.Releases.Limit = 5
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = ".enginesmith"
	}
	if c.Paths.BuildsDir == "" {
		c.Paths.BuildsDir = "builds"
	}
	if c.Paths.PackagesDir == "" {
		c.Paths.PackagesDir = "./custom-modules"
	}
	if c.Paths.SDKArchive == "" {
		c.Paths.SDKArchive = "sdk/managed-sdk.zip"
	}
	if c.Tools.Scons == "" {
		c.Tools.Scons = "scons"
	}
	if c.Tools.SconsJobs == 0 {
		c.Tools.SconsJobs = 4
	}
	if c.Tools.ManagedScript == "" {
		c.Tools.ManagedScript = "./build_assemblies.sh"
	}
	if c.Tools.Python == "" {
		c.Tools.Python = "python3"
	}
	if len(c.Tools.Required) == 0 {
		c.Tools.Required = []string{c.Tools.Scons, c.Tools.Python, "dotnet"}
	}
}

// Validate checks invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Engine.RepoURL == "" {
		return fmt.Errorf("engine.repo_url must not be empty")
	}
	if c.Releases.APIURL == "" {
		return fmt.Errorf("releases.api_url must not be empty")
	}
	if c.Releases.Limit < 1 {
		return fmt.Errorf("releases.limit must be at least 1, got %d", c.Releases.Limit)
	}
	if c.Engine.CloneDepth < 0 {
		return fmt.Errorf("engine.clone_depth must not be negative, got %d", c.Engine.CloneDepth)
	}
	return nil
}

// Init creates a new configuration file with example content
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
