package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"jenkinsrun/internal/engine"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Jenkins   JenkinsConfig   `yaml:"jenkins"`
	Build     BuildConfig     `yaml:"build"`
	API       APIConfig       `yaml:"api"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig represents the server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"` // Empty slice means allow all origins
	MaxBodySize    int64    `yaml:"max_body_size"`   // Maximum request body size in bytes (default: 1MB)
}

// DatabaseConfig represents the database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// JenkinsConfig represents the Jenkins connection configuration
type JenkinsConfig struct {
	URL                string `yaml:"url"`
	WebPath            string `yaml:"web_path"` // Context path Jenkins is mounted under, e.g. /jenkins
	Username           string `yaml:"username"` // Jenkins username (optional, defaults to token if not provided)
	Token              string `yaml:"token"`
	Timeout            int    `yaml:"timeout"` // Request timeout in seconds (default: 30)
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// BuildConfig controls how a build is tracked once submitted
type BuildConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	QueuePollInterval  time.Duration `yaml:"queue_poll_interval"`
	StartTimeout       time.Duration `yaml:"start_timeout"`
	PollTimeout        time.Duration `yaml:"poll_timeout"` // negative disables the overall bound
	MaxNotFound        int           `yaml:"max_not_found"`
	CancelOnTimeout    bool          `yaml:"cancel_on_timeout"`
	UnstableIsSuccess  bool          `yaml:"unstable_is_success"`
	ResolveAuthorEmail *bool         `yaml:"resolve_author_email"`
	QueueMinVersion    string        `yaml:"queue_min_version"`
}

// APIConfig represents the API configuration
type APIConfig struct {
	Keys []string `yaml:"keys"`
}

// EventsConfig configures publication of finished build results
type EventsConfig struct {
	Brokers []string `yaml:"brokers"` // Empty disables publishing
	Topic   string   `yaml:"topic"`
}

// TelemetryConfig configures tracing
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Load loads the configuration from the given file path
func Load(filePath string) (*Config, error) {
	config := &Config{}

	data, err := os.ReadFile(filePath) //nolint:gosec // Trusted file path input
	if err != nil {
		// A missing file is fine when everything comes from the environment
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}

	// Apply environment variables
	if err := applyEnvVars(config); err != nil {
		return nil, err
	}

	SetDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvVars applies environment variables to the configuration
func applyEnvVars(config *Config) error {
	// Server configuration
	if port := os.Getenv("JENKINSRUN_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("JENKINSRUN_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if keys := os.Getenv("JENKINSRUN_API_KEYS"); keys != "" {
		config.API.Keys = splitList(keys)
	}

	// Database configuration
	if path := os.Getenv("JENKINSRUN_DATABASE_PATH"); path != "" {
		config.Database.Path = path
	}

	// Jenkins configuration
	if url := os.Getenv("JENKINSRUN_JENKINS_URL"); url != "" {
		config.Jenkins.URL = url
	}
	if webPath := os.Getenv("JENKINSRUN_JENKINS_WEB_PATH"); webPath != "" {
		config.Jenkins.WebPath = webPath
	}
	if username := os.Getenv("JENKINSRUN_JENKINS_USERNAME"); username != "" {
		config.Jenkins.Username = username
	}
	if token := os.Getenv("JENKINSRUN_JENKINS_TOKEN"); token != "" {
		config.Jenkins.Token = token
	}
	if timeout := os.Getenv("JENKINSRUN_JENKINS_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil && t > 0 {
			config.Jenkins.Timeout = t
		}
	}

	// Build tracking configuration
	durations := map[string]*time.Duration{
		"JENKINSRUN_BUILD_POLL_INTERVAL":       &config.Build.PollInterval,
		"JENKINSRUN_BUILD_QUEUE_POLL_INTERVAL": &config.Build.QueuePollInterval,
		"JENKINSRUN_BUILD_START_TIMEOUT":       &config.Build.StartTimeout,
		"JENKINSRUN_BUILD_POLL_TIMEOUT":        &config.Build.PollTimeout,
	}
	for name, target := range durations {
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*target = d
	}
	if v := os.Getenv("JENKINSRUN_BUILD_CANCEL_ON_TIMEOUT"); v != "" {
		config.Build.CancelOnTimeout = v == "true"
	}
	if v := os.Getenv("JENKINSRUN_BUILD_UNSTABLE_IS_SUCCESS"); v != "" {
		config.Build.UnstableIsSuccess = v == "true"
	}

	// Events configuration
	if brokers := os.Getenv("JENKINSRUN_EVENTS_BROKERS"); brokers != "" {
		config.Events.Brokers = splitList(brokers)
	}
	if topic := os.Getenv("JENKINSRUN_EVENTS_TOPIC"); topic != "" {
		config.Events.Topic = topic
	}
	if v := os.Getenv("JENKINSRUN_TELEMETRY_ENABLED"); v != "" {
		config.Telemetry.Enabled = v == "true"
	}

	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SetDefaults sets default values for the configuration
func SetDefaults(config *Config) {
	// Server defaults
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.MaxBodySize == 0 {
		config.Server.MaxBodySize = 1 << 20 // 1MB default
	}

	// Database defaults
	if config.Database.Path == "" {
		config.Database.Path = "./jenkinsrun.db"
	}

	// Jenkins defaults
	if config.Jenkins.Timeout == 0 {
		config.Jenkins.Timeout = 30
	}
	if config.Jenkins.Username == "" {
		// If username is not provided, use token as username (Jenkins API token authentication)
		config.Jenkins.Username = config.Jenkins.Token
	}

	SetBuildDefaults(&config.Build)

	// Events defaults
	if config.Events.Topic == "" {
		config.Events.Topic = "jenkins.build.results"
	}

	if config.Telemetry.ServiceName == "" {
		config.Telemetry.ServiceName = "jenkinsrun"
	}
}

// SetBuildDefaults fills the unset build tracking settings
func SetBuildDefaults(build *BuildConfig) {
	if build.PollInterval == 0 {
		build.PollInterval = 3 * time.Second
	}
	if build.QueuePollInterval == 0 {
		build.QueuePollInterval = 2 * time.Second
	}
	if build.StartTimeout == 0 {
		build.StartTimeout = 60 * time.Second
	}
	if build.PollTimeout == 0 {
		build.PollTimeout = 2 * time.Hour
	}
	if build.MaxNotFound == 0 {
		build.MaxNotFound = 5
	}
	if build.ResolveAuthorEmail == nil {
		resolve := true
		build.ResolveAuthorEmail = &resolve
	}
	if build.QueueMinVersion == "" {
		build.QueueMinVersion = "1.519"
	}
}

// GetLogLevel returns the log level from the environment
func GetLogLevel() string {
	levelStr := os.Getenv("JENKINSRUN_LOG_LEVEL")
	switch levelStr {
	case "debug", "info", "warn", "error":
		return levelStr
	}
	return "info"
}

// GetLogFormat returns the log format from the environment
func GetLogFormat() string {
	if os.Getenv("JENKINSRUN_LOG_FORMAT") == "text" {
		return "text"
	}
	return "json"
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	if c.Jenkins.URL == "" {
		return &engine.ConfigurationError{Missing: []string{"jenkins.url"}}
	}
	u, err := url.Parse(c.Jenkins.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &engine.ConfigurationError{Reason: fmt.Sprintf("invalid jenkins.url: %q", c.Jenkins.URL)}
	}

	if c.Build.PollInterval < 0 || c.Build.QueuePollInterval < 0 || c.Build.StartTimeout < 0 {
		return &engine.ConfigurationError{Reason: "build intervals and start_timeout must be non-negative"}
	}
	if c.Build.MaxNotFound < 0 {
		return &engine.ConfigurationError{Reason: fmt.Sprintf("invalid build.max_not_found: %d", c.Build.MaxNotFound)}
	}

	return nil
}

// ValidateServer checks the settings only the HTTP API needs
func (c *Config) ValidateServer() error {
	// Validate server port
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	// Validate max body size
	if c.Server.MaxBodySize < 0 {
		return fmt.Errorf("invalid server.max_body_size: %d (must be non-negative)", c.Server.MaxBodySize)
	}
	if c.Server.MaxBodySize > 100<<20 { // 100MB max
		return fmt.Errorf("invalid server.max_body_size: %d (must be less than 100MB)", c.Server.MaxBodySize)
	}

	// Validate API keys
	if len(c.API.Keys) == 0 {
		return &engine.ConfigurationError{Missing: []string{"api.keys"}}
	}
	for i, key := range c.API.Keys {
		if key == "" {
			return fmt.Errorf("api.keys[%d] cannot be empty", i)
		}
	}

	return nil
}
