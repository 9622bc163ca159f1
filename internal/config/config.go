package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"redeploy/internal/security"
	"redeploy/pkg/cmdutil"
)

const (
	// DefaultConfigFilename is searched for in fileutil.DefaultConfigPaths
	DefaultConfigFilename = "redeploy.yaml"

	DefaultBuildServerURL     = "https://matrix.org/jenkins/"
	DefaultExtractRoot        = "./extracted"
	DefaultSymlink            = "./latest"
	DefaultDownloadDir        = "."
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 4000
	DefaultTimeout            = 30 * time.Second
	DefaultPostPublishTimeout = 300
	DefaultHistoryDB          = "./deployments.db"
	DefaultLogFile            = "./redeploy.log"
	DefaultLogLevel           = "info"
)

// Settings is the process-wide configuration. It is built once at startup
// and handed to the controller and server by value.
type Settings struct {
	// BuildServerURL is the base URL of the Jenkins-style build server.
	BuildServerURL string `yaml:"build_server_url"`
	// ExtractRoot holds one "{job}-#{build}" directory per deployed build.
	ExtractRoot string `yaml:"extract_root"`
	// BundlesDir is the shared, append-only bundle store. Empty disables
	// bundle deduplication.
	BundlesDir string `yaml:"bundles_dir"`
	// CleanDownloads removes downloaded archives once extraction finishes.
	CleanDownloads bool `yaml:"clean_downloads"`
	// Symlink is the current-release link repointed on every publish.
	Symlink string `yaml:"symlink"`
	// ConfigLocation is linked into each release as config.json when set.
	ConfigLocation string `yaml:"config_location"`
	// DownloadDir is the staging directory for downloaded archives.
	DownloadDir string `yaml:"download_dir"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Timeout bounds build server requests and artifact downloads.
	Timeout time.Duration `yaml:"timeout"`

	// WebhookSecret enables HMAC verification of notifications when set.
	WebhookSecret string `yaml:"webhook_secret"`

	// PostPublish commands run inside the release directory after it goes
	// live. Each entry is a string or a list of strings.
	PostPublish        []interface{} `yaml:"post_publish"`
	PostPublishTimeout int           `yaml:"post_publish_timeout"`

	HistoryDB string `yaml:"history_db"`
	LogFile   string `yaml:"log_file"`
	LogLevel  string `yaml:"log_level"`
}

// Defaults returns the settings used when nothing is configured
func Defaults() Settings {
	return Settings{
		BuildServerURL:     DefaultBuildServerURL,
		ExtractRoot:        DefaultExtractRoot,
		Symlink:            DefaultSymlink,
		DownloadDir:        DefaultDownloadDir,
		Host:               DefaultHost,
		Port:               DefaultPort,
		Timeout:            DefaultTimeout,
		PostPublishTimeout: DefaultPostPublishTimeout,
		HistoryDB:          DefaultHistoryDB,
		LogFile:            DefaultLogFile,
		LogLevel:           DefaultLogLevel,
	}
}

// Load reads a YAML file on top of Defaults. Keys missing from the file
// keep their default value.
func Load(configPath string) (Settings, error) {
	settings := Defaults()

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return settings, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return settings, nil
}

// Finalize validates the settings and returns a normalized copy: paths made
// absolute and the build server URL ending in "/".
func (s Settings) Finalize() (Settings, error) {
	if errors := s.Validate(); len(errors) > 0 {
		return s, fmt.Errorf("invalid configuration:\n%s", strings.Join(errors, "\n"))
	}

	if !strings.HasSuffix(s.BuildServerURL, "/") {
		s.BuildServerURL += "/"
	}

	paths := []*string{&s.ExtractRoot, &s.BundlesDir, &s.Symlink, &s.ConfigLocation, &s.DownloadDir}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return s, fmt.Errorf("failed to resolve path '%s': %w", *p, err)
		}
		*p = abs
	}

	return s, nil
}

// Validate returns one line per configuration problem
func (s Settings) Validate() []string {
	var errors []string

	if s.BuildServerURL == "" {
		errors = append(errors, "  - missing required 'build_server_url'")
	} else if u, err := url.Parse(s.BuildServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, fmt.Sprintf("  - build_server_url must be an http(s) URL, got '%s'", s.BuildServerURL))
	}

	if s.ExtractRoot == "" {
		errors = append(errors, "  - missing required 'extract_root'")
	}
	if s.Symlink == "" {
		errors = append(errors, "  - missing required 'symlink'")
	}
	if s.DownloadDir == "" {
		errors = append(errors, "  - missing required 'download_dir'")
	}

	if s.Port < 1 || s.Port > 65535 {
		errors = append(errors, fmt.Sprintf("  - port must be between 1 and 65535, got %d", s.Port))
	}
	if s.Timeout < 0 {
		errors = append(errors, fmt.Sprintf("  - timeout must not be negative, got %s", s.Timeout))
	}
	if s.PostPublishTimeout < 0 {
		errors = append(errors, fmt.Sprintf("  - post_publish_timeout must be a positive integer, got %d", s.PostPublishTimeout))
	}

	for i, cmd := range s.PostPublish {
		if _, err := cmdutil.ParseCommandList(cmd); err != nil {
			errors = append(errors, fmt.Sprintf("  - post_publish[%d]: %v", i, err))
		}
	}

	if s.WebhookSecret != "" {
		if err := security.ValidateSecret(s.WebhookSecret); err != nil {
			errors = append(errors, fmt.Sprintf("  - webhook_secret: %v", err))
		}
	}

	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("  - log_level must be one of debug, info, warn, error, got '%s'", s.LogLevel))
	}

	return errors
}

// PostPublishCommands parses the post_publish entries into argv slices
func (s Settings) PostPublishCommands() ([][]string, error) {
	commands := make([][]string, 0, len(s.PostPublish))
	for i, cmd := range s.PostPublish {
		parts, err := cmdutil.ParseCommandList(cmd)
		if err != nil {
			return nil, fmt.Errorf("post_publish[%d]: %w", i, err)
		}
		commands = append(commands, parts)
	}
	return commands, nil
}

// ListenAddr is the host:port the webhook server binds to
func (s Settings) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
