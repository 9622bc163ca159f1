package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"redeploy/internal/config"
	"redeploy/internal/security"
	"redeploy/pkg/fileutil"
)

// Flag names double as the keys checked with Changed
const (
	flagConfig         = "config"
	flagBuildServer    = "build-server-url"
	flagExtract        = "extract"
	flagBundles        = "bundles"
	flagClean          = "clean"
	flagSymlink        = "symlink"
	flagConfigLocation = "config-location"
	flagDownloadDir    = "download-dir"
	flagTimeout        = "timeout"
	flagLog            = "log"
	flagLogLevel       = "log-level"
	flagDB             = "db"
	flagHost           = "host"
	flagPort           = "port"
)

var (
	configFile     string
	buildServerURL string
	extractRoot    string
	bundlesDir     string
	cleanDownloads bool
	symlinkPath    string
	configLocation string
	downloadDir    string
	timeout        time.Duration
	logFile        string
	logLevel       string
	dbPath         string
	host           string
	port           int
)

func registerSettingsFlags(cmd *cobra.Command) {
	defaults := config.Defaults()
	flags := cmd.PersistentFlags()

	flags.StringVarP(&configFile, flagConfig, "c", getEnvOrDefault("REDEPLOY_CONFIG_FILE", ""), "Path to "+config.DefaultConfigFilename)
	flags.StringVarP(&buildServerURL, flagBuildServer, "j", defaults.BuildServerURL, "Base URL of the build server")
	flags.StringVarP(&extractRoot, flagExtract, "e", defaults.ExtractRoot, "Directory to extract .tar.gz files to")
	flags.StringVarP(&bundlesDir, flagBundles, "b", defaults.BundlesDir, "Shared bundle store; bundles/ of every release is merged into it")
	flags.BoolVar(&cleanDownloads, flagClean, defaults.CleanDownloads, "Remove .tar.gz files after they have been extracted")
	flags.StringVarP(&symlinkPath, flagSymlink, "s", defaults.Symlink, "Symlink repointed at each newly published release")
	flags.StringVar(&configLocation, flagConfigLocation, defaults.ConfigLocation, "File linked into every release as config.json")
	flags.StringVar(&downloadDir, flagDownloadDir, defaults.DownloadDir, "Staging directory for downloaded archives")
	flags.DurationVar(&timeout, flagTimeout, defaults.Timeout, "Network timeout for build server requests and stalled downloads")
	flags.StringVar(&logFile, flagLog, defaults.LogFile, "Path to log file (empty logs to stdout only)")
	flags.StringVar(&logLevel, flagLogLevel, defaults.LogLevel, "Log level: debug, info, warn or error")
	flags.StringVar(&dbPath, flagDB, defaults.HistoryDB, "Path to SQLite deployment history")
}

// envOverrides maps environment variables onto settings
var envOverrides = map[string]func(*config.Settings, string) error{
	"REDEPLOY_BUILD_SERVER_URL": func(s *config.Settings, v string) error { s.BuildServerURL = v; return nil },
	"REDEPLOY_EXTRACT_ROOT":     func(s *config.Settings, v string) error { s.ExtractRoot = v; return nil },
	"REDEPLOY_BUNDLES_DIR":      func(s *config.Settings, v string) error { s.BundlesDir = v; return nil },
	"REDEPLOY_SYMLINK":          func(s *config.Settings, v string) error { s.Symlink = v; return nil },
	"REDEPLOY_CONFIG_LOCATION":  func(s *config.Settings, v string) error { s.ConfigLocation = v; return nil },
	"REDEPLOY_DOWNLOAD_DIR":     func(s *config.Settings, v string) error { s.DownloadDir = v; return nil },
	"REDEPLOY_WEBHOOK_SECRET":   func(s *config.Settings, v string) error { s.WebhookSecret = v; return nil },
	"REDEPLOY_HOST":             func(s *config.Settings, v string) error { s.Host = v; return nil },
	"REDEPLOY_LOG_FILE":         func(s *config.Settings, v string) error { s.LogFile = v; return nil },
	"REDEPLOY_LOG_LEVEL":        func(s *config.Settings, v string) error { s.LogLevel = v; return nil },
	"REDEPLOY_DB_PATH":          func(s *config.Settings, v string) error { s.HistoryDB = v; return nil },
	"REDEPLOY_CLEAN_DOWNLOADS": func(s *config.Settings, v string) error {
		b, err := strconv.ParseBool(v)
		s.CleanDownloads = b
		return err
	},
	"REDEPLOY_PORT": func(s *config.Settings, v string) error {
		n, err := strconv.Atoi(v)
		s.Port = n
		return err
	},
	"REDEPLOY_TIMEOUT": func(s *config.Settings, v string) error {
		d, err := time.ParseDuration(v)
		s.Timeout = d
		return err
	},
}

// loadSettings builds the settings for a command. Precedence, lowest first:
// defaults, config file, REDEPLOY_* environment, flags given on the command
// line. Returns the config file used ("" when none was found).
func loadSettings(cmd *cobra.Command) (config.Settings, string, error) {
	settings := config.Defaults()

	path := configFile
	if path == "" {
		path = fileutil.SearchPathsOptional(fileutil.DefaultConfigPaths(config.DefaultConfigFilename))
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return settings, path, err
		}
		settings = loaded
	}

	if err := applyEnv(&settings, os.LookupEnv); err != nil {
		return settings, path, err
	}
	applyFlags(cmd.Flags(), &settings)

	settings, err := settings.Finalize()
	if err != nil {
		return settings, path, err
	}
	return settings, path, nil
}

func applyEnv(s *config.Settings, lookup func(string) (string, bool)) error {
	for key, apply := range envOverrides {
		value, ok := lookup(key)
		if !ok || value == "" {
			continue
		}
		if err := apply(s, value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

func applyFlags(flags *pflag.FlagSet, s *config.Settings) {
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	if changed(flagBuildServer) {
		s.BuildServerURL = buildServerURL
	}
	if changed(flagExtract) {
		s.ExtractRoot = extractRoot
	}
	if changed(flagBundles) {
		s.BundlesDir = bundlesDir
	}
	if changed(flagClean) {
		s.CleanDownloads = cleanDownloads
	}
	if changed(flagSymlink) {
		s.Symlink = symlinkPath
	}
	if changed(flagConfigLocation) {
		s.ConfigLocation = configLocation
	}
	if changed(flagDownloadDir) {
		s.DownloadDir = downloadDir
	}
	if changed(flagTimeout) {
		s.Timeout = timeout
	}
	if changed(flagLog) {
		s.LogFile = logFile
	}
	if changed(flagLogLevel) {
		s.LogLevel = logLevel
	}
	if changed(flagDB) {
		s.HistoryDB = dbPath
	}
	if changed(flagHost) {
		s.Host = host
	}
	if changed(flagPort) {
		s.Port = port
	}
}

// setupLogging configures slog for stdout plus an optional log file.
// The returned close function is never nil.
func setupLogging(logPath, level string) (*slog.Logger, func() error, error) {
	var out io.Writer = os.Stdout
	closeFn := func() error { return nil }

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, closeFn, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
		if err != nil {
			return nil, closeFn, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
		closeFn = file.Close
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	return slog.New(handler), closeFn, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// warnInsecureConfig flags a world-readable config file holding a secret
func warnInsecureConfig(logger *slog.Logger, path string, settings config.Settings) {
	if path == "" || settings.WebhookSecret == "" {
		return
	}
	if err := security.ValidateSecurePermissions(path); err != nil {
		logger.Warn("Config file holding webhook_secret is readable by others", "config", path, "error", err)
	}
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
