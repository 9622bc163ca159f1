package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
build_server_url: http://ci.example.com/jenkins
extract_root: /srv/riot/extracted
bundles_dir: /srv/riot/bundles
clean_downloads: true
timeout: 45s
post_publish:
  - systemctl reload nginx
  - ["touch", "/tmp/deployed"]
`)

	settings, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "http://ci.example.com/jenkins", settings.BuildServerURL)
	require.Equal(t, "/srv/riot/extracted", settings.ExtractRoot)
	require.Equal(t, "/srv/riot/bundles", settings.BundlesDir)
	require.True(t, settings.CleanDownloads)
	require.Equal(t, 45*time.Second, settings.Timeout)
	require.Len(t, settings.PostPublish, 2)

	// Untouched keys keep defaults
	require.Equal(t, DefaultSymlink, settings.Symlink)
	require.Equal(t, DefaultPort, settings.Port)
	require.Equal(t, DefaultLogLevel, settings.LogLevel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "port: [not an int")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestFinalize_Normalizes(t *testing.T) {
	s := Defaults()
	s.BuildServerURL = "https://ci.example.com/jenkins"
	s.BundlesDir = "./bundles"
	s.ConfigLocation = ""

	final, err := s.Finalize()
	require.NoError(t, err)

	require.Equal(t, "https://ci.example.com/jenkins/", final.BuildServerURL)
	require.True(t, filepath.IsAbs(final.ExtractRoot))
	require.True(t, filepath.IsAbs(final.BundlesDir))
	require.True(t, filepath.IsAbs(final.Symlink))
	require.Empty(t, final.ConfigLocation, "unset optional paths stay unset")

	// The receiver is a value; s is unchanged
	require.Equal(t, "./bundles", s.BundlesDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"bad url scheme", func(s *Settings) { s.BuildServerURL = "ftp://ci" }, "build_server_url must be an http(s) URL"},
		{"missing url", func(s *Settings) { s.BuildServerURL = "" }, "missing required 'build_server_url'"},
		{"missing extract root", func(s *Settings) { s.ExtractRoot = "" }, "missing required 'extract_root'"},
		{"bad port", func(s *Settings) { s.Port = 70000 }, "port must be between"},
		{"negative timeout", func(s *Settings) { s.Timeout = -time.Second }, "timeout must not be negative"},
		{"bad hook", func(s *Settings) { s.PostPublish = []interface{}{42} }, "post_publish[0]"},
		{"weak secret", func(s *Settings) { s.WebhookSecret = "short" }, "webhook_secret"},
		{"bad log level", func(s *Settings) { s.LogLevel = "loud" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)

			errors := s.Validate()
			require.NotEmpty(t, errors)
			require.Contains(t, strings.Join(errors, "\n"), tt.want)

			_, err := s.Finalize()
			require.Error(t, err)
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	require.Empty(t, Defaults().Validate())
}

func TestPostPublishCommands(t *testing.T) {
	s := Defaults()
	s.PostPublish = []interface{}{"nginx -s reload", []interface{}{"echo", "done deploying"}}

	commands, err := s.PostPublishCommands()
	require.NoError(t, err)
	require.Equal(t, [][]string{{"nginx", "-s", "reload"}, {"echo", "done deploying"}}, commands)
}

func TestListenAddr(t *testing.T) {
	s := Defaults()
	s.Host = "127.0.0.1"
	s.Port = 4001
	require.Equal(t, "127.0.0.1:4001", s.ListenAddr())
}
