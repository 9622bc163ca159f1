package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"redeploy/internal/archive/archivetest"
	"redeploy/internal/config"
	"redeploy/internal/deployment"
)

// slowBuildServer serves one successful build whose artifact takes delay to arrive
func slowBuildServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	archive := archivetest.TarGz(t, []archivetest.Entry{
		{Name: "app-v5/"},
		{Name: "app-v5/index.html", Body: "v5"},
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/job/App/5/api/json":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result": "SUCCESS",
				"artifacts": []map[string]string{{
					"displayPath":  "app-v5.tar.gz",
					"fileName":     "app-v5.tar.gz",
					"relativePath": "app-v5.tar.gz",
				}},
			})
		case "/job/App/5/artifact/app-v5.tar.gz":
			time.Sleep(delay)
			_, _ = w.Write(archive)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleNotification_ClientGoneStillPublishes(t *testing.T) {
	buildServer := slowBuildServer(t, 700*time.Millisecond)

	root := t.TempDir()
	settings := config.Defaults()
	settings.BuildServerURL = buildServer.URL + "/"
	settings.ExtractRoot = filepath.Join(root, "extracted")
	settings.Symlink = filepath.Join(root, "latest")
	settings.DownloadDir = filepath.Join(root, "downloads")
	settings.Timeout = 5 * time.Second

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	controller, err := deployment.NewController(settings, deployment.WithLogger(logger))
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}

	server := NewServer(controller, nil, nil, settings, logger, true)
	listener := httptest.NewServer(server.Router())
	defer listener.Close()

	client := &http.Client{Timeout: 200 * time.Millisecond}
	resp, err := client.Post(listener.URL+"/", "application/json",
		bytes.NewReader([]byte(`{"name":"App","build":{"number":5}}`)))
	if err == nil {
		resp.Body.Close()
		t.Fatalf("Expected the client to time out, got status %d", resp.StatusCode)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Readlink(settings.Symlink); err == nil && !controller.Busy() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Release was never published after the client went away")
		}
		time.Sleep(20 * time.Millisecond)
	}

	data, err := os.ReadFile(filepath.Join(settings.Symlink, "index.html"))
	if err != nil {
		t.Fatalf("Failed to read published release: %v", err)
	}
	if string(data) != "v5" {
		t.Errorf("Expected published index.html %q, got %q", "v5", string(data))
	}
}
