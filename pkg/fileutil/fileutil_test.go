package fileutil

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

// Tests for search.go

func TestSearchPathsOptional(t *testing.T) {
	tmpDir := t.TempDir()

	file1 := filepath.Join(tmpDir, "file1.yaml")
	file2 := filepath.Join(tmpDir, "file2.yaml")
	if err := os.WriteFile(file2, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"skips missing and finds existing", []string{file1, file2}, file2},
		{"returns empty when none exist", []string{file1}, ""},
		{"handles empty path list", []string{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SearchPathsOptional(tt.paths); got != tt.want {
				t.Errorf("SearchPathsOptional() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultConfigPaths(t *testing.T) {
	paths := DefaultConfigPaths("redeploy.yaml")

	want := []string{
		filepath.Join(".", "redeploy.yaml"),
		filepath.Join(".", "config", "redeploy.yaml"),
		"/etc/redeploy/redeploy.yaml",
	}
	if len(paths) != len(want) {
		t.Fatalf("Expected %d paths, got %d", len(want), len(paths))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestDirExists(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	if !DirExists(tmpDir) {
		t.Error("Expected directory to exist")
	}
	if DirExists(file) {
		t.Error("Regular file should not be reported as directory")
	}
	if DirExists(filepath.Join(tmpDir, "missing")) {
		t.Error("Missing path should not exist")
	}
}

func TestExists_DanglingSymlink(t *testing.T) {
	tmpDir := t.TempDir()
	link := filepath.Join(tmpDir, "dangling")
	if err := os.Symlink(filepath.Join(tmpDir, "nowhere"), link); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	if !Exists(link) {
		t.Error("Dangling symlink should count as existing")
	}
	if Exists(filepath.Join(tmpDir, "missing")) {
		t.Error("Missing path should not exist")
	}
}

// Tests for symlink.go

func TestPublishSymlink_CreatesNewLink(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "release-1")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatalf("Failed to create target: %v", err)
	}
	link := filepath.Join(tmpDir, "latest")

	if err := PublishSymlink(link, target); err != nil {
		t.Fatalf("PublishSymlink failed: %v", err)
	}

	got, err := SymlinkTarget(link)
	if err != nil {
		t.Fatalf("SymlinkTarget failed: %v", err)
	}
	if got != target {
		t.Errorf("Expected link to point to %s, got %s", target, got)
	}
}

func TestPublishSymlink_ReplacesExistingLink(t *testing.T) {
	tmpDir := t.TempDir()
	old := filepath.Join(tmpDir, "release-1")
	next := filepath.Join(tmpDir, "release-2")
	link := filepath.Join(tmpDir, "latest")

	if err := os.Symlink(old, link); err != nil {
		t.Fatalf("Failed to create initial link: %v", err)
	}

	if err := PublishSymlink(link, next); err != nil {
		t.Fatalf("PublishSymlink failed: %v", err)
	}

	got, _ := SymlinkTarget(link)
	if got != next {
		t.Errorf("Expected %s, got %s", next, got)
	}
	if Exists(link + TempLinkSuffix) {
		t.Error("Temporary link should not be left behind")
	}
}

func TestPublishSymlink_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "release")
	link := filepath.Join(tmpDir, "latest")

	for i := 0; i < 3; i++ {
		if err := PublishSymlink(link, target); err != nil {
			t.Fatalf("PublishSymlink attempt %d failed: %v", i, err)
		}
	}

	got, _ := SymlinkTarget(link)
	if got != target {
		t.Errorf("Expected %s, got %s", target, got)
	}
}

func TestPublishSymlink_MissingParent(t *testing.T) {
	tmpDir := t.TempDir()
	link := filepath.Join(tmpDir, "no", "such", "dir", "latest")

	if err := PublishSymlink(link, tmpDir); err == nil {
		t.Error("Expected error when link parent directory does not exist")
	}
}

func TestUpdateSymlinkAtomic_StaleTempLink(t *testing.T) {
	tmpDir := t.TempDir()
	link := filepath.Join(tmpDir, "config.json")
	target := filepath.Join(tmpDir, "real-config.json")

	// A previous crashed attempt left the temp link around
	if err := os.Symlink("/stale", link+TempLinkSuffix); err != nil {
		t.Fatalf("Failed to create stale temp link: %v", err)
	}

	if err := UpdateSymlinkAtomic(link, target); err != nil {
		t.Fatalf("UpdateSymlinkAtomic failed: %v", err)
	}

	got, _ := SymlinkTarget(link)
	if got != target {
		t.Errorf("Expected %s, got %s", target, got)
	}
}

// Readers polling the link while it is repointed must always see a symlink
// with one of the two valid targets.
func TestPublishSymlink_ConcurrentReaders(t *testing.T) {
	tmpDir := t.TempDir()
	targetA := filepath.Join(tmpDir, "a")
	targetB := filepath.Join(tmpDir, "b")
	link := filepath.Join(tmpDir, "latest")

	if err := PublishSymlink(link, targetA); err != nil {
		t.Fatalf("Initial publish failed: %v", err)
	}

	var stop atomic.Bool
	var bad atomic.Int64
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				got, err := os.Readlink(link)
				if err != nil || (got != targetA && got != targetB) {
					bad.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		target := targetA
		if i%2 == 0 {
			target = targetB
		}
		if err := PublishSymlink(link, target); err != nil {
			t.Errorf("Publish %d failed: %v", i, err)
			break
		}
	}
	stop.Store(true)
	wg.Wait()

	if n := bad.Load(); n > 0 {
		t.Errorf("Readers observed %d invalid link states", n)
	}
}

func TestSymlinkTarget_NotALink(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	if IsSymlink(file) {
		t.Error("Regular file reported as symlink")
	}
	if _, err := SymlinkTarget(file); err == nil {
		t.Error("Expected error reading target of regular file")
	}
}
