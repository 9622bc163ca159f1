package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"redeploy/internal/archive/archivetest"
	"redeploy/internal/deployerr"
)

func TestExtract_PreservesStructure(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "app-v5.tar.gz")
	dest := filepath.Join(tmp, "App-#5")
	require.NoError(t, os.Mkdir(dest, 0755))

	archivetest.WriteTarGz(t, archivePath, []archivetest.Entry{
		{Name: "app-v5/"},
		{Name: "app-v5/index.html", Body: "<html>v5</html>"},
		{Name: "app-v5/bundles/"},
		{Name: "app-v5/bundles/abc123/vendor.js", Body: "vendor"},
		{Name: "app-v5/run.sh", Body: "#!/bin/sh", Mode: 0755},
		{Name: "app-v5/current.js", Link: "bundles/abc123/vendor.js"},
	})

	require.NoError(t, Extract(archivePath, dest))

	data, err := os.ReadFile(filepath.Join(dest, "app-v5", "index.html"))
	require.NoError(t, err)
	require.Equal(t, "<html>v5</html>", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "app-v5", "bundles", "abc123", "vendor.js"))
	require.NoError(t, err)
	require.Equal(t, "vendor", string(data))

	info, err := os.Stat(filepath.Join(dest, "app-v5", "run.sh"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0755), info.Mode().Perm()&0755)

	target, err := os.Readlink(filepath.Join(dest, "app-v5", "current.js"))
	require.NoError(t, err)
	require.Equal(t, "bundles/abc123/vendor.js", target)

	require.Equal(t, []string{"app-v5"}, TopLevelDirs(dest))
}

func TestExtract_ImplicitParentDirectories(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "a.tar.gz")
	archivetest.WriteTarGz(t, archivePath, archivetest.Files(map[string]string{
		"a/deep/nested/file.txt": "x",
	}))

	require.NoError(t, Extract(archivePath, tmp))
	require.FileExists(t, filepath.Join(tmp, "a", "deep", "nested", "file.txt"))
}

func TestExtract_RejectsTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry archivetest.Entry
	}{
		{"dotdot file", archivetest.Entry{Name: "../escaped.txt", Body: "x"}},
		{"absolute file", archivetest.Entry{Name: "/tmp/escaped.txt", Body: "x"}},
		{"escaping symlink", archivetest.Entry{Name: "app/evil", Link: "../../../etc"}},
		{"absolute symlink", archivetest.Entry{Name: "app/evil", Link: "/etc/passwd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			dest := filepath.Join(tmp, "dest")
			require.NoError(t, os.Mkdir(dest, 0755))
			archivePath := filepath.Join(tmp, "evil.tar.gz")
			archivetest.WriteTarGz(t, archivePath, []archivetest.Entry{tt.entry})

			err := Extract(archivePath, dest)
			require.Error(t, err)
			require.Equal(t, deployerr.ExtractionFailed, deployerr.KindOf(err))
			require.NoFileExists(t, filepath.Join(tmp, "escaped.txt"))
		})
	}
}

func TestExtract_NotGzip(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "broken.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("this is not an archive"), 0644))

	err := Extract(archivePath, tmp)
	require.Equal(t, deployerr.ExtractionFailed, deployerr.KindOf(err))
}

func TestExtract_TruncatedArchive(t *testing.T) {
	tmp := t.TempDir()
	data := archivetest.TarGz(t, archivetest.Files(map[string]string{
		"app/big.txt": string(make([]byte, 64*1024)),
	}))
	archivePath := filepath.Join(tmp, "truncated.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, data[:len(data)/2], 0644))

	dest := filepath.Join(tmp, "dest")
	require.NoError(t, os.Mkdir(dest, 0755))

	err := Extract(archivePath, dest)
	require.Equal(t, deployerr.ExtractionFailed, deployerr.KindOf(err))
}

func TestExtract_MissingArchive(t *testing.T) {
	err := Extract(filepath.Join(t.TempDir(), "missing.tar.gz"), t.TempDir())
	require.Equal(t, deployerr.ExtractionFailed, deployerr.KindOf(err))
}

func TestExtract_RepeatedNameLaterEntryWins(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "app.tar.gz")
	archivetest.WriteTarGz(t, archivePath, []archivetest.Entry{
		{Name: "app/"},
		{Name: "app/index.html", Body: "first"},
		{Name: "app/index.html", Body: "second"},
	})

	require.NoError(t, Extract(archivePath, tmp))

	data, err := os.ReadFile(filepath.Join(tmp, "app", "index.html"))
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

func TestExtract_RepeatedNameReplacesSymlink(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "app.tar.gz")
	archivetest.WriteTarGz(t, archivePath, []archivetest.Entry{
		{Name: "app/"},
		{Name: "app/data.txt", Body: "original"},
		{Name: "app/link", Link: "data.txt"},
		{Name: "app/link", Body: "replacement"},
	})

	require.NoError(t, Extract(archivePath, tmp))

	info, err := os.Lstat(filepath.Join(tmp, "app", "link"))
	require.NoError(t, err)
	require.True(t, info.Mode().IsRegular(), "link should be replaced by a regular file")

	data, err := os.ReadFile(filepath.Join(tmp, "app", "link"))
	require.NoError(t, err)
	require.Equal(t, "replacement", string(data))

	data, err = os.ReadFile(filepath.Join(tmp, "app", "data.txt"))
	require.NoError(t, err)
	require.Equal(t, "original", string(data), "symlink target must not be written through")
}

func TestExtract_FileCannotReplaceDirectory(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "app.tar.gz")
	archivetest.WriteTarGz(t, archivePath, []archivetest.Entry{
		{Name: "app/"},
		{Name: "app/assets/"},
		{Name: "app/assets", Body: "x"},
	})

	err := Extract(archivePath, tmp)
	require.Equal(t, deployerr.ExtractionFailed, deployerr.KindOf(err))
}
