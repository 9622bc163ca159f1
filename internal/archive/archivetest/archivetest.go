// Package archivetest builds small tar.gz artifacts for tests.
package archivetest

import (
	"archive/tar"
	"bytes"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// Entry is one archive member. Names ending in "/" are directories; a
// non-empty Link makes a symlink.
type Entry struct {
	Name string
	Body string
	Link string
	Mode int64
}

// Files builds entries from a name -> content map, sorted by name
func Files(files map[string]string) []Entry {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, Entry{Name: name, Body: files[name]})
	}
	return entries
}

// TarGz returns the gzip-compressed tar of entries
func TarGz(t testing.TB, entries []Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, Mode: e.Mode}
		switch {
		case strings.HasSuffix(e.Name, "/"):
			hdr.Typeflag = tar.TypeDir
			if hdr.Mode == 0 {
				hdr.Mode = 0755
			}
		case e.Link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
			if hdr.Mode == 0 {
				hdr.Mode = 0644
			}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", e.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.Body)); err != nil {
				t.Fatalf("write body %s: %v", e.Name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// WriteTarGz writes the archive of entries to path
func WriteTarGz(t testing.TB, path string, entries []Entry) {
	t.Helper()
	if err := os.WriteFile(path, TarGz(t, entries), 0644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}
