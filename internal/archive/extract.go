// Package archive unpacks downloaded build artifacts.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"redeploy/internal/deployerr"
	"redeploy/internal/security"
)

// Extract unpacks the gzip-compressed tar at archivePath into destDir,
// preserving the archive's directory structure.
//
// destDir must exist. Entries that would land outside destDir are rejected.
// On failure whatever was already written stays on disk.
func Extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return deployerr.Wrap(deployerr.ExtractionFailed, err, "failed to open archive")
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return deployerr.Wrap(deployerr.ExtractionFailed, err, "failed to read gzip stream of %s", filepath.Base(archivePath))
	}
	defer gz.Close()

	if err := extractTar(tar.NewReader(gz), destDir); err != nil {
		return deployerr.Wrap(deployerr.ExtractionFailed, err, "failed to extract %s", filepath.Base(archivePath))
	}
	return nil
}

// TopLevelDirs lists the directories directly under destDir. Used for
// diagnostics when the expected release directory is missing.
func TopLevelDirs(destDir string) []string {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs
}

func extractTar(tr *tar.Reader, destDir string) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt archive: %w", err)
		}

		target, err := security.SafeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(hdr)); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", hdr.Name, err)
			}

		case tar.TypeReg:
			if err := writeFile(tr, target, hdr); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if !security.LinkStaysWithin(destDir, target, hdr.Linkname) {
				return fmt.Errorf("symlink %s -> %s points outside the archive", hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create parent of %s: %w", hdr.Name, err)
			}
			if err := removeExisting(target, hdr); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", hdr.Name, err)
			}

		case tar.TypeLink:
			source, err := security.SafeJoin(destDir, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.Link(source, target); err != nil {
				return fmt.Errorf("failed to create hard link %s: %w", hdr.Name, err)
			}

		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			// pax metadata, nothing to write

		default:
			return fmt.Errorf("unsupported entry type %q for %s", hdr.Typeflag, hdr.Name)
		}
	}
}

func writeFile(r io.Reader, target string, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", hdr.Name, err)
	}

	if err := removeExisting(target, hdr); err != nil {
		return err
	}

	// O_EXCL: never write through a symlink planted by an earlier entry
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode(hdr))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", hdr.Name, err)
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", hdr.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", hdr.Name, err)
	}
	return nil
}

// removeExisting clears the way for an entry whose name an earlier entry
// already used. The later entry wins, as with tar itself. The old entry is
// removed, not followed, so a symlink is replaced rather than written through.
func removeExisting(target string, hdr *tar.Header) error {
	info, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", hdr.Name, err)
	}
	if info.IsDir() {
		return fmt.Errorf("entry %s would replace a directory", hdr.Name)
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("failed to replace %s: %w", hdr.Name, err)
	}
	return nil
}

func fileMode(hdr *tar.Header) os.FileMode {
	mode := os.FileMode(hdr.Mode).Perm()
	if mode == 0 {
		mode = 0644
	}
	return mode
}

func dirMode(hdr *tar.Header) os.FileMode {
	// Keep directories traversable whatever the archive says
	return os.FileMode(hdr.Mode).Perm() | 0700
}
