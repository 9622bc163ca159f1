package fileutil

import (
	"os"
	"path/filepath"
)

// SearchPathsOptional returns the first path that exists, or "" if none do.
func SearchPathsOptional(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// DefaultConfigPaths returns standard config search paths for a given filename.
// Search order:
// 1. Current directory (./<filename>)
// 2. Config subdirectory (./config/<filename>)
// 3. System-wide config (/etc/redeploy/<filename>)
func DefaultConfigPaths(filename string) []string {
	return []string{
		filepath.Join(".", filename),
		filepath.Join(".", "config", filename),
		filepath.Join("/etc/redeploy", filename),
	}
}

// DirExists checks if a directory exists (following symlinks).
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Exists reports whether anything lives at path, including a dangling symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
