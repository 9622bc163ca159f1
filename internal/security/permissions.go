package security

import (
	"fmt"
	"os"
)

const (
	// PermLogFile is for log files that may contain deployment information.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the deployment history database.
	PermDBFile os.FileMode = 0640

	// PermReleaseDir is for extract roots and per-build target directories.
	// Releases are served by a web server, so they are world-readable.
	// rwxr-xr-x (0755)
	PermReleaseDir os.FileMode = 0755

	// PermDownload is for downloaded artifacts before extraction.
	// rw-r----- (0640)
	PermDownload os.FileMode = 0640
)

// EnsureDir creates a directory (and parents) if it does not exist yet.
// Existing directories are left with their permissions untouched.
func EnsureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// IsWorldReadable checks if a file is readable by others.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// ValidateSecurePermissions validates that a sensitive file (such as the
// configuration holding the webhook secret) is not world-readable.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if perm := info.Mode().Perm(); IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), which is insecure for sensitive data", path, perm)
	}

	return nil
}
