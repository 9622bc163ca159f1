package fileutil

import (
	"errors"
	"fmt"
	"os"
)

// TempLinkSuffix is appended to a link path while a replacement is staged
const TempLinkSuffix = ".tmp"

// PublishSymlink points linkPath at targetPath.
//
// A fresh link is created directly. If something already lives at linkPath
// the update falls through to UpdateSymlinkAtomic, so readers of linkPath see
// either the old or the new target and never a missing link.
func PublishSymlink(linkPath, targetPath string) error {
	err := os.Symlink(targetPath, linkPath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("failed to create symlink: %w", err)
	}
	return UpdateSymlinkAtomic(linkPath, targetPath)
}

// UpdateSymlinkAtomic replaces linkPath with a symlink to targetPath using
// the "create temp, then rename" pattern.
//
// rename(2) is atomic on POSIX filesystems so the link is never observed
// missing or half-updated.
func UpdateSymlinkAtomic(linkPath, targetPath string) error {
	tmpLink := linkPath + TempLinkSuffix

	// Leftover from a crashed attempt
	_ = os.Remove(tmpLink)

	if err := os.Symlink(targetPath, tmpLink); err != nil {
		return fmt.Errorf("failed to create temporary symlink: %w", err)
	}

	if err := os.Rename(tmpLink, linkPath); err != nil {
		_ = os.Remove(tmpLink)
		return fmt.Errorf("failed to rename symlink atomically: %w", err)
	}

	return nil
}

// IsSymlink checks if a path is a symlink (the link itself, not its target).
func IsSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

// SymlinkTarget reads the immediate target of a symlink.
func SymlinkTarget(path string) (string, error) {
	if !IsSymlink(path) {
		return "", fmt.Errorf("path is not a symlink: %s", path)
	}

	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("failed to read symlink target: %w", err)
	}

	return target, nil
}
