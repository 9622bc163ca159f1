package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Job names come from the build server and end up as a path component
	jobNamePattern = regexp.MustCompile(`^[^/\\\x00-\x1f]+$`)
)

// ValidateJobName ensures a build job name is safe to embed in a directory name.
func ValidateJobName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("job name cannot start with '-' or '.'")
	}
	if !jobNamePattern.MatchString(name) {
		return fmt.Errorf("job name contains path separators or control characters")
	}
	return nil
}

// SafeJoin joins an untrusted relative name onto base and rejects results
// that escape base. Used for archive entries and bundle names.
func SafeJoin(base, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute path not allowed: %s", name)
	}

	cleanBase := filepath.Clean(base)
	joined := filepath.Join(cleanBase, name)

	relPath, err := filepath.Rel(cleanBase, joined)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: '%s' is outside '%s'", name, cleanBase)
	}

	return joined, nil
}

// LinkStaysWithin reports whether a symlink placed at linkPath with the given
// target resolves (lexically) to somewhere inside base.
func LinkStaysWithin(base, linkPath, target string) bool {
	resolved := target
	if !filepath.IsAbs(target) {
		resolved = filepath.Join(filepath.Dir(linkPath), target)
	}
	relPath, err := filepath.Rel(filepath.Clean(base), filepath.Clean(resolved))
	if err != nil {
		return false
	}
	return relPath != ".." && !strings.HasPrefix(relPath, ".."+string(filepath.Separator))
}
