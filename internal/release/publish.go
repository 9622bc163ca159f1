package release

import (
	"fmt"
	"path/filepath"

	"redeploy/internal/deployerr"
	"redeploy/pkg/fileutil"
)

// Publish points link at target. Readers of link observe either the
// previous release or the new one, never a missing link.
func Publish(target, link string) error {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return deployerr.Wrap(deployerr.PublishFailed, err, "failed to resolve %s", target)
	}

	if err := fileutil.PublishSymlink(link, absTarget); err != nil {
		return deployerr.Wrap(deployerr.PublishFailed, err, "failed to publish %s", link)
	}
	return nil
}

// Current returns the release link currently points at
func Current(link string) (string, error) {
	target, err := fileutil.SymlinkTarget(link)
	if err != nil {
		return "", fmt.Errorf("no current release: %w", err)
	}
	return target, nil
}
