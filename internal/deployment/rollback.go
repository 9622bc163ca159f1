package deployment

import (
	"context"
	"fmt"

	"redeploy/internal/deployerr"
	"redeploy/internal/history"
	"redeploy/internal/release"
	"redeploy/pkg/fileutil"
)

// rollbackWindow is how many published deployments rollback looks through
const rollbackWindow = 50

// Rollback repoints the release link at the newest published release older
// than the one currently live and returns it. Releases whose directory has
// since been removed are skipped. Rollbacks are not recorded in history, so
// repeated rollbacks keep walking further back.
func (c *Controller) Rollback(ctx context.Context) (string, error) {
	if c.history == nil {
		return "", deployerr.New(deployerr.Internal, "rollback needs deployment history")
	}

	if err := c.lock.Acquire(ctx); err != nil {
		return "", err
	}
	defer c.lock.Release()

	published, err := c.history.LastPublished(ctx, rollbackWindow)
	if err != nil {
		return "", deployerr.Wrap(deployerr.Internal, err, "failed to read deployment history")
	}

	current, _ := release.Current(c.settings.Symlink)

	candidate, err := previousRelease(current, published, fileutil.DirExists)
	if err != nil {
		return "", err
	}

	c.logger.Info("Rolling back", "from", current, "to", candidate)
	if err := release.Publish(candidate, c.settings.Symlink); err != nil {
		return "", err
	}
	return candidate, nil
}

// previousRelease picks the rollback target from newest-first releases
func previousRelease(current string, published []history.DeploymentRecord, exists func(string) bool) (string, error) {
	start := 0
	for i, rec := range published {
		if releaseOf(rec) == current {
			start = i + 1
			break
		}
	}

	for _, rec := range published[start:] {
		dir := releaseOf(rec)
		if dir == "" || dir == current {
			continue
		}
		if exists(dir) {
			return dir, nil
		}
	}

	return "", deployerr.New(deployerr.Internal, "no earlier release to roll back to%s", currentSuffix(current))
}

func currentSuffix(current string) string {
	if current == "" {
		return ""
	}
	return fmt.Sprintf(" (current: %s)", current)
}

func releaseOf(rec history.DeploymentRecord) string {
	if rec.Release == nil {
		return ""
	}
	return *rec.Release
}
