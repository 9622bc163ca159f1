package deployment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"redeploy/pkg/cmdutil"
)

// runPostPublish runs the configured post_publish commands inside the
// release directory, stopping at the first failure. Failures come back as
// warnings; the release stays published.
func (c *Controller) runPostPublish(ctx context.Context, r *run) []string {
	if len(c.hooks) == 0 {
		return nil
	}

	o := r.outcome
	opts := cmdutil.ExecOptions{
		Dir:     o.Release,
		Timeout: time.Duration(c.settings.PostPublishTimeout) * time.Second,
		Env: []string{
			"REDEPLOY_DEPLOYMENT_ID=" + o.ID.String(),
			"REDEPLOY_JOB=" + o.Job,
			"REDEPLOY_BUILD=" + strconv.Itoa(o.Build),
			"REDEPLOY_TARGET=" + o.Target,
			"REDEPLOY_RELEASE=" + o.Release,
		},
	}

	for _, cmd := range c.hooks {
		result, err := cmdutil.Run(ctx, opts, cmd)
		if err != nil || !result.OK() {
			output := ""
			if result != nil {
				output = string(result.Output)
			}
			if err == nil {
				err = fmt.Errorf("exit code %d", result.ExitCode)
			}
			r.log.Warn("Post-publish command failed",
				"command", cmdutil.FormatCommand(cmd),
				"error", err,
				"output", output,
			)
			return []string{fmt.Sprintf("post_publish command %s failed: %v", cmdutil.FormatCommand(cmd), err)}
		}
		r.log.Info("Post-publish command finished",
			"command", result.Command,
			"duration", result.Duration.String(),
		)
	}

	return nil
}
