package deployment

import (
	"fmt"
	"path/filepath"
	"time"

	"redeploy/internal/deployerr"
	"redeploy/internal/security"
)

// OneShotJob is the job name recorded for deployments started from a URL
const OneShotJob = "test"

// State is a step of the deployment state machine
type State string

const (
	StateReceived   State = "RECEIVED"
	StateValidated  State = "VALIDATED"
	StateLocated    State = "LOCATED"
	StateDownloaded State = "DOWNLOADED"
	StateExtracted  State = "EXTRACTED"
	StateAssembled  State = "ASSEMBLED"
	StatePublished  State = "PUBLISHED"
	StateRejected   State = "REJECTED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transition follows s
func (s State) Terminal() bool {
	return s == StatePublished || s == StateRejected || s == StateFailed
}

// BuildReference identifies one build of one job
type BuildReference struct {
	JobName string
	Number  int
}

// Validate checks the reference can name a deployment target
func (r BuildReference) Validate() error {
	if err := security.ValidateJobName(r.JobName); err != nil {
		return deployerr.Wrap(deployerr.InvalidRequest, err, "Bad job name: %q", r.JobName)
	}
	if r.Number <= 0 {
		return deployerr.New(deployerr.InvalidRequest, "Missing or bad build number")
	}
	return nil
}

func (r BuildReference) String() string {
	return fmt.Sprintf("%s #%d", r.JobName, r.Number)
}

// TargetDir is the directory a build is extracted into:
// {extractRoot}/{job}-#{build}
func TargetDir(extractRoot, job string, build int) string {
	return filepath.Join(extractRoot, fmt.Sprintf("%s-#%d", job, build))
}

// OneShotTargetDir is the target of a deployment started from a URL,
// named after the current second.
func OneShotTargetDir(extractRoot string, now time.Time) string {
	return filepath.Join(extractRoot, fmt.Sprintf("test-%d", now.Unix()))
}
