// Package deployment drives a build from notification to published release.
//
// A Controller owns the deployment lock, so at most one deployment touches
// the extract root, the bundle store and the release link at any time.
// Each attempt walks the states
//
//	RECEIVED -> VALIDATED -> LOCATED -> DOWNLOADED -> EXTRACTED -> ASSEMBLED -> PUBLISHED
//
// and ends in PUBLISHED, REJECTED (nothing on disk was touched) or FAILED.
package deployment

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"redeploy/internal/archive"
	"redeploy/internal/artifact"
	"redeploy/internal/config"
	"redeploy/internal/deployerr"
	"redeploy/internal/history"
	"redeploy/internal/metrics"
	"redeploy/internal/release"
	"redeploy/internal/security"
	"redeploy/pkg/fileutil"
)

// recordTimeout bounds writing an outcome to the history store
const recordTimeout = 5 * time.Second

// History is the deployment log the controller writes to and rolls back from
type History interface {
	RecordDeployment(ctx context.Context, record *history.DeploymentRecord) (int64, error)
	LastPublished(ctx context.Context, limit int) ([]history.DeploymentRecord, error)
}

// Outcome is the result of one deployment attempt
type Outcome struct {
	ID        uuid.UUID
	Job       string
	Build     int
	State     State
	Err       error
	Target    string
	Release   string
	Warnings  []string
	StartedAt time.Time
	Duration  time.Duration
}

// OK reports whether the release was published
func (o *Outcome) OK() bool {
	return o.State == StatePublished && o.Err == nil
}

// Kind is the error kind of a failed outcome
func (o *Outcome) Kind() deployerr.Kind {
	return deployerr.KindOf(o.Err)
}

// Controller runs deployments
type Controller struct {
	settings  config.Settings
	locator   *artifact.Locator
	fetcher   *artifact.Fetcher
	assembler *release.Assembler
	hooks     [][]string

	lock    *Lock
	history History
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Controller
type Option func(*Controller)

// WithHistory records every outcome in h
func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

// WithMetrics reports outcomes to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock replaces time.Now. One-shot target names derive from it.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller for finalized settings and makes sure
// the extract root exists.
func NewController(settings config.Settings, opts ...Option) (*Controller, error) {
	hooks, err := settings.PostPublishCommands()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		settings: settings,
		locator:  artifact.NewLocator(settings.BuildServerURL, settings.Timeout),
		fetcher:  artifact.NewFetcher(settings.DownloadDir, settings.Timeout),
		hooks:    hooks,
		lock:     NewLock(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.assembler = release.NewAssembler(settings.ConfigLocation, settings.BundlesDir, c.logger)

	if err := security.EnsureDir(settings.ExtractRoot, security.PermReleaseDir); err != nil {
		return nil, err
	}
	if err := security.EnsureDir(settings.DownloadDir, security.PermReleaseDir); err != nil {
		return nil, err
	}

	return c, nil
}

// Busy reports whether a deployment is in progress
func (c *Controller) Busy() bool {
	return c.lock.Held()
}

// run tracks a single attempt
type run struct {
	c       *Controller
	outcome *Outcome
	log     *slog.Logger
	locked  bool
}

func (c *Controller) newRun(job string, build int) *run {
	o := &Outcome{
		ID:        uuid.New(),
		Job:       job,
		Build:     build,
		State:     StateReceived,
		StartedAt: c.now(),
	}
	log := c.logger.With("deployment_id", o.ID.String())
	if job != "" {
		log = log.With("job", job, "build", build)
	}
	r := &run{c: c, outcome: o, log: log}
	r.log.Info("deployment state", "state", StateReceived)
	return r
}

func (r *run) transition(s State) {
	r.outcome.State = s
	r.log.Info("deployment state", "state", s)
}

func (r *run) acquire(ctx context.Context) error {
	if err := r.c.lock.Acquire(ctx); err != nil {
		return err
	}
	r.locked = true
	r.c.metrics.DeploymentStarted()
	return nil
}

func (r *run) reject(err error) *Outcome {
	return r.end(StateRejected, err)
}

func (r *run) fail(err error) *Outcome {
	return r.end(StateFailed, err)
}

// end moves to a terminal state, releases the lock and records the outcome
func (r *run) end(s State, err error) *Outcome {
	o := r.outcome
	o.State = s
	o.Err = err
	o.Duration = r.c.now().Sub(o.StartedAt)

	kind := ""
	if err != nil {
		kind = deployerr.KindOf(err).String()
		r.log.Error("deployment state", "state", s, "kind", kind, "error", err.Error())
	} else {
		r.log.Info("deployment state", "state", s, "release", o.Release, "duration", o.Duration.String())
	}

	if r.locked {
		r.c.metrics.DeploymentFinished(string(s), kind, o.Duration)
		r.c.lock.Release()
		r.locked = false
	} else {
		r.c.metrics.DeploymentRejected(string(s), kind, o.Duration)
	}

	r.record()
	return o
}

func (r *run) record() {
	if r.c.history == nil {
		return
	}
	o := r.outcome

	job := o.Job
	if job == "" {
		job = OneShotJob
	}
	completed := o.StartedAt.Add(o.Duration)
	duration := o.Duration.Seconds()
	rec := &history.DeploymentRecord{
		DeploymentID:    o.ID.String(),
		Job:             job,
		BuildNumber:     o.Build,
		StartedAt:       o.StartedAt,
		CompletedAt:     &completed,
		DurationSeconds: &duration,
		Target:          optional(o.Target),
		Release:         optional(o.Release),
	}
	switch o.State {
	case StatePublished:
		rec.Status = history.StatusPublished
	case StateRejected:
		rec.Status = history.StatusRejected
	default:
		rec.Status = history.StatusFailed
	}
	if o.Err != nil {
		kind := o.Kind().String()
		msg := o.Err.Error()
		rec.Kind = &kind
		rec.ErrorMessage = &msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if _, err := r.c.history.RecordDeployment(ctx, rec); err != nil {
		r.log.Warn("Failed to record deployment history", "error", err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// HandleBuildNotification deploys the single .tar.gz artifact of a finished
// build. It waits for any deployment in progress; if ctx ends first the
// outcome is REJECTED with a Busy error. ctx is not consulted after that.
func (c *Controller) HandleBuildNotification(ctx context.Context, job string, build int) *Outcome {
	r := c.newRun(job, build)

	ref := BuildReference{JobName: job, Number: build}
	if err := ref.Validate(); err != nil {
		return r.reject(err)
	}
	r.transition(StateValidated)

	if err := r.acquire(ctx); err != nil {
		return r.reject(err)
	}
	// Once the lock is held the caller going away no longer stops the
	// deployment; only the configured network timeout does.
	ctx = context.WithoutCancel(ctx)

	desc, err := c.locator.Locate(ctx, job, build)
	if err != nil {
		return r.reject(err)
	}
	r.transition(StateLocated)
	r.log.Info("Located artifact", "url", desc.URL)

	return c.deploy(ctx, r, desc.URL, TargetDir(c.settings.ExtractRoot, job, build))
}

// DeployFromURL deploys a tarball from an explicit URL into a target named
// after the current second, skipping the build server query.
func (c *Controller) DeployFromURL(ctx context.Context, tarballURL string) *Outcome {
	r := c.newRun("", 0)
	r.log.Info("One-shot deployment", "url", tarballURL)

	if strings.TrimSpace(tarballURL) == "" {
		return r.reject(deployerr.New(deployerr.InvalidRequest, "no tarball URL given"))
	}

	if err := r.acquire(ctx); err != nil {
		return r.reject(err)
	}

	return c.deploy(context.WithoutCancel(ctx), r, tarballURL, OneShotTargetDir(c.settings.ExtractRoot, c.now()))
}

// deploy runs everything from the pre-flight guard on. The caller holds the
// lock and passes a context that is never cancelled.
func (c *Controller) deploy(ctx context.Context, r *run, url, target string) *Outcome {
	if err := claimTarget(target); err != nil {
		return r.fail(err)
	}
	r.outcome.Target = target
	r.log.Info("Created deployment target", "target", target)

	localPath, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return r.fail(err)
	}
	r.transition(StateDownloaded)

	if err := c.extract(localPath, target, r.log); err != nil {
		return r.fail(err)
	}
	r.transition(StateExtracted)

	releaseDir := filepath.Join(target, artifact.ReleaseName(filepath.Base(localPath)))
	if !fileutil.DirExists(releaseDir) {
		return r.fail(deployerr.New(deployerr.AssemblyFailed,
			"archive did not contain %s (top level: %s)",
			filepath.Base(releaseDir), strings.Join(archive.TopLevelDirs(target), ", ")))
	}

	if err := c.assembler.Assemble(releaseDir); err != nil {
		return r.fail(err)
	}
	r.transition(StateAssembled)

	if err := release.Publish(releaseDir, c.settings.Symlink); err != nil {
		return r.fail(err)
	}
	r.outcome.Release = releaseDir

	// Hooks run once the release is live and never un-publish it
	r.outcome.Warnings = c.runPostPublish(ctx, r)

	return r.end(StatePublished, nil)
}

// claimTarget creates the target directory exclusively. An existing target
// means this build was deployed (or attempted) before.
func claimTarget(target string) error {
	if fileutil.Exists(target) {
		return deployerr.New(deployerr.DuplicateDeployment,
			"Not deploying. We have previously deployed this build (%s exists).", filepath.Base(target))
	}
	if err := os.Mkdir(target, security.PermReleaseDir); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return deployerr.New(deployerr.DuplicateDeployment,
				"Not deploying. We have previously deployed this build (%s exists).", filepath.Base(target))
		}
		return deployerr.Wrap(deployerr.Internal, err, "failed to create deployment target")
	}
	return nil
}

// extract unpacks the archive; with clean_downloads the archive is removed
// whatever the result.
func (c *Controller) extract(localPath, target string, log *slog.Logger) error {
	if c.settings.CleanDownloads {
		defer func() {
			if err := os.Remove(localPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn("Failed to remove downloaded archive", "path", localPath, "error", err)
			}
		}()
	}
	return archive.Extract(localPath, target)
}
