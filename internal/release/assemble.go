// Package release turns an extracted archive into a servable release
// directory and publishes it behind the current-release symlink.
package release

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"redeploy/internal/deployerr"
	"redeploy/internal/security"
	"redeploy/pkg/fileutil"
)

const (
	// ConfigLinkName is the name of the config symlink inside a release
	ConfigLinkName = "config.json"

	// BundlesDirName is the release subdirectory merged into the shared store
	BundlesDirName = "bundles"
)

// Assembler wires shared configuration and bundles into release directories.
// Both steps are optional; an empty path disables the step.
type Assembler struct {
	ConfigSource string
	BundlesStore string
	Logger       *slog.Logger

	// rename is os.Rename, swappable in tests
	rename func(oldpath, newpath string) error
}

// NewAssembler creates an assembler. configSource and bundlesStore may be empty.
func NewAssembler(configSource, bundlesStore string, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		ConfigSource: configSource,
		BundlesStore: bundlesStore,
		Logger:       logger,
		rename:       os.Rename,
	}
}

// Assemble links config.json and merges bundles for releaseDir
func (a *Assembler) Assemble(releaseDir string) error {
	if !fileutil.DirExists(releaseDir) {
		return deployerr.New(deployerr.AssemblyFailed, "release directory %s does not exist", releaseDir)
	}

	if a.ConfigSource != "" {
		if err := a.LinkConfig(releaseDir); err != nil {
			return err
		}
	}

	if a.BundlesStore != "" {
		if err := a.MergeBundles(releaseDir); err != nil {
			return err
		}
	}

	return nil
}

// LinkConfig points releaseDir/config.json at the configured source. The
// link is swapped in atomically, so retried assembly is safe.
func (a *Assembler) LinkConfig(releaseDir string) error {
	linkPath := filepath.Join(releaseDir, ConfigLinkName)

	a.Logger.Info("Linking config", "link", linkPath, "target", a.ConfigSource)
	if err := fileutil.PublishSymlink(linkPath, a.ConfigSource); err != nil {
		return deployerr.Wrap(deployerr.AssemblyFailed, err, "failed to link %s", ConfigLinkName)
	}
	return nil
}

type move struct {
	src, dst string
}

// MergeBundles moves every entry of releaseDir/bundles into the shared store
// and replaces the emptied directory with a relative symlink to the store.
//
// The whole move set is planned first; if any name is already in the store
// nothing is moved and BundleCollision is returned. If a rename fails part
// way through, the entries already moved are renamed back before failing.
func (a *Assembler) MergeBundles(releaseDir string) error {
	extracted := filepath.Join(releaseDir, BundlesDirName)

	if err := security.EnsureDir(a.BundlesStore, security.PermReleaseDir); err != nil {
		return deployerr.Wrap(deployerr.AssemblyFailed, err, "failed to prepare bundle store")
	}

	if fileutil.IsSymlink(extracted) {
		return deployerr.New(deployerr.AssemblyFailed, "%s is already a symlink; release was assembled before", extracted)
	}

	moves, err := a.planMoves(extracted)
	if err != nil {
		return err
	}

	if err := a.applyMoves(moves); err != nil {
		return err
	}

	if err := os.Remove(extracted); err != nil && !errors.Is(err, os.ErrNotExist) {
		return deployerr.Wrap(deployerr.AssemblyFailed, err, "failed to remove emptied bundles directory")
	}

	relPath, err := filepath.Rel(releaseDir, a.BundlesStore)
	if err != nil {
		return deployerr.Wrap(deployerr.AssemblyFailed, err, "failed to compute relative path to bundle store")
	}

	a.Logger.Info("Linking bundles", "link", extracted, "target", relPath)
	if err := os.Symlink(relPath, extracted); err != nil {
		return deployerr.Wrap(deployerr.AssemblyFailed, err, "failed to link bundles directory")
	}

	return nil
}

// planMoves maps every bundle entry to its store destination, failing on
// the first name the store already holds. A missing bundles directory
// plans nothing.
func (a *Assembler) planMoves(extracted string) ([]move, error) {
	entries, err := os.ReadDir(extracted)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, deployerr.Wrap(deployerr.AssemblyFailed, err, "failed to read bundles directory")
	}

	moves := make([]move, 0, len(entries))
	for _, entry := range entries {
		dst := filepath.Join(a.BundlesStore, entry.Name())
		if fileutil.Exists(dst) {
			return nil, deployerr.New(deployerr.BundleCollision,
				"Not deploying. The bundle includes '%s' which we have previously deployed.", entry.Name())
		}
		moves = append(moves, move{src: filepath.Join(extracted, entry.Name()), dst: dst})
	}

	sort.Slice(moves, func(i, j int) bool { return moves[i].src < moves[j].src })
	return moves, nil
}

func (a *Assembler) applyMoves(moves []move) error {
	for i, m := range moves {
		a.Logger.Debug("Moving bundle", "src", m.src, "dst", m.dst)
		if err := a.rename(m.src, m.dst); err != nil {
			restoreErr := a.undoMoves(moves[:i])
			if restoreErr != nil {
				a.Logger.Error("Failed to restore bundles after partial move", "error", restoreErr)
				return deployerr.Wrap(deployerr.AssemblyFailed, errors.Join(err, restoreErr),
					"failed to move bundle %s and could not restore earlier moves", filepath.Base(m.src))
			}
			return deployerr.Wrap(deployerr.AssemblyFailed, err, "failed to move bundle %s", filepath.Base(m.src))
		}
	}
	return nil
}

// undoMoves renames moved entries back, newest first, and reports every
// entry it could not restore.
func (a *Assembler) undoMoves(done []move) error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		if err := a.rename(done[i].dst, done[i].src); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", filepath.Base(done[i].src), err))
		}
	}
	return errors.Join(errs...)
}
