// Package workspace bootstraps the per-job directory tree on the shared
// bus:
//
//	<root>/jobs/<job_id>/stage
//	<root>/jobs/<job_id>/artifacts
//	<root>/jobs/<job_id>/evidence
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrInvalidJobID is returned for a job id that is not a single path
// element below the jobs directory.
var ErrInvalidJobID = errors.New("workspace: invalid job id")

// Subdirectories created for every job.
var Subdirs = []string{"stage", "artifacts", "evidence"}

// Workspace lays out job directories under a bus root.
type Workspace struct {
	fs   afero.Fs
	root string
}

// New creates a Workspace on fs rooted at busRoot.
func New(fs afero.Fs, busRoot string) *Workspace {
	return &Workspace{fs: fs, root: busRoot}
}

// NewOS creates a Workspace on the local filesystem.
func NewOS(busRoot string) *Workspace {
	return New(afero.NewOsFs(), busRoot)
}

// JobRoot returns the directory of a job.
func (w *Workspace) JobRoot(jobID string) string {
	return filepath.Join(w.root, "jobs", jobID)
}

// Ensure creates the job directory and its subdirectories. Existing
// directories are left as they are.
func (w *Workspace) Ensure(jobID string) error {
	root := w.JobRoot(jobID)
	if jobID == "" || filepath.Dir(root) != filepath.Join(w.root, "jobs") {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	for _, dir := range Subdirs {
		if err := w.fs.MkdirAll(filepath.Join(root, dir), os.ModePerm); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Join(root, dir), err)
		}
	}
	return nil
}
