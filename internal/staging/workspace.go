package staging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"clipsafe/internal/logging"
	"clipsafe/internal/services"
	"clipsafe/internal/textutil"
)

// Manager creates workspaces under a single root.
type Manager struct {
	root    string
	minFree uint64
	logger  *slog.Logger
}

// NewManager returns a manager rooted at root. minFreeMB is the free space a
// workspace filesystem must keep after a job's input is accounted for.
func NewManager(root string, minFreeMB int, logger *slog.Logger) *Manager {
	free := uint64(0)
	if minFreeMB > 0 {
		free = uint64(minFreeMB) * 1024 * 1024
	}
	return &Manager{
		root:    strings.TrimSpace(root),
		minFree: free,
		logger:  logging.NewComponentLogger(logger, "staging"),
	}
}

// Root returns the workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Workspace is one job's scratch directory.
type Workspace struct {
	JobID string
	Dir   string
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Create makes an empty workspace for jobID, clearing any leftovers from a
// previous attempt.
func (m *Manager) Create(jobID string) (*Workspace, error) {
	if m.root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "staging", "create", "paths.temp_dir is empty", nil)
	}
	name := textutil.SanitizeToken(jobID)
	if name != jobID {
		return nil, services.Wrap(services.ErrInvalidParameters, "staging", "create",
			fmt.Sprintf("invalid job id %q", jobID), nil)
	}
	dir := filepath.Join(m.root, name)
	if err := os.RemoveAll(dir); err != nil {
		return nil, services.Wrap(services.ErrStorageUnavailable, "staging", "create", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorageUnavailable, "staging", "create", dir, err)
	}
	return &Workspace{JobID: jobID, Dir: dir}, nil
}

// Remove deletes the workspace. Failures are logged, not returned.
func (m *Manager) Remove(w *Workspace) {
	if w == nil || w.Dir == "" {
		return
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		logging.WarnWithContext(m.logger, "failed to remove workspace", "staging_cleanup_failed",
			logging.String("path", w.Dir),
			logging.String(logging.FieldJobID, w.JobID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check temp_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed until the next sweep"),
		)
	}
}

// FreeBytes reports the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// EnsureFree fails with ErrStorageUnavailable when writing need more bytes
// into w would leave less than the configured minimum free.
func (m *Manager) EnsureFree(w *Workspace, need int64) error {
	free, err := FreeBytes(w.Dir)
	if err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "staging", "statfs", w.Dir, err)
	}
	required := m.minFree
	if need > 0 {
		required += uint64(need)
	}
	if free < required {
		return services.Wrap(services.ErrStorageUnavailable, "staging", "free space",
			fmt.Sprintf("%d MB free, %d MB required", free/(1024*1024), required/(1024*1024)), nil)
	}
	return nil
}
