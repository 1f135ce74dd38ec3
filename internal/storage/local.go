package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"clipsafe/internal/config"
	"clipsafe/internal/fileutil"
	"clipsafe/internal/logging"
	"clipsafe/internal/services"
)

// Local stores artifacts as files under a root directory.
type Local struct {
	root       string
	publicBase string
	signer     *Signer
	ttl        time.Duration
	maxBytes   int64
	now        func() time.Time
	logger     *slog.Logger

	// mu serializes manifest read-modify-write cycles within the process.
	mu sync.Mutex
}

// NewLocal builds the local backend from cfg.Storage.
func NewLocal(cfg *config.Config, logger *slog.Logger) (*Local, error) {
	root := strings.TrimSpace(cfg.Storage.LocalRoot)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "new local", "storage.local_root is empty", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorageUnavailable, "storage", "new local", root, err)
	}
	return &Local{
		root:       root,
		publicBase: strings.TrimRight(strings.TrimSpace(cfg.Storage.PublicBaseURL), "/"),
		signer:     NewSigner(cfg.Storage.LinkSecret, cfg.Storage.LinkBaseURL),
		ttl:        cfg.ResultTTL(),
		maxBytes:   cfg.MaxFileBytes(),
		now:        time.Now,
		logger:     logging.NewComponentLogger(logger, "storage"),
	}, nil
}

// Root returns the storage root directory.
func (l *Local) Root() string {
	return l.root
}

// Ping verifies the storage root is still a writable directory.
func (l *Local) Ping(context.Context) error {
	probe, err := os.CreateTemp(l.root, ".tmp-ping-*")
	if err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "storage", "ping", l.root, err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// Signer returns the link signer, or nil when signed links are disabled.
func (l *Local) Signer() *Signer {
	return l.signer
}

func (l *Local) namespace(jobID string) string {
	return filepath.Join(l.root, jobID)
}

func (l *Local) path(loc Location) string {
	return filepath.Join(l.root, loc.JobID, loc.Name)
}

func (l *Local) Put(ctx context.Context, jobID, name string, r io.Reader) (Location, error) {
	loc, err := newLocation(jobID, name)
	if err != nil {
		return Location{}, err
	}
	if err := ctx.Err(); err != nil {
		return Location{}, services.Wrap(services.ErrTransient, "storage", "put", loc.Key(), err)
	}
	if _, err := fileutil.WriteAtomic(l.path(loc), r, 0o644, l.maxBytes); err != nil {
		if errors.Is(err, fileutil.ErrLimitExceeded) {
			return Location{}, services.Wrap(services.ErrInvalidParameters, "storage", "put", "file exceeds the size limit", err)
		}
		return Location{}, services.Wrap(services.ErrStorageUnavailable, "storage", "put", loc.Key(), err)
	}
	if err := l.updateManifest(loc.JobID, func(m *manifest) { m.add(loc.Name) }); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// PutFile moves srcPath into the namespace instead of copying it.
func (l *Local) PutFile(ctx context.Context, jobID, name, srcPath string) (Location, error) {
	loc, err := newLocation(jobID, name)
	if err != nil {
		return Location{}, err
	}
	if err := ctx.Err(); err != nil {
		return Location{}, services.Wrap(services.ErrTransient, "storage", "put file", loc.Key(), err)
	}
	if err := fileutil.MoveFile(srcPath, l.path(loc)); err != nil {
		return Location{}, services.Wrap(services.ErrStorageUnavailable, "storage", "put file", loc.Key(), err)
	}
	if err := l.updateManifest(loc.JobID, func(m *manifest) { m.add(loc.Name) }); err != nil {
		return Location{}, err
	}
	return loc, nil
}

func (l *Local) Open(_ context.Context, loc Location) (io.ReadCloser, error) {
	if err := validateJobID(loc.JobID); err != nil {
		return nil, err
	}
	if _, err := cleanName(loc.Name); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path(loc))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "storage", "open", loc.Key(), err)
		}
		return nil, services.Wrap(services.ErrStorageUnavailable, "storage", "open", loc.Key(), err)
	}
	return f, nil
}

func (l *Local) ResolvePublicURL(_ context.Context, loc Location) (string, error) {
	if l.publicBase != "" {
		return fmt.Sprintf("%s/%s/%s", l.publicBase, url.PathEscape(loc.JobID), url.PathEscape(loc.Name)), nil
	}
	if l.signer == nil {
		return "", nil
	}
	m, err := l.readManifest(loc.JobID)
	if err != nil {
		return "", err
	}
	link, err := l.signer.URL(loc, linkExpiry(m, l.now(), l.ttl))
	if err != nil {
		return "", services.Wrap(services.ErrStorageUnavailable, "storage", "resolve url", loc.Key(), err)
	}
	return link, nil
}

func (l *Local) Seal(_ context.Context, jobID string, expiresAt time.Time) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.readManifest(jobID)
	if err != nil {
		return err
	}
	if m == nil || m.sealed() {
		return nil
	}
	expiry := expiresAt.UTC()
	m.ExpiresAt = &expiry
	return l.writeManifest(jobID, m)
}

func (l *Local) Delete(_ context.Context, jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.RemoveAll(l.namespace(jobID)); err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "storage", "delete", jobID, err)
	}
	return nil
}

func (l *Local) Remove(_ context.Context, loc Location) error {
	if err := validateJobID(loc.JobID); err != nil {
		return err
	}
	if _, err := cleanName(loc.Name); err != nil {
		return err
	}
	if err := os.Remove(l.path(loc)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrStorageUnavailable, "storage", "remove", loc.Key(), err)
	}
	return l.updateManifest(loc.JobID, func(m *manifest) { m.remove(loc.Name) })
}

func (l *Local) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return 0, services.Wrap(services.ErrStorageUnavailable, "storage", "cleanup", l.root, err)
	}
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() || validateJobID(entry.Name()) != nil {
			continue
		}
		count, err := l.sweepNamespace(entry.Name(), now)
		if err != nil {
			logging.WarnWithContext(l.logger, "namespace sweep failed", "storage_sweep_failed",
				logging.String(logging.FieldJobID, entry.Name()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on the storage root"),
			)
			continue
		}
		removed += count
	}
	return removed, nil
}

func (l *Local) sweepNamespace(jobID string, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.readManifest(jobID)
	if err != nil {
		return 0, err
	}
	if !m.expired(now) {
		return 0, nil
	}
	dir := l.namespace(jobID)
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, f := range files {
		if f.Name() == ManifestName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, f.Name())); err != nil {
			return count, err
		}
		if !strings.HasPrefix(f.Name(), ".tmp-") {
			count++
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return count, err
	}
	l.logger.Debug("namespace expired",
		logging.String(logging.FieldJobID, jobID),
		logging.Int("artifacts", count),
	)
	return count, nil
}

// readManifest returns nil when the namespace has no manifest.
func (l *Local) readManifest(jobID string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(l.namespace(jobID), ManifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrStorageUnavailable, "storage", "read manifest", jobID, err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, services.Wrap(services.ErrStorageUnavailable, "storage", "read manifest", jobID, err)
	}
	return m, nil
}

func (l *Local) writeManifest(jobID string, m *manifest) error {
	data, err := encodeManifest(m)
	if err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "storage", "write manifest", jobID, err)
	}
	target := filepath.Join(l.namespace(jobID), ManifestName)
	if _, err := fileutil.WriteAtomic(target, bytes.NewReader(data), 0o644, 0); err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "storage", "write manifest", jobID, err)
	}
	return nil
}

func (l *Local) updateManifest(jobID string, mutate func(*manifest)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.readManifest(jobID)
	if err != nil {
		return err
	}
	if m == nil {
		m = &manifest{JobID: jobID}
	}
	mutate(m)
	return l.writeManifest(jobID, m)
}
