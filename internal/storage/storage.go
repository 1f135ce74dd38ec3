package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"clipsafe/internal/config"
	"clipsafe/internal/services"
	"clipsafe/internal/textutil"
)

// ManifestName is the per-namespace bookkeeping object.
const ManifestName = ".manifest.json"

// Location addresses one artifact.
type Location struct {
	JobID string `json:"job_id"`
	Name  string `json:"name"`
}

// Key returns the namespaced object key "<job_id>/<name>".
func (l Location) Key() string {
	return path.Join(l.JobID, l.Name)
}

// Backend is implemented by the local and S3 stores.
type Backend interface {
	Put(ctx context.Context, jobID, name string, r io.Reader) (Location, error)
	Open(ctx context.Context, loc Location) (io.ReadCloser, error)
	// ResolvePublicURL returns "" when no public link can be produced.
	ResolvePublicURL(ctx context.Context, loc Location) (string, error)
	// Seal records the namespace expiry. A namespace is sealed once; later
	// calls keep the first expiry.
	Seal(ctx context.Context, jobID string, expiresAt time.Time) error
	Delete(ctx context.Context, jobID string) error
	Remove(ctx context.Context, loc Location) error
	// CleanupExpired deletes sealed namespaces whose expiry is at or before
	// now and returns the number of artifacts removed.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// FilePutter is implemented by backends that can ingest a finished file
// more cheaply than by streaming it.
type FilePutter interface {
	PutFile(ctx context.Context, jobID, name, srcPath string) (Location, error)
}

// PutFile stores the file at srcPath, using the backend fast path when there
// is one. The source file may be consumed.
func PutFile(ctx context.Context, backend Backend, jobID, name, srcPath string) (Location, error) {
	if fp, ok := backend.(FilePutter); ok {
		return fp.PutFile(ctx, jobID, name, srcPath)
	}
	f, err := os.Open(srcPath)
	if err != nil {
		return Location{}, services.Wrap(services.ErrStorageUnavailable, "storage", "open source file", srcPath, err)
	}
	defer f.Close()
	return backend.Put(ctx, jobID, name, f)
}

// New selects the backend configured in cfg.Storage.Backend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Storage.Backend {
	case "", config.StorageLocal:
		return NewLocal(cfg, logger)
	case config.StorageS3:
		return NewS3(ctx, cfg, logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "storage", "new",
			fmt.Sprintf("unsupported storage backend %q", cfg.Storage.Backend), nil)
	}
}

// manifest is the JSON document kept in every namespace.
type manifest struct {
	JobID     string     `json:"job_id"`
	Artifacts []string   `json:"artifacts"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (m *manifest) add(name string) {
	if !slices.Contains(m.Artifacts, name) {
		m.Artifacts = append(m.Artifacts, name)
	}
}

func (m *manifest) remove(name string) {
	m.Artifacts = slices.DeleteFunc(m.Artifacts, func(v string) bool { return v == name })
}

func (m *manifest) sealed() bool {
	return m != nil && m.ExpiresAt != nil
}

func (m *manifest) expired(now time.Time) bool {
	return m.sealed() && !m.ExpiresAt.After(now)
}

func decodeManifest(data []byte) (*manifest, error) {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

func encodeManifest(m *manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// validateJobID rejects ids that could escape or alias a namespace.
func validateJobID(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || jobID != textutil.SanitizeToken(jobID) {
		return services.Wrap(services.ErrInvalidParameters, "storage", "namespace",
			fmt.Sprintf("invalid job id %q", jobID), nil)
	}
	return nil
}

// cleanName sanitizes an artifact name and refuses the manifest name.
func cleanName(name string) (string, error) {
	if strings.TrimSpace(name) == ManifestName {
		return "", services.Wrap(services.ErrInvalidParameters, "storage", "name",
			"the manifest name is reserved", nil)
	}
	clean := textutil.SanitizeFileName(name)
	if clean == "" {
		return "", services.Wrap(services.ErrInvalidParameters, "storage", "name",
			fmt.Sprintf("invalid artifact name %q", name), nil)
	}
	return clean, nil
}

func newLocation(jobID, name string) (Location, error) {
	if err := validateJobID(jobID); err != nil {
		return Location{}, err
	}
	clean, err := cleanName(name)
	if err != nil {
		return Location{}, err
	}
	return Location{JobID: jobID, Name: clean}, nil
}

// linkExpiry returns the expiry to embed in a signed link: the sealed expiry
// when known, otherwise now plus the result TTL.
func linkExpiry(m *manifest, now time.Time, ttl time.Duration) time.Time {
	if m.sealed() {
		return *m.ExpiresAt
	}
	return now.Add(ttl)
}
