package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"clipsafe/internal/config"
	"clipsafe/internal/logging"
	"clipsafe/internal/services"
)

// MaxPresignTTL is the longest validity S3 accepts for a presigned URL.
const MaxPresignTTL = 7 * 24 * time.Hour

// s3API is the subset of *s3.Client the backend uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 stores artifacts as objects "<job_id>/<name>" in one bucket.
type S3 struct {
	client     s3API
	presign    presigner
	bucket     string
	publicBase string
	ttl        time.Duration
	maxBytes   int64
	now        func() time.Time
	logger     *slog.Logger

	mu sync.Mutex
}

// NewS3 builds a client with static credentials and an optional custom
// endpoint for MinIO-style deployments.
func NewS3(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*S3, error) {
	if strings.TrimSpace(cfg.S3.Bucket) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "new s3", "s3.bucket is empty", nil)
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3.Region)}
	if cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "load aws config", "", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.S3.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	})
	var signer presigner
	if cfg.S3.Presign {
		signer = s3.NewPresignClient(client)
	}
	return newS3(client, signer, cfg, logger), nil
}

func newS3(client s3API, signer presigner, cfg *config.Config, logger *slog.Logger) *S3 {
	return &S3{
		client:     client,
		presign:    signer,
		bucket:     cfg.S3.Bucket,
		publicBase: strings.TrimRight(strings.TrimSpace(cfg.S3.PublicBase), "/"),
		ttl:        cfg.ResultTTL(),
		maxBytes:   cfg.MaxFileBytes(),
		now:        time.Now,
		logger:     logging.NewComponentLogger(logger, "storage"),
	}
}

// Ping verifies the bucket is reachable with the configured credentials.
func (b *S3) Ping(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "storage", "ping", b.bucket, err)
	}
	return nil
}

func (b *S3) Put(ctx context.Context, jobID, name string, r io.Reader) (Location, error) {
	loc, err := newLocation(jobID, name)
	if err != nil {
		return Location{}, err
	}
	body, size, cleanup, err := b.seekable(r)
	if err != nil {
		return Location{}, err
	}
	defer cleanup()
	if err := b.putObject(ctx, loc.Key(), body, size); err != nil {
		return Location{}, err
	}
	if err := b.updateManifest(ctx, loc.JobID, func(m *manifest) { m.add(loc.Name) }); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// PutFile uploads srcPath with a known length and removes it afterwards.
func (b *S3) PutFile(ctx context.Context, jobID, name, srcPath string) (Location, error) {
	loc, err := newLocation(jobID, name)
	if err != nil {
		return Location{}, err
	}
	f, err := os.Open(srcPath)
	if err != nil {
		return Location{}, services.Wrap(services.ErrStorageUnavailable, "storage", "put file", srcPath, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Location{}, services.Wrap(services.ErrStorageUnavailable, "storage", "put file", srcPath, err)
	}
	err = b.putObject(ctx, loc.Key(), f, info.Size())
	_ = f.Close()
	if err != nil {
		return Location{}, err
	}
	if err := b.updateManifest(ctx, loc.JobID, func(m *manifest) { m.add(loc.Name) }); err != nil {
		return Location{}, err
	}
	_ = os.Remove(srcPath)
	return loc, nil
}

func (b *S3) putObject(ctx context.Context, key string, body io.ReadSeeker, size int64) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "storage", "put object", key, err)
	}
	return nil
}

// seekable returns r as a ReadSeeker with a known length, spooling it to a
// temp file when it is a plain stream.
func (b *S3) seekable(r io.Reader) (io.ReadSeeker, int64, func(), error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		size, err := rs.Seek(0, io.SeekEnd)
		if err == nil {
			if _, err = rs.Seek(0, io.SeekStart); err == nil {
				if b.maxBytes > 0 && size > b.maxBytes {
					return nil, 0, nil, services.Wrap(services.ErrInvalidParameters, "storage", "put", "file exceeds the size limit", nil)
				}
				return rs, size, func() {}, nil
			}
		}
	}
	tmp, err := os.CreateTemp("", "clipsafe-s3-*")
	if err != nil {
		return nil, 0, nil, services.Wrap(services.ErrStorageUnavailable, "storage", "spool upload", "", err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	src := r
	if b.maxBytes > 0 {
		src = io.LimitReader(r, b.maxBytes+1)
	}
	size, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return nil, 0, nil, services.Wrap(services.ErrStorageUnavailable, "storage", "spool upload", "", err)
	}
	if b.maxBytes > 0 && size > b.maxBytes {
		cleanup()
		return nil, 0, nil, services.Wrap(services.ErrInvalidParameters, "storage", "put", "file exceeds the size limit", nil)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, services.Wrap(services.ErrStorageUnavailable, "storage", "spool upload", "", err)
	}
	return tmp, size, cleanup, nil
}

func (b *S3) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	if err := validateJobID(loc.JobID); err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(loc.Key()),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, services.Wrap(services.ErrNotFound, "storage", "open", loc.Key(), err)
		}
		return nil, services.Wrap(services.ErrStorageUnavailable, "storage", "open", loc.Key(), err)
	}
	return out.Body, nil
}

func (b *S3) ResolvePublicURL(ctx context.Context, loc Location) (string, error) {
	if b.publicBase != "" {
		return b.publicBase + "/" + loc.Key(), nil
	}
	if b.presign == nil {
		return "", nil
	}
	m, _, err := b.readManifest(ctx, loc.JobID)
	if err != nil {
		return "", err
	}
	now := b.now()
	validity := linkExpiry(m, now, b.ttl).Sub(now)
	if validity <= 0 {
		return "", nil
	}
	if validity > MaxPresignTTL {
		validity = MaxPresignTTL
	}
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(loc.Key()),
	}, s3.WithPresignExpires(validity))
	if err != nil {
		return "", services.Wrap(services.ErrStorageUnavailable, "storage", "presign", loc.Key(), err)
	}
	return req.URL, nil
}

func (b *S3) Seal(ctx context.Context, jobID string, expiresAt time.Time) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	expiry := expiresAt.UTC()
	return b.modifyManifest(ctx, jobID, func(m *manifest) *manifest {
		if m == nil || m.sealed() {
			return nil
		}
		m.ExpiresAt = &expiry
		return m
	})
}

func (b *S3) Delete(ctx context.Context, jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.deletePrefix(ctx, jobID)
	return err
}

func (b *S3) Remove(ctx context.Context, loc Location) error {
	if err := validateJobID(loc.JobID); err != nil {
		return err
	}
	if err := b.deleteObject(ctx, loc.Key()); err != nil {
		return err
	}
	return b.updateManifest(ctx, loc.JobID, func(m *manifest) { m.remove(loc.Name) })
}

func (b *S3) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Delimiter: aws.String("/"),
	})
	var namespaces []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, services.Wrap(services.ErrStorageUnavailable, "storage", "cleanup", b.bucket, err)
		}
		for _, prefix := range page.CommonPrefixes {
			jobID := strings.TrimSuffix(aws.ToString(prefix.Prefix), "/")
			if validateJobID(jobID) == nil {
				namespaces = append(namespaces, jobID)
			}
		}
	}

	removed := 0
	for _, jobID := range namespaces {
		count, err := b.sweepNamespace(ctx, jobID, now)
		if err != nil {
			logging.WarnWithContext(b.logger, "namespace sweep failed", "storage_sweep_failed",
				logging.String(logging.FieldJobID, jobID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check bucket permissions and connectivity"),
			)
			continue
		}
		removed += count
	}
	return removed, nil
}

func (b *S3) sweepNamespace(ctx context.Context, jobID string, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, _, err := b.readManifest(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if !m.expired(now) {
		return 0, nil
	}
	return b.deletePrefix(ctx, jobID)
}

// deletePrefix removes every object in the namespace, the manifest last, and
// returns the number of artifacts removed.
func (b *S3) deletePrefix(ctx context.Context, jobID string) (int, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(jobID + "/"),
	})
	manifestKey := jobID + "/" + ManifestName
	count := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return count, services.Wrap(services.ErrStorageUnavailable, "storage", "list namespace", jobID, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == manifestKey {
				continue
			}
			if err := b.deleteObject(ctx, key); err != nil {
				return count, err
			}
			count++
		}
	}
	if err := b.deleteObject(ctx, manifestKey); err != nil {
		return count, err
	}
	return count, nil
}

func (b *S3) deleteObject(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return services.Wrap(services.ErrStorageUnavailable, "storage", "delete object", key, err)
	}
	return nil
}

// manifestWriteAttempts bounds the retries when another process rewrote the
// manifest between our read and our conditional put.
const manifestWriteAttempts = 5

// readManifest returns the namespace manifest and its ETag, or nil and an
// empty ETag when the namespace has none.
func (b *S3) readManifest(ctx context.Context, jobID string) (*manifest, string, error) {
	key := jobID + "/" + ManifestName
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", nil
		}
		return nil, "", services.Wrap(services.ErrStorageUnavailable, "storage", "read manifest", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", services.Wrap(services.ErrStorageUnavailable, "storage", "read manifest", key, err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, "", services.Wrap(services.ErrStorageUnavailable, "storage", "read manifest", key, err)
	}
	return m, aws.ToString(out.ETag), nil
}

// writeManifest replaces the manifest only if it still carries etag, or
// creates it only if it is absent when etag is empty.
func (b *S3) writeManifest(ctx context.Context, jobID string, m *manifest, etag string) error {
	data, err := encodeManifest(m)
	if err != nil {
		return services.Wrap(services.ErrStorageUnavailable, "storage", "write manifest", jobID, err)
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(jobID + "/" + ManifestName),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	}
	if etag == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(etag)
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return errManifestConflict
		}
		return services.Wrap(services.ErrStorageUnavailable, "storage", "write manifest", jobID, err)
	}
	return nil
}

var errManifestConflict = errors.New("manifest changed concurrently")

func (b *S3) updateManifest(ctx context.Context, jobID string, mutate func(*manifest)) error {
	return b.modifyManifest(ctx, jobID, func(m *manifest) *manifest {
		if m == nil {
			m = &manifest{JobID: jobID}
		}
		mutate(m)
		return m
	})
}

// modifyManifest runs a read-modify-write cycle on the manifest. The mutex
// orders writers in this process; the conditional put catches writers in
// other processes sharing the bucket, in which case the cycle is replayed
// on the fresh manifest. change gets nil when the namespace has no manifest
// and returns the manifest to store, or nil to leave it untouched.
func (b *S3) modifyManifest(ctx context.Context, jobID string, change func(*manifest) *manifest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for attempt := 1; ; attempt++ {
		m, etag, err := b.readManifest(ctx, jobID)
		if err != nil {
			return err
		}
		next := change(m)
		if next == nil {
			return nil
		}
		err = b.writeManifest(ctx, jobID, next, etag)
		if !errors.Is(err, errManifestConflict) {
			return err
		}
		if attempt >= manifestWriteAttempts {
			return services.Wrap(services.ErrStorageUnavailable, "storage", "write manifest", jobID,
				fmt.Errorf("%w after %d attempts", err, attempt))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

// isPreconditionFailed reports whether a conditional put lost to another
// writer. S3 answers 412 PreconditionFailed, or 409 ConditionalRequestConflict
// when two conditional writes race on the same key.
func isPreconditionFailed(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

func (b *S3) String() string {
	return fmt.Sprintf("s3://%s", b.bucket)
}
