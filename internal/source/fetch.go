package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"

	"clipsafe/internal/config"
	"clipsafe/internal/fileutil"
	"clipsafe/internal/logging"
	"clipsafe/internal/services"
	"clipsafe/internal/textutil"
)

const (
	maxLandingPageBytes = 2 << 20
	defaultAttempts     = 3
	defaultBackoff      = time.Second
)

// Info describes a remote file as seen by Probe.
type Info struct {
	URL          string
	Filename     string
	SizeBytes    int64
	MIME         string
	AcceptRanges bool
}

// Fetcher probes and downloads remote media.
type Fetcher struct {
	policy   Policy
	client   *http.Client
	resolver *net.Resolver
	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client. The private-address dial guard
// only applies to the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithBackoff sets the base delay between download attempts.
func WithBackoff(base time.Duration) Option {
	return func(f *Fetcher) { f.backoff = base }
}

// NewFetcher builds a fetcher enforcing policy.
func NewFetcher(policy Policy, attempts int, logger *slog.Logger, opts ...Option) *Fetcher {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	f := &Fetcher{
		policy:   policy,
		resolver: net.DefaultResolver,
		attempts: attempts,
		backoff:  defaultBackoff,
		sleep:    sleepContext,
		logger:   logging.NewComponentLogger(logger, "source"),
	}
	f.client = f.defaultClient()
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewFetcherFromConfig applies cfg.Limits and cfg.Worker.DownloadAttempts.
func NewFetcherFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) *Fetcher {
	return NewFetcher(PolicyFromConfig(cfg), cfg.Worker.DownloadAttempts, logger, opts...)
}

// PolicyFromConfig derives the link policy from cfg.Limits.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		AllowedDomains:    cfg.Limits.AllowedDomains,
		RestrictedDomains: cfg.Limits.RestrictedDomains,
		MaxBytes:          cfg.MaxFileBytes(),
	}
}

func (f *Fetcher) defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   f.dialControl,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			_, err := f.policy.Validate(req.URL.String())
			return err
		},
	}
}

// dialControl refuses connections to non-public addresses after DNS has
// been resolved.
func (f *Fetcher) dialControl(_, address string, _ syscall.RawConn) error {
	if f.policy.AllowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	return f.policy.CheckHost(context.Background(), nil, host)
}

// Validate applies the policy and the private address check to raw.
func (f *Fetcher) Validate(ctx context.Context, raw string) (*url.URL, error) {
	u, err := f.policy.Validate(raw)
	if err != nil {
		return nil, err
	}
	if err := f.policy.CheckHost(ctx, f.resolver, u.Hostname()); err != nil {
		return nil, err
	}
	return u, nil
}

// Probe validates raw and reads the remote size and type. Landing pages are
// resolved to the media they embed, one hop at most.
func (f *Fetcher) Probe(ctx context.Context, raw string) (Info, error) {
	u, err := f.Validate(ctx, raw)
	if err != nil {
		return Info{}, err
	}
	info, err := f.head(ctx, u)
	if err != nil {
		return Info{}, err
	}
	if isHTML(info.MIME) {
		media, err := f.resolveLandingPage(ctx, u)
		if err != nil {
			return Info{}, err
		}
		mu, err := f.Validate(ctx, media)
		if err != nil {
			return Info{}, err
		}
		info, err = f.head(ctx, mu)
		if err != nil {
			return Info{}, err
		}
		if isHTML(info.MIME) {
			return Info{}, invalid("probe", "no downloadable media was found at this link", nil)
		}
	}
	if f.policy.MaxBytes > 0 && info.SizeBytes > f.policy.MaxBytes {
		return Info{}, sizeError(info.SizeBytes, f.policy.MaxBytes)
	}
	return info, nil
}

func (f *Fetcher) head(ctx context.Context, u *url.URL) (Info, error) {
	resp, err := f.do(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return Info{}, err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = f.do(ctx, http.MethodGet, u.String(), http.Header{"Range": []string{"bytes=0-0"}})
		if err != nil {
			return Info{}, err
		}
		resp.Body.Close()
	}
	if resp.StatusCode >= 400 {
		return Info{}, invalid("probe", fmt.Sprintf("the remote server answered %d", resp.StatusCode), nil)
	}
	final := resp.Request.URL
	info := Info{
		URL:          final.String(),
		MIME:         mediaType(resp.Header.Get("Content-Type")),
		AcceptRanges: strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes"),
		SizeBytes:    responseSize(resp),
	}
	info.Filename = filenameFor(resp.Header.Get("Content-Disposition"), final, info.MIME)
	return info, nil
}

func (f *Fetcher) resolveLandingPage(ctx context.Context, u *url.URL) (string, error) {
	resp, err := f.do(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", invalid("landing page", fmt.Sprintf("the remote server answered %d", resp.StatusCode), nil)
	}
	page, err := io.ReadAll(io.LimitReader(resp.Body, maxLandingPageBytes))
	if err != nil {
		return "", services.Wrap(services.ErrToolExecutionFailed, "source", "landing page", "read failed", err)
	}
	media, ok := FindMediaURL(page, resp.Request.URL)
	if !ok {
		return "", invalid("landing page", "no downloadable media was found at this link", nil)
	}
	f.logger.Debug("resolved landing page",
		logging.String("page", u.Redacted()),
		logging.String("media", media),
	)
	return media, nil
}

// FindMediaURL searches an HTML document for the media it presents:
// og:video metadata first, then <video src>, then <video><source src>.
// Relative links resolve against base.
func FindMediaURL(page []byte, base *url.URL) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", false
	}
	var candidates []string
	for _, prop := range []string{"og:video:secure_url", "og:video:url", "og:video"} {
		doc.Find(fmt.Sprintf(`meta[property=%q]`, prop)).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr("content"); ok {
				candidates = append(candidates, v)
			}
		})
	}
	doc.Find("video[src]").Each(func(_ int, s *goquery.Selection) {
		candidates = append(candidates, s.AttrOr("src", ""))
	})
	doc.Find("video source[src]").Each(func(_ int, s *goquery.Selection) {
		candidates = append(candidates, s.AttrOr("src", ""))
	})
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || strings.HasPrefix(c, "blob:") || strings.HasPrefix(c, "data:") {
			continue
		}
		ref, err := url.Parse(c)
		if err != nil {
			continue
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if ref.Scheme == "http" || ref.Scheme == "https" {
			return ref.String(), true
		}
	}
	return "", false
}

// Download streams raw into dst, retrying network failures and 5xx answers
// with exponential backoff. It returns the number of bytes written.
func (f *Fetcher) Download(ctx context.Context, raw, dst string) (int64, error) {
	u, err := f.Validate(ctx, raw)
	if err != nil {
		return 0, err
	}
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		written, err := f.downloadOnce(ctx, u, dst)
		if err == nil {
			return written, nil
		}
		lastErr = err
		if !retryable(err) || attempt == f.attempts {
			break
		}
		delay := f.backoff << (attempt - 1)
		f.logger.Info("download attempt failed; retrying",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return 0, services.Wrap(services.ErrTransient, "source", "download", "cancelled", err)
		}
	}
	return 0, lastErr
}

// errRetryable marks failures worth another attempt.
var errRetryable = errors.New("retryable")

func retryable(err error) bool {
	return errors.Is(err, errRetryable)
}

func (f *Fetcher) downloadOnce(ctx context.Context, u *url.URL, dst string) (int64, error) {
	resp, err := f.do(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500:
		return 0, services.Wrap(services.ErrToolExecutionFailed, "source", "download",
			fmt.Sprintf("remote server answered %d", resp.StatusCode), errRetryable)
	case resp.StatusCode >= 400:
		return 0, invalid("download", fmt.Sprintf("the remote server answered %d", resp.StatusCode), nil)
	}
	if size := responseSize(resp); f.policy.MaxBytes > 0 && size > f.policy.MaxBytes {
		return 0, sizeError(size, f.policy.MaxBytes)
	}
	written, err := fileutil.WriteAtomic(dst, resp.Body, 0o644, f.policy.MaxBytes)
	if err != nil {
		if errors.Is(err, fileutil.ErrLimitExceeded) {
			return written, sizeError(written, f.policy.MaxBytes)
		}
		if ctx.Err() != nil {
			return written, contextError("download", ctx.Err())
		}
		return written, services.Wrap(services.ErrToolExecutionFailed, "source", "download", "transfer interrupted",
			errors.Join(errRetryable, err))
	}
	return written, nil
}

func (f *Fetcher) do(ctx context.Context, method, target string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, invalid("request", "the link is not a valid URL", nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", "clipsafe/1.0")
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(strings.ToLower(method), ctx.Err())
		}
		if services.IsClassified(err) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrToolExecutionFailed, "source", strings.ToLower(method),
			"remote server unreachable", errors.Join(errRetryable, err))
	}
	return resp, nil
}

func contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "source", op, "deadline exceeded", err)
	}
	return services.Wrap(services.ErrTransient, "source", op, "cancelled", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isHTML(mimeType string) bool {
	return mimeType == "text/html" || mimeType == "application/xhtml+xml"
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}

// responseSize prefers the total from Content-Range, which a ranged GET
// reports, over Content-Length.
func responseSize(resp *http.Response) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if total, err := strconv.ParseInt(strings.TrimSpace(cr[idx+1:]), 10, 64); err == nil {
				return total
			}
		}
	}
	if resp.ContentLength > 0 {
		return resp.ContentLength
	}
	return 0
}

// filenameFor derives a storage name from Content-Disposition, then the URL
// path, then the media type.
func filenameFor(disposition string, u *url.URL, mimeType string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := textutil.SanitizeFileName(params["filename"]); name != "" {
				return name
			}
		}
	}
	if u != nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			if unescaped, err := url.PathUnescape(base); err == nil {
				base = unescaped
			}
			if name := textutil.SanitizeFileName(base); name != "" {
				return name
			}
		}
	}
	ext := ".bin"
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return "source" + ext
}
