// Package source validates remote media links and downloads them.
//
// A link must be http or https, must not point at a restricted platform,
// must match the allowed-domain list when one is configured, and must not
// resolve to a private, loopback or link-local address. The address check
// runs again at dial time so a DNS answer that changes between validation
// and download cannot reach an internal host.
//
// Probe reads size and type with HEAD, falling back to a one-byte ranged
// GET when HEAD is refused. An HTML answer is treated as a landing page and
// searched for an og:video or <video>/<source> link, following at most one
// such hop. Download streams the body to disk with a byte cap and retries
// transient failures with exponential backoff.
package source
