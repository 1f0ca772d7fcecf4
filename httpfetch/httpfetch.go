// Package httpfetch implements C3: a content-addressed download cache with
// bounded retries, grounded on the teacher's remote.go fetch-metadata
// pattern and extended with github.com/theckman/go-flock for the same
// cross-process, per-URL coordination gitmirror uses.
package httpfetch

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/theckman/go-flock"

	"github.com/bringpkg/bring/bringerr"
	"github.com/bringpkg/bring/cachepath"
	"github.com/bringpkg/bring/log"
)

// DefaultRetries is the default number of attempts (spec §4.3: "default 3
// attempts").
const DefaultRetries = 3

// DefaultWait is the delay between retry attempts.
const DefaultWait = 1 * time.Second

// Fetcher downloads URLs into a content-addressed cache.
type Fetcher struct {
	roots   cachepath.Roots
	client  *http.Client
	retries int
	wait    time.Duration
	logger  *log.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient overrides the default http.Client (tests use this to point at
// an httptest.Server's client).
func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

// WithRetries overrides DefaultRetries.
func WithRetries(n int) Option { return func(f *Fetcher) { f.retries = n } }

// WithWait overrides DefaultWait.
func WithWait(d time.Duration) Option { return func(f *Fetcher) { f.wait = d } }

// WithLogger overrides the ambient logger.
func WithLogger(l *log.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// New returns a Fetcher rooted at roots.
func New(roots cachepath.Roots, opts ...Option) *Fetcher {
	f := &Fetcher{
		roots:   roots,
		client:  http.DefaultClient,
		retries: DefaultRetries,
		wait:    DefaultWait,
		logger:  log.Std,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Fetcher) cachedPath(url string) string {
	return filepath.Join(f.roots.Downloads(), cachepath.URLHash(url))
}

func (f *Fetcher) lockPath(url string) string {
	return f.cachedPath(url) + ".lock"
}

// Get returns the local path of url's cached body, downloading it first if
// it isn't already cached. A 404 is never retried (spec §4.3); other
// statuses and transport errors are retried up to f.retries times with
// f.wait between attempts.
func (f *Fetcher) Get(url string) (string, error) {
	cached := f.cachedPath(url)
	if fi, err := os.Stat(cached); err == nil && fi.Size() > 0 {
		return cached, nil
	}

	if err := cachepath.EnsureDir(f.roots.Downloads()); err != nil {
		return "", err
	}

	fl := flock.NewFlock(f.lockPath(url))
	if err := fl.Lock(); err != nil {
		return "", errors.Wrapf(err, "locking download cache for %s", url)
	}
	defer fl.Unlock()

	if fi, err := os.Stat(cached); err == nil && fi.Size() > 0 {
		return cached, nil
	}

	tmp := cachepath.TempSibling(cached)
	defer os.RemoveAll(tmp)

	var lastErr error
	var lastStatus int
	attempts := 0
	for attempt := 1; attempt <= f.retries; attempt++ {
		attempts = attempt
		status, err := f.attempt(url, tmp)
		if err == nil {
			if rerr := cachepath.AtomicRename(tmp, cached); rerr != nil {
				return "", rerr
			}
			return cached, nil
		}
		lastErr = err
		lastStatus = status
		if status == http.StatusNotFound {
			break
		}
		if attempt < f.retries {
			f.logger.Warnf("download %s: attempt %d failed (%v), retrying", url, attempt, err)
			time.Sleep(f.wait)
		}
	}

	return "", &bringerr.DownloadError{URL: url, Attempts: attempts, LastStatus: lastStatus, LastErr: lastErr}
}

func (f *Fetcher) attempt(url, dest string) (int, error) {
	resp, err := f.client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return resp.StatusCode, err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}
