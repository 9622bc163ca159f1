package artifact

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"redeploy/internal/deployerr"
	"redeploy/internal/security"
)

// ChunkSize is the copy buffer used while streaming an artifact to disk
const ChunkSize = 32 * 1024

// Fetcher streams remote artifacts into a staging directory.
type Fetcher struct {
	dir     string
	client  *http.Client
	timeout time.Duration
}

// NewFetcher creates a fetcher writing into dir.
//
// timeout bounds connecting, waiting for response headers and any single
// stall while reading the body. It does not bound the total transfer time,
// so large artifacts on slow links still complete.
func NewFetcher(dir string, timeout time.Duration) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = timeout
		transport.ResponseHeaderTimeout = timeout
	}
	return &Fetcher{
		dir:     dir,
		client:  &http.Client{Transport: transport},
		timeout: timeout,
	}
}

// LocalName returns the file name an artifact URL is stored under: the
// URL's final path segment.
func LocalName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid artifact URL: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("artifact URL has no file name: %s", rawURL)
	}
	return name, nil
}

// Fetch downloads url into the staging directory and returns the local path.
// The caller owns the file. A partially written file is removed on error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	name, err := LocalName(rawURL)
	if err != nil {
		return "", deployerr.Wrap(deployerr.DownloadFailed, err, "cannot download %s", rawURL)
	}
	localPath, err := security.SafeJoin(f.dir, name)
	if err != nil {
		return "", deployerr.Wrap(deployerr.DownloadFailed, err, "cannot download %s", rawURL)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", deployerr.Wrap(deployerr.DownloadFailed, err, "invalid download request for %s", rawURL)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", deployerr.Wrap(deployerr.DownloadFailed, err, "failed to download %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", deployerr.New(deployerr.DownloadFailed, "failed to download %s: %s", rawURL, resp.Status)
	}

	out, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, security.PermDownload)
	if err != nil {
		return "", deployerr.Wrap(deployerr.DownloadFailed, err, "failed to create %s", localPath)
	}

	var body io.Reader = resp.Body
	if f.timeout > 0 {
		stall := newStallReader(resp.Body, f.timeout, cancel)
		defer stall.stop()
		body = stall
	}

	_, copyErr := copyChunks(out, body)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(localPath)
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", deployerr.Wrap(deployerr.DownloadFailed, copyErr, "failed to write %s", filepath.Base(localPath))
	}

	return localPath, nil
}

// copyChunks copies src to dst in ChunkSize reads. Both sides are narrowed
// to plain Reader and Writer so neither ReadFrom nor WriteTo bypasses the
// buffer.
func copyChunks(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	return io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf)
}

// stallReader cancels the request when no bytes arrive for the given period.
type stallReader struct {
	r       io.Reader
	timer   *time.Timer
	period  time.Duration
	stalled atomic.Bool
}

func newStallReader(r io.Reader, period time.Duration, cancel context.CancelFunc) *stallReader {
	s := &stallReader{r: r, period: period}
	s.timer = time.AfterFunc(period, func() {
		s.stalled.Store(true)
		cancel()
	})
	return s
}

// stop disarms the timer; the reader may not have seen EOF or an error
func (s *stallReader) stop() {
	s.timer.Stop()
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.timer.Reset(s.period)
	}
	if err != nil {
		s.timer.Stop()
		if s.stalled.Load() {
			return n, fmt.Errorf("no data received for %s: %w", s.period, err)
		}
	}
	return n, err
}
