// Package fetch retrieves the remote dataset archive into local staging storage.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout is the default request timeout.
const DefaultTimeout = 60 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "customer-etl/1.0"

// ChunkSize is the size of each read/write while streaming an archive to disk.
const ChunkSize = 8192

// Source opens a stream over the remote archive.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// Options configures the fetcher.
type Options struct {
	StagingDir string
	Logger     zerolog.Logger
}

// Fetcher downloads the archive of a run to <StagingDir>/<run_id>.zip.
type Fetcher struct {
	source     Source
	stagingDir string
	logger     zerolog.Logger
}

// New creates a Fetcher reading from source.
func New(source Source, opts Options) *Fetcher {
	return &Fetcher{
		source:     source,
		stagingDir: opts.StagingDir,
		logger:     opts.Logger,
	}
}

// CheckRunID reports an error when runID cannot name a file directly inside
// the staging directory.
func CheckRunID(runID string) error {
	switch {
	case runID == "", runID == ".", runID == "..":
		return fmt.Errorf("invalid run id %q", runID)
	case strings.ContainsAny(runID, `/\`), filepath.Base(runID) != runID:
		return fmt.Errorf("invalid run id %q: must not contain path separators", runID)
	}
	return nil
}

// TargetPath returns the local path the archive of runID is written to.
func (f *Fetcher) TargetPath(runID string) string {
	return filepath.Join(f.stagingDir, runID+".zip")
}

// Download streams the archive to the run's target path and returns it. If
// the target already exists it is returned as is: a file left behind by an
// interrupted download is not detected.
func (f *Fetcher) Download(ctx context.Context, runID string) (string, error) {
	if err := CheckRunID(runID); err != nil {
		return "", err
	}
	target := f.TargetPath(runID)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	if _, err := os.Stat(target); err == nil {
		f.logger.Info().Str("run_id", runID).Str("path", target).Msg("Archive already staged, skipping download")
		return target, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat %s: %w", target, err)
	}

	start := time.Now()
	body, err := f.source.Open(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = body.Close()
	}()

	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}

	written, err := copyChunks(out, body, f.source.String())
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close %s: %w", target, closeErr)
	}
	if err != nil {
		return "", err
	}

	f.logger.Info().
		Str("run_id", runID).
		Str("path", target).
		Int64("bytes", written).
		Dur("duration", time.Since(start)).
		Msg("Archive downloaded")
	return target, nil
}

// copyChunks copies src to dst in ChunkSize pieces. Read failures are
// transport errors; write failures are local I/O errors.
func copyChunks(dst io.Writer, src io.Reader, source string) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("failed to write archive chunk: %w", err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, &TransportError{Source: source, Message: "stream interrupted", Cause: readErr}
		}
	}
}

// HTTPSource streams the archive with an HTTP GET.
type HTTPSource struct {
	URL       string
	Client    *http.Client
	UserAgent string
}

// NewHTTPSource creates an HTTPSource whose client enforces timeout over the
// whole request, body included.
func NewHTTPSource(rawURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSource{
		URL:       rawURL,
		Client:    &http.Client{Timeout: timeout},
		UserAgent: DefaultUserAgent,
	}
}

func (s *HTTPSource) String() string {
	return s.URL
}

// Open issues the GET request and returns the response body.
func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	parsedURL, err := url.Parse(s.URL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, &TransportError{Source: s.URL, Message: "invalid URL", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, &TransportError{Source: s.URL, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &TransportError{Source: s.URL, Message: "request failed", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, &TransportError{
			Source:     s.URL,
			Message:    fmt.Sprintf("HTTP %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}
	return resp.Body, nil
}
