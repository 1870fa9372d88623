package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// SourceOptions carries the settings needed to build any Source.
type SourceOptions struct {
	Timeout     time.Duration
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
}

// NewSource picks a Source for rawURL by scheme: s3://bucket/key reads from an
// S3-compatible object store, anything else is fetched over HTTP.
func NewSource(rawURL string, opts SourceOptions) (Source, error) {
	if !strings.HasPrefix(rawURL, "s3://") {
		return NewHTTPSource(rawURL, opts.Timeout), nil
	}

	bucket, key, err := ParseObjectURL(rawURL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(opts.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.S3AccessKey, opts.S3SecretKey, ""),
		Secure: opts.S3UseSSL,
		Region: opts.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &ObjectSource{Client: client, Bucket: bucket, Key: key, Timeout: opts.Timeout}, nil
}

// ParseObjectURL splits s3://bucket/key into its bucket and key.
func ParseObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", &TransportError{Source: rawURL, Message: "invalid object URL", Cause: err}
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || bucket == "" || key == "" {
		return "", "", &TransportError{Source: rawURL, Message: "object URL must look like s3://bucket/key"}
	}
	return bucket, key, nil
}

// ObjectSource streams the archive from an S3-compatible object store.
type ObjectSource struct {
	Client  *minio.Client
	Bucket  string
	Key     string
	Timeout time.Duration
}

func (s *ObjectSource) String() string {
	return "s3://" + s.Bucket + "/" + s.Key
}

// Open starts a GetObject stream. The timeout bounds the whole transfer.
func (s *ObjectSource) Open(ctx context.Context) (io.ReadCloser, error) {
	cancel := context.CancelFunc(func() {})
	if s.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
	}

	obj, err := s.Client.GetObject(ctx, s.Bucket, s.Key, minio.GetObjectOptions{})
	if err != nil {
		cancel()
		return nil, &TransportError{Source: s.String(), Message: "get object failed", Cause: err}
	}
	// GetObject is lazy; Stat surfaces missing objects and auth errors before
	// the staging file is created.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		cancel()
		resp := minio.ToErrorResponse(err)
		return nil, &TransportError{
			Source:     s.String(),
			Message:    "stat object failed",
			StatusCode: resp.StatusCode,
			Cause:      err,
		}
	}
	return &cancelOnClose{ReadCloser: obj, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
