// Package objstore adapts S3-shaped object storage to the narrow
// capabilities the sync engine needs: paginated listing, streamed
// downloads, and existence probes. Network failures surface as retryable
// errors; missing objects surface as ErrNotFound.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"
)

// ErrNotFound is returned by Get and reported as (nil, nil) by
// HeadIfExists when the object does not exist in the bucket.
var ErrNotFound = errors.New("objstore: object not found")

// Object is one remote listing entry.
type Object struct {
	Key  string
	Size int64
	ETag string
}

// GetResult reports a completed download.
type GetResult struct {
	BytesWritten int64
	ETag         string
}

// HeadInfo reports object metadata from an existence probe.
type HeadInfo struct {
	ETag string
	Size int64
}

// ProgressFunc receives cumulative bytes written during a download.
type ProgressFunc func(bytesWritten int64)

// api is the S3 surface the adapter consumes. Tests substitute a fake.
type api interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Retry tuning for transient request failures. Streaming reads are not
// retried here; the sync engine owns per-file failure accounting.
const (
	retryBaseDelay   = 500 * time.Millisecond
	retryMaxAttempts = 4
)

// Client wraps an S3 client with retry and error classification.
type Client struct {
	s3     api
	logger *slog.Logger
}

// Options configures the AWS client construction.
type Options struct {
	// Region is the AWS region. Empty uses the default credential chain's
	// region resolution.
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (MinIO, R2). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible providers.
	UsePathStyle bool
}

// New builds a Client from the default AWS credential chain.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objstore: loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}

	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{s3: s3.NewFromConfig(awsCfg, s3Opts...), logger: logger}, nil
}

// NewWithAPI builds a Client around an existing S3 API implementation.
// Used by tests and by callers that construct the SDK client themselves.
func NewWithAPI(s3api api, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{s3: s3api, logger: logger}
}

// List walks all objects under bucket/prefix, paginating internally, and
// calls fn for each. A non-nil error from fn stops the walk.
func (c *Client) List(ctx context.Context, bucket, prefix string, fn func(Object) error) error {
	c.logger.Debug("listing objects",
		slog.String("bucket", bucket), slog.String("prefix", prefix))

	var token *string

	for {
		out, err := c.listPage(ctx, bucket, prefix, token)
		if err != nil {
			return fmt.Errorf("objstore: listing %s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}

			o := Object{Key: *obj.Key}

			if obj.Size != nil {
				o.Size = *obj.Size
			}

			if obj.ETag != nil {
				o.ETag = trimETag(*obj.ETag)
			}

			if err := fn(o); err != nil {
				return err
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}

		token = out.NextContinuationToken
	}
}

// listPage fetches one listing page with retry on transient failures.
func (c *Client) listPage(ctx context.Context, bucket, prefix string, token *string) (*s3.ListObjectsV2Output, error) {
	var out *s3.ListObjectsV2Output

	err := c.withRetry(ctx, "list page", func(ctx context.Context) error {
		var reqErr error

		out, reqErr = c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})

		return reqErr
	})

	return out, err
}

// Get streams the object body to w, reporting cumulative progress when
// onProgress is non-nil. The request itself is retried on transient
// failures; a failure mid-stream is returned as-is because the destination
// writer has already consumed bytes.
func (c *Client) Get(ctx context.Context, bucket, key string, w io.Writer, onProgress ProgressFunc) (GetResult, error) {
	var out *s3.GetObjectOutput

	err := c.withRetry(ctx, "get object", func(ctx context.Context) error {
		var reqErr error

		out, reqErr = c.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &bucket,
			Key:    &key,
		})

		return reqErr
	})
	if err != nil {
		if isNotFound(err) {
			return GetResult{}, fmt.Errorf("objstore: %s/%s: %w", bucket, key, ErrNotFound)
		}

		return GetResult{}, fmt.Errorf("objstore: getting %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	dst := w
	if onProgress != nil {
		dst = &progressWriter{w: w, fn: onProgress}
	}

	n, copyErr := io.Copy(dst, out.Body)
	if copyErr != nil {
		return GetResult{BytesWritten: n}, fmt.Errorf("objstore: streaming %s/%s: %w", bucket, key, copyErr)
	}

	result := GetResult{BytesWritten: n}
	if out.ETag != nil {
		result.ETag = trimETag(*out.ETag)
	}

	c.logger.Debug("object downloaded",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int64("bytes", n),
	)

	return result, nil
}

// HeadIfExists probes an object. Returns (nil, nil) when the object does
// not exist.
func (c *Client) HeadIfExists(ctx context.Context, bucket, key string) (*HeadInfo, error) {
	var out *s3.HeadObjectOutput

	err := c.withRetry(ctx, "head object", func(ctx context.Context) error {
		var reqErr error

		out, reqErr = c.s3.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &bucket,
			Key:    &key,
		})

		return reqErr
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil //nolint:nilnil // nil info means "not found"
		}

		return nil, fmt.Errorf("objstore: head %s/%s: %w", bucket, key, err)
	}

	info := &HeadInfo{}
	if out.ETag != nil {
		info.ETag = trimETag(*out.ETag)
	}

	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}

	return info, nil
}

// withRetry runs op under fibonacci backoff, retrying transient errors.
// Not-found and context cancellation fail immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(retryMaxAttempts, retry.NewFibonacci(retryBaseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if isNotFound(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		c.logger.Warn("transient object store error, retrying",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)

		return retry.RetryableError(err)
	})
}

// progressWriter reports cumulative bytes after each write.
type progressWriter struct {
	w       io.Writer
	fn      ProgressFunc
	written int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.written += int64(n)
	pw.fn(pw.written)

	return n, err
}

// trimETag strips the quotes S3 wraps around etag values.
func trimETag(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}

	return etag
}
