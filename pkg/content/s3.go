package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/drivera73/alfresco-bulk-import/internal/retry"
)

// S3API is the subset of *s3.Client used by S3Store
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps blobs as objects under bucket/prefix
type S3Store struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	policy   retry.Policy
}

// NewS3Store creates an S3-backed store. A zero policy uses the default.
func NewS3Store(client S3API, bucket, prefix string, policy retry.Policy) *S3Store {
	if policy.MaxRetries == 0 && policy.BaseDelay == 0 {
		policy = retry.DefaultPolicy()
	}
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		policy:   policy,
	}
}

func (s *S3Store) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return path.Join(s.prefix, id)
}

// Writer streams into an upload that completes on Close
func (s *S3Store) Writer(ctx context.Context, id string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(id)),
			Body:   pr,
		})
		pr.CloseWithError(err)
		done <- err
	}()
	return &s3Writer{pw: pw, done: done}, nil
}

type s3Writer struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3Writer) Close() error {
	w.pw.Close()
	if err := <-w.done; err != nil {
		return fmt.Errorf("upload content: %w", err)
	}
	return nil
}

// Abort fails the pending upload so no object is created
func (w *s3Writer) Abort(cause error) error {
	w.pw.CloseWithError(cause)
	<-w.done
	return nil
}

// Reader fetches an object, retrying transient failures
func (s *S3Store) Reader(ctx context.Context, id string) (io.ReadCloser, error) {
	var out *s3.GetObjectOutput
	err := retry.Do(ctx, s.policy, isRetryable, func(int) error {
		var err error
		out, err = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(id)),
		})
		return err
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get content %s: %w", id, err)
	}
	return out.Body, nil
}

func isRetryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "RequestTimeoutException":
			return true
		}
		// 5xx
		if httpErr, ok := apiErr.(interface{ HTTPStatusCode() int }); ok {
			code := httpErr.HTTPStatusCode()
			return code >= 500 && code < 600
		}
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}
