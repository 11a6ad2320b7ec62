// Package content stores the bytes of streamed node content.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/drivera73/alfresco-bulk-import/internal/retry"
)

// ErrNotFound is returned by Reader for unknown content IDs
var ErrNotFound = errors.New("content not found")

// Store keeps immutable blobs addressed by ID
type Store interface {
	Writer(ctx context.Context, id string) (io.WriteCloser, error)
	Reader(ctx context.Context, id string) (io.ReadCloser, error)
}

// Options selects and configures a store
type Options struct {
	Type    string // filesystem or s3
	Path    string
	Bucket  string
	Prefix  string
	Region  string
	Profile string
	Retry   retry.Policy
}

// Open creates the store described by opts
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Type) {
	case "", "filesystem", "fs":
		return NewFSStore(opts.Path)
	case "s3":
		if opts.Bucket == "" {
			return nil, fmt.Errorf("s3 content store requires a bucket")
		}
		var cfgOpts []func(*config.LoadOptions) error
		if opts.Region != "" {
			cfgOpts = append(cfgOpts, config.WithRegion(opts.Region))
		}
		if opts.Profile != "" {
			cfgOpts = append(cfgOpts, config.WithSharedConfigProfile(opts.Profile))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return NewS3Store(s3.NewFromConfig(awsCfg), opts.Bucket, opts.Prefix, opts.Retry), nil
	default:
		return nil, fmt.Errorf("unknown content store type %q", opts.Type)
	}
}

// ParseS3URI parses an s3://bucket/prefix URI
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("invalid S3 URI: must start with s3://")
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "s3://"), "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URI: missing bucket name")
	}

	bucket = parts[0]
	if len(parts) > 1 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}
