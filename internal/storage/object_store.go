package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	DownloadDir(ctx context.Context, bucket, prefix, dest string, overwrite bool) error

	UploadDir(ctx context.Context, bucket, prefix, src string) error
}

// Location is a bucket and key prefix inside an object store.
type Location struct {
	Bucket string
	Prefix string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Prefix
}

func IsS3URI(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// ParseURI splits an s3://bucket/prefix uri.
func ParseURI(uri string) (Location, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("invalid object store uri '%s': %w", uri, err)
	}
	if parsed.Scheme != "s3" {
		return Location{}, fmt.Errorf("unsupported object store scheme '%s' in '%s'", parsed.Scheme, uri)
	}
	if parsed.Host == "" {
		return Location{}, fmt.Errorf("object store uri '%s' has no bucket", uri)
	}
	return Location{Bucket: parsed.Host, Prefix: strings.Trim(parsed.Path, "/")}, nil
}
