package storage

import (
	"context"
	"io"
)

type Object struct {
	Name string
	Size int64
}

// Provider is the object store holding uploaded time-series files and the
// artifacts produced by featurization, training, and prediction jobs.
type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectStream(bucket, key string) (io.Reader, error)

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	DeleteObjects(ctx context.Context, bucket, prefix string) error
}
