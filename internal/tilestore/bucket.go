package tilestore

import (
	"context"
	"fmt"
	"mime"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
)

// Bucket writes tiles as objects of a blob bucket.
type Bucket struct {
	bucket      *blob.Bucket
	ext         string
	contentType string
}

// OpenBucket opens a bucket URL such as file:///data/tiles, mem:// or
// gs://my-bucket. gs:// uses Application Default Credentials.
func OpenBucket(ctx context.Context, url, ext string) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("opening bucket %q: %w", url, err)
	}
	return NewBucket(b, ext), nil
}

// NewBucket wraps an already opened bucket. The Bucket takes ownership.
func NewBucket(b *blob.Bucket, ext string) *Bucket {
	return &Bucket{bucket: b, ext: ext, contentType: mime.TypeByExtension(ext)}
}

func (b *Bucket) WriteTile(source string, level, x, y int, data []byte) error {
	key := Key(source, level, x, y, b.ext)
	opts := &blob.WriterOptions{ContentType: b.contentType}
	if err := b.bucket.WriteAll(context.Background(), key, data, opts); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (b *Bucket) Close() error {
	return b.bucket.Close()
}
