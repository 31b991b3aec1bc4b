package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

const minioErrObjectNotExist = "The specified key does not exist."

// S3 is an Endpoint backed by an S3-compatible object store via minio-go.
// It is the production remote backend: output prefixes live under a bucket
// and all build/merge traffic is full-object GET/PUT.
type S3 struct {
	mc     *minio.Client
	bucket string
}

// NewS3 wraps an already-configured minio client for bucket.
func NewS3(mc *minio.Client, bucket string) *S3 {
	return &S3{mc: mc, bucket: bucket}
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, IoError{Op: "get", Key: key, Err: err}
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, IoError{Op: "get", Key: key, Err: err}
	}
	return data, nil
}

func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return IoError{Op: "put", Key: key, Err: err}
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.mc.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, IoError{Op: "exists", Key: key, Err: err}
	}
	return true, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for obj := range s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, IoError{Op: "list", Key: prefix, Err: obj.Err}
		}
		out = append(out, obj.Key)
	}
	return out, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.mc.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotExist(err) {
			return nil
		}
		return IoError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *S3) Copy(ctx context.Context, src, dst string) error {
	_, err := s.mc.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: s.bucket, Object: src},
	)
	if err != nil {
		return IoError{Op: "copy", Key: src, Err: err}
	}
	return nil
}

func (s *S3) String() string {
	return fmt.Sprintf("s3(%s)", s.bucket)
}

func isNotExist(err error) bool {
	return err.Error() == minioErrObjectNotExist
}
