package IO

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Store keeps checkpoint blobs by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileStore keeps blobs as files under Dir.
type FileStore struct {
	Dir string
}

func (s FileStore) Put(_ context.Context, key string, data []byte) error {
	p := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	// write then rename
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s FileStore) Get(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Dir, filepath.FromSlash(key)))
}

// S3Store keeps blobs in a bucket under Prefix.
type S3Store struct {
	svc    s3iface.S3API
	Bucket string
	Prefix string
}

func NewS3Store(svc s3iface.S3API, bucket, prefix string) *S3Store {
	return &S3Store{svc: svc, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}
}

// NewS3StoreFromEnv uses the default credential chain; region comes from
// AWS_REGION or the shared config.
func NewS3StoreFromEnv(bucket, prefix string) (*S3Store, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return NewS3Store(s3.New(sess), bucket, prefix), nil
}

func (s *S3Store) objectKey(key string) string {
	if s.Prefix == "" {
		return key
	}
	return path.Join(s.Prefix, key)
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put s3://%s/%s: %w", s.Bucket, s.objectKey(key), err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get s3://%s/%s: %w", s.Bucket, s.objectKey(key), err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// ParseLocation splits a checkpoint location into a bucket (empty for local
// paths), a prefix or directory, and the object key.
func ParseLocation(loc string) (bucket, dir, key string, err error) {
	if rest, ok := strings.CutPrefix(loc, "s3://"); ok {
		b, objectPath, _ := strings.Cut(rest, "/")
		if b == "" || objectPath == "" || strings.HasSuffix(objectPath, "/") {
			return "", "", "", fmt.Errorf("bad s3 location %q, want s3://bucket/key", loc)
		}
		return b, path.Dir(objectPath), path.Base(objectPath), nil
	}
	if loc == "" {
		return "", "", "", fmt.Errorf("empty checkpoint location")
	}
	return "", filepath.Dir(loc), filepath.Base(loc), nil
}

// OpenStore picks a FileStore or S3Store for loc and returns the key of the
// object within it.
func OpenStore(loc string) (Store, string, error) {
	bucket, dir, key, err := ParseLocation(loc)
	if err != nil {
		return nil, "", err
	}
	if bucket == "" {
		return FileStore{Dir: dir}, key, nil
	}
	if dir == "." {
		dir = ""
	}
	st, err := NewS3StoreFromEnv(bucket, dir)
	if err != nil {
		return nil, "", err
	}
	return st, key, nil
}
