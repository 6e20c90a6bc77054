package handoff

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/config"
)

// objects is the slice of the S3 API MinioStore needs.
type objects interface {
	put(ctx context.Context, key string, body []byte, meta map[string]string) error
	get(ctx context.Context, key string) ([]byte, error)
	remove(ctx context.Context, key string) error
}

// MinioStore keeps artifacts as gzipped JSON objects under a bucket prefix.
type MinioStore struct {
	objects objects
	bucket  string
	prefix  string
}

// NewMinioStore connects to an S3-compatible endpoint and creates the bucket
// if it does not exist.
func NewMinioStore(ctx context.Context, cfg config.MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, eris.New("handoff: minio endpoint and bucket are required")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "handoff: create minio client")
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "handoff: check bucket %s", cfg.Bucket)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, eris.Wrapf(err, "handoff: create bucket %s", cfg.Bucket)
		}
		zap.L().Info("handoff: bucket created", zap.String("bucket", cfg.Bucket))
	}

	return newMinioStore(&minioObjects{cli: cli, bucket: cfg.Bucket}, cfg.Bucket, cfg.Prefix), nil
}

func newMinioStore(o objects, bucket, prefix string) *MinioStore {
	return &MinioStore{objects: o, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Backend implements Store.
func (s *MinioStore) Backend() string { return "minio" }

// Key returns the object key for an artifact name.
func (s *MinioStore) Key(name string) string {
	if s.prefix == "" {
		return name + ".gz"
	}
	return path.Join(s.prefix, name+".gz")
}

// Put implements Store.
func (s *MinioStore) Put(ctx context.Context, name string, data []byte) (err error) {
	defer func() { observe(s.Backend(), "put", err) }()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err = gz.Write(data); err != nil {
		return eris.Wrap(err, "handoff: gzip artifact")
	}
	if err = gz.Close(); err != nil {
		return eris.Wrap(err, "handoff: gzip artifact")
	}

	meta := map[string]string{"artifact": name}
	if err = s.objects.put(ctx, s.Key(name), buf.Bytes(), meta); err != nil {
		return eris.Wrapf(err, "handoff: put s3://%s/%s", s.bucket, s.Key(name))
	}
	return nil
}

// Get implements Store.
func (s *MinioStore) Get(ctx context.Context, name string) (data []byte, err error) {
	defer func() { observe(s.Backend(), "get", err) }()

	raw, err := s.objects.get(ctx, s.Key(name))
	if err != nil {
		if isNoSuchKey(err) {
			return nil, eris.Wrapf(ErrNotFound, "handoff: s3://%s/%s", s.bucket, s.Key(name))
		}
		return nil, eris.Wrapf(err, "handoff: get s3://%s/%s", s.bucket, s.Key(name))
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrapf(err, "handoff: gunzip %s", name)
	}
	defer gz.Close() //nolint:errcheck

	data, err = io.ReadAll(gz)
	if err != nil {
		return nil, eris.Wrapf(err, "handoff: gunzip %s", name)
	}
	return data, nil
}

// Delete implements Store.
func (s *MinioStore) Delete(ctx context.Context, name string) (err error) {
	defer func() { observe(s.Backend(), "delete", err) }()

	if err = s.objects.remove(ctx, s.Key(name)); err != nil && !isNoSuchKey(err) {
		return eris.Wrapf(err, "handoff: delete s3://%s/%s", s.bucket, s.Key(name))
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// minioObjects adapts *minio.Client to objects.
type minioObjects struct {
	cli    *minio.Client
	bucket string
}

func (m *minioObjects) put(ctx context.Context, key string, body []byte, meta map[string]string) error {
	_, err := m.cli.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/gzip",
		UserMetadata: meta,
	})
	return err
}

func (m *minioObjects) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.cli.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close() //nolint:errcheck
	return io.ReadAll(obj)
}

func (m *minioObjects) remove(ctx context.Context, key string) error {
	return m.cli.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}
