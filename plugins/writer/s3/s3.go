package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"luabundle/pkg/contract"
)

// Options: S3 兼容对象存储部署目标。
type Options struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	// Prefix: 对象键前缀（例如 "scripts/dev"）。
	Prefix string `json:"prefix,omitempty"`
	UseSSL bool   `json:"use_ssl,omitempty"`
	// CreateBucket: 首次写入前确保 bucket 存在。
	CreateBucket bool `json:"create_bucket,omitempty"`
	// ContentType: 缺省为 "text/x-lua"。
	ContentType string `json:"content_type,omitempty"`
}

// Store 将 bundle 上传为对象。
type Store struct {
	client      *minio.Client
	bucket      string
	region      string
	prefix      string
	contentType string
	create      bool

	initOnce sync.Once
	initErr  error
}

var _ contract.Writer = (*Store)(nil)

// New 校验选项并创建客户端（不发起网络请求）。
func New(opts *Options) (*Store, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: s3 options required", contract.ErrInvalidInput)
	}
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: s3 endpoint is required", contract.ErrInvalidInput)
	}
	access := strings.TrimSpace(opts.AccessKey)
	secret := strings.TrimSpace(opts.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("%w: s3 access key and secret key are required", contract.ErrInvalidInput)
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", contract.ErrInvalidInput)
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}
	ct := strings.TrimSpace(opts.ContentType)
	if ct == "" {
		ct = "text/x-lua"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &Store{
		client:      client,
		bucket:      bucket,
		region:      region,
		prefix:      strings.Trim(strings.TrimSpace(opts.Prefix), "/"),
		contentType: ct,
		create:      opts.CreateBucket,
	}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	if !s.create {
		return nil
	}
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Key 返回 id 对应的对象键。
func (s *Store) Key(id contract.ArtifactID) (string, error) {
	name := strings.TrimLeft(string(contract.NormalizeModuleID(string(id))), "/")
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, "../") {
		return "", contract.ErrPathInvalid
	}
	if s.prefix == "" {
		return name, nil
	}
	return path.Join(s.prefix, name), nil
}

// Write 读入全部字节后一次性上传（bundle 体量小，已知长度可避免分段上传）。
func (s *Store) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := s.Key(id)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: s.contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}
