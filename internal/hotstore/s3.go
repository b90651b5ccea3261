// internal/hotstore/s3.go
package hotstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// metadata key carrying the write time in unix nanoseconds; LastModified
// only has second precision
const writtenAtMeta = "tierbank-written-at"

// S3Config configures the object storage backend
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// s3API is the part of the S3 client the store uses
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 keeps blobs as objects under a key prefix
type S3 struct {
	client s3API
	bucket string
	prefix string
}

// NewS3 builds a client from the default AWS config chain, overridden by
// any static credentials, region or endpoint in cfg
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("hotstore: s3 bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3WithClient(client s3API, bucket, prefix string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// ObjectKey returns the object key used for key
func (s *S3) ObjectKey(key []string) string {
	parts := make([]string, 0, len(key)+1)
	if s.prefix != "" {
		parts = append(parts, s.prefix)
	}
	for _, seg := range key {
		parts = append(parts, url.PathEscape(seg))
	}
	return strings.Join(parts, "/") + fileExt
}

// Put uploads data
func (s *S3) Put(ctx context.Context, key []string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}

	objKey := s.ObjectKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			writtenAtMeta: strconv.FormatInt(time.Now().UnixNano(), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", s.bucket, objKey, err)
	}
	return nil
}

// Get downloads the blob of key
func (s *S3) Get(ctx context.Context, key []string) ([]byte, Info, error) {
	if err := validKey(key); err != nil {
		return nil, Info{}, err
	}

	objKey := s.ObjectKey(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isMissing(err) {
			return nil, Info{}, ErrNotExist
		}
		return nil, Info{}, fmt.Errorf("get object %s/%s: %w", s.bucket, objKey, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, Info{}, fmt.Errorf("read object %s/%s: %w", s.bucket, objKey, err)
	}

	return data, Info{
		Size:      int64(len(data)),
		WrittenAt: writtenAt(out.Metadata, out.LastModified),
	}, nil
}

// Stat returns size and write time of the blob of key
func (s *S3) Stat(ctx context.Context, key []string) (Info, error) {
	if err := validKey(key); err != nil {
		return Info{}, err
	}

	objKey := s.ObjectKey(key)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isMissing(err) {
			return Info{}, ErrNotExist
		}
		return Info{}, fmt.Errorf("head object %s/%s: %w", s.bucket, objKey, err)
	}

	return Info{
		Size:      aws.ToInt64(out.ContentLength),
		WrittenAt: writtenAt(out.Metadata, out.LastModified),
	}, nil
}

// Delete removes the blob of key
func (s *S3) Delete(ctx context.Context, key []string) error {
	if err := validKey(key); err != nil {
		return err
	}

	objKey := s.ObjectKey(key)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil && !isMissing(err) {
		return fmt.Errorf("delete object %s/%s: %w", s.bucket, objKey, err)
	}
	return nil
}

// Clear deletes every object under the prefix
func (s *S3) Clear(ctx context.Context) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	pages := s3.NewListObjectsV2Paginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects in %s: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			}); err != nil && !isMissing(err) {
				return fmt.Errorf("delete object %s/%s: %w", s.bucket, aws.ToString(obj.Key), err)
			}
		}
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (s *S3) Close() error {
	return nil
}

func isMissing(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

func writtenAt(meta map[string]string, lastModified *time.Time) time.Time {
	if v, ok := meta[writtenAtMeta]; ok {
		if nanos, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(0, nanos)
		}
	}
	return aws.ToTime(lastModified)
}
