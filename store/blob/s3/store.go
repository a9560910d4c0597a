// Package s3 provides an S3-backed BlobStore.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rbaliyan/mediator/store"
)

// API is the subset of the S3 client used by Store.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Store implements store.BlobStore using AWS S3.
type Store struct {
	client API
	tm     *transfermanager.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ store.BlobStore = (*Store)(nil)

// New creates an S3 blob store. ctx is used for credential loading.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := &options{
		region: "us-east-1",
		prefix: "backups",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(opts *s3.Options) {
		if o.endpoint != "" {
			opts.BaseEndpoint = aws.String(o.endpoint)
			opts.UsePathStyle = o.usePathStyle
		}
	})

	s := &Store{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}
	if o.multipart {
		s.tm = transfermanager.New(client)
	}
	return s, nil
}

// NewWithClient creates a store over an existing client. Multipart uploads
// are not available in this mode.
func NewWithClient(client API, bucket, prefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func buildAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(o.region)}

	switch {
	case o.accessKey != "" && o.secretKey != "":
		creds := credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))

	case o.roleARN != "":
		baseCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		optFns = append(optFns, config.WithCredentialsProvider(
			newAssumeRoleProvider(baseCfg, o.roleARN, o.roleSessionName, o.externalID)))
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// Put writes content under key with If-None-Match so an existing object is
// never replaced.
func (s *Store) Put(ctx context.Context, key, contentType string, content io.Reader) error {
	if key == "" {
		return store.ErrInvalidID
	}
	objectKey := s.objectKey(key)

	if s.tm != nil {
		return s.putMultipart(ctx, objectKey, contentType, content)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        content,
		IfNoneMatch: aws.String("*"),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("put object to s3: %w", err)
	}

	s.logger.Debug("stored blob in s3", "bucket", s.bucket, "key", objectKey)
	return nil
}

func (s *Store) putMultipart(ctx context.Context, objectKey, contentType string, content io.Reader) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	switch {
	case err == nil:
		return store.ErrDuplicateEntry
	case !isNotFound(err):
		return fmt.Errorf("head object in s3: %w", err)
	}

	input := &transfermanager.UploadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   content,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.tm.UploadObject(ctx, input); err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}

	s.logger.Debug("uploaded blob to s3", "bucket", s.bucket, "key", objectKey)
	return nil
}

// Get returns the object body. The caller must close it.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get object from s3: %w", err)
	}
	return out.Body, nil
}

// List pages through ListObjectsV2 lazily, one page per request.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		base := s.objectKey("")
		p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(s.objectKey(prefix)),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				yield("", fmt.Errorf("list objects in s3: %w", err))
				return
			}
			for _, obj := range page.Contents {
				if !yield(strings.TrimPrefix(aws.ToString(obj.Key), base), nil) {
					return
				}
			}
		}
	}
}

func (s *Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + key
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
