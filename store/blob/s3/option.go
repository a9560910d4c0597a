package s3

import (
	"log/slog"
)

type options struct {
	bucket string
	prefix string
	region string

	// S3-compatible services (MinIO, LocalStack)
	endpoint     string
	usePathStyle bool

	accessKey    string
	secretKey    string
	sessionToken string

	roleARN         string
	roleSessionName string
	externalID      string

	multipart bool

	logger *slog.Logger
}

// Option configures the S3 blob store.
type Option func(*options)

// WithBucket sets the bucket name (required).
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithPrefix sets the key prefix. Default is "backups".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithRegion sets the AWS region. Default is "us-east-1".
func WithRegion(region string) Option {
	return func(o *options) {
		if region != "" {
			o.region = region
		}
	}
}

// WithEndpoint sets a custom endpoint for S3-compatible services.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithPathStyle enables path-style addressing.
func WithPathStyle(enabled bool) Option {
	return func(o *options) {
		o.usePathStyle = enabled
	}
}

// WithStaticCredentials sets long-term access keys.
// Without any credential option the SDK default chain is used (env, shared
// config, EC2/ECS roles, IRSA).
func WithStaticCredentials(accessKey, secretKey string) Option {
	return func(o *options) {
		o.accessKey = accessKey
		o.secretKey = secretKey
	}
}

// WithSessionToken sets the session token for temporary static credentials.
func WithSessionToken(token string) Option {
	return func(o *options) {
		o.sessionToken = token
	}
}

// WithAssumeRole assumes roleARN through STS.
func WithAssumeRole(roleARN, sessionName string) Option {
	return func(o *options) {
		o.roleARN = roleARN
		if sessionName != "" {
			o.roleSessionName = sessionName
		} else {
			o.roleSessionName = "mediator-backup-store"
		}
	}
}

// WithExternalID sets the external ID for cross-account role assumption.
func WithExternalID(externalID string) Option {
	return func(o *options) {
		o.externalID = externalID
	}
}

// WithMultipartUpload routes Put through the transfer manager, which splits
// large bodies into parts. The no-overwrite check then becomes a HeadObject
// probe before the upload instead of a conditional write.
func WithMultipartUpload(enabled bool) Option {
	return func(o *options) {
		o.multipart = enabled
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
