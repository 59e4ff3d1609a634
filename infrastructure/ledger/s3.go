package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/ahrav/go-rationale/internal/ports"
)

// S3Config configures an S3 ledger.
//
// Credentials follow the AWS SDK v2 default chain unless AccessKeyID and
// SecretAccessKey are both set. For S3-compatible stores (MinIO, Wasabi)
// set Endpoint and usually ForcePathStyle.
type S3Config struct {
	// Bucket is the bucket name (required).
	Bucket string `yaml:"bucket" mapstructure:"bucket"`

	// Prefix is the key prefix the ledger lives under, without a trailing
	// slash. Empty means the bucket root.
	Prefix string `yaml:"prefix" mapstructure:"prefix"`

	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Profile  string `yaml:"profile" mapstructure:"profile"`

	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`

	ForcePathStyle bool `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// DefaultAWSRegion is the fallback region for AWS S3 when none resolves.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return ports.NewConfigError("storage.s3.bucket", errors.New("bucket name is required"))
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return ports.NewConfigError("storage.s3.access_key_id",
			errors.New("access key ID and secret access key must be provided together"))
	}
	return nil
}

// s3API is the subset of the S3 client the ledger uses.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 is a ports.Ledger stored as objects directly under a key prefix.
// PutObject replaces an object atomically, so readers never see a partial
// record.
type S3 struct {
	client s3API
	bucket string
	prefix string
}

var _ ports.Ledger = (*S3)(nil)

// NewS3 creates an S3 ledger from cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, ports.NewLedgerError("open", "s3://"+cfg.Bucket, "", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3WithClient(client s3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func loadAWSConfig(ctx context.Context, cfg S3Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}
	return awsCfg, nil
}

// List returns the names of the objects directly under the prefix. Deeper
// keys belong to sub-ledgers and are not reported.
func (l *S3) List(ctx context.Context) ([]string, error) {
	keyPrefix := l.keyPrefix()
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(l.bucket),
		Delimiter: aws.String("/"),
	}
	if keyPrefix != "" {
		input.Prefix = aws.String(keyPrefix)
	}

	var names []string
	pager := s3.NewListObjectsV2Paginator(l.client, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, l.wrapError("list", "", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), keyPrefix)
			if name == "" || strings.Contains(name, "/") || strings.HasPrefix(name, tempPrefix) {
				continue
			}
			names = append(names, name)
		}
	}
	return names, nil
}

// Read returns the content of the named object.
func (l *S3) Read(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, ports.NewLedgerError("read", l.Location(), name, err)
	}

	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key(name)),
	})
	if err != nil {
		return nil, l.wrapError("read", name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, ports.NewLedgerError("read", l.Location(), name, err)
	}
	return data, nil
}

// Write uploads data under name with a single PutObject.
func (l *S3) Write(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return ports.NewLedgerError("write", l.Location(), name, err)
	}

	_, err := l.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(l.bucket),
		Key:           aws.String(l.key(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return l.wrapError("write", name, err)
	}
	return nil
}

// Sub returns a ledger under the child prefix name.
func (l *S3) Sub(name string) ports.Ledger {
	return newS3WithClient(l.client, l.bucket, path.Join(l.prefix, name))
}

// Location returns the s3:// URL of the prefix.
func (l *S3) Location() string {
	if l.prefix == "" {
		return "s3://" + l.bucket
	}
	return "s3://" + l.bucket + "/" + l.prefix
}

func (l *S3) keyPrefix() string {
	if l.prefix == "" {
		return ""
	}
	return l.prefix + "/"
}

func (l *S3) key(name string) string { return l.keyPrefix() + name }

// wrapError maps S3 failures onto ledger errors; missing keys become
// ports.ErrRecordNotFound.
func (l *S3) wrapError(op, name string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return ports.NewLedgerError(op, l.Location(), name, ports.ErrRecordNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return ports.NewLedgerError(op, l.Location(), name, ports.ErrRecordNotFound)
		case "NoSuchBucket":
			err = fmt.Errorf("bucket %s does not exist: %w", l.bucket, err)
		}
	}
	return ports.NewLedgerError(op, l.Location(), name, err)
}
