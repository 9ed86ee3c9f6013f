package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// S3Config configures the S3 uploader. Endpoint and UsePathStyle allow
// S3-compatible stores (MinIO, R2).
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	// PublicBaseURL, when set, prefixes object keys in returned URLs (CDN).
	PublicBaseURL string
	// Prefix is prepended to every object key.
	Prefix   string
	MaxBytes int
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads images to an S3 bucket.
type S3 struct {
	api putObjectAPI
	cfg S3Config
}

var _ Uploader = (*S3)(nil)

// NewS3 builds an S3 uploader from static credentials.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &S3{api: s3.New(opts), cfg: cfg}, nil
}

// Upload decodes image and stores it under a random key.
func (u *S3) Upload(ctx context.Context, image string) (Upload, error) {
	data, ct, err := DecodeImage(image, u.cfg.MaxBytes)
	if err != nil {
		return Upload{}, err
	}
	key := path.Join(u.cfg.Prefix, "logos", uuid.NewString()+extension(ct))

	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(ct),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return Upload{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	log.Ctx(ctx).Debug().Str("key", key).Int("bytes", len(data)).Msg("logo uploaded")

	return Upload{SecureURL: u.publicURL(key), Key: key, ContentType: ct, Size: len(data)}, nil
}

func (u *S3) publicURL(key string) string {
	switch {
	case u.cfg.PublicBaseURL != "":
		return strings.TrimRight(u.cfg.PublicBaseURL, "/") + "/" + key
	case u.cfg.Endpoint != "" && u.cfg.UsePathStyle:
		return strings.TrimRight(u.cfg.Endpoint, "/") + "/" + u.cfg.Bucket + "/" + key
	case u.cfg.Endpoint != "":
		ep := strings.TrimRight(u.cfg.Endpoint, "/")
		if i := strings.Index(ep, "://"); i >= 0 {
			return ep[:i+3] + u.cfg.Bucket + "." + ep[i+3:] + "/" + key
		}
		return ep + "/" + u.cfg.Bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
	}
}
