// Package mediastore holds transiently uploaded media blobs in S3 (or any
// S3-compatible store) keyed by opaque string keys. Downloads go through
// short-lived presigned URLs so nothing downstream ever sees credentials.
package mediastore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// Config holds S3 connection settings.
type Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // custom endpoint for S3-compatible storage (MinIO, etc.)
	AccessKey string // optional, falls back to the default credential chain
	SecretKey string
}

// Store is the object media store.
type Store struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	config        Config
	logger        *logrus.Logger
}

// New creates a media store client.
func New(ctx context.Context, cfg Config, logger *logrus.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("media bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO and most S3-compatible storage
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	logger.WithFields(logrus.Fields{
		"bucket":   cfg.Bucket,
		"prefix":   cfg.Prefix,
		"region":   cfg.Region,
		"endpoint": cfg.Endpoint,
	}).Info("media store initialized")

	return &Store{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		config:        cfg,
		logger:        logger,
	}, nil
}

func (s *Store) fullKey(key string) string {
	if s.config.Prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.config.Prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

// Put stores an object under the given key.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.fullKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to store media object %s: %w", key, err)
	}

	s.logger.WithFields(logrus.Fields{
		"key":   key,
		"bytes": len(body),
	}).Debug("media object stored")
	return nil
}

// PresignGet returns a short-lived signed download URL for the key.
func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry == 0 {
		expiry = 15 * time.Minute
	}

	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.fullKey(key)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign GET for %s: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes the given keys in one batch call. Used after a successful
// publish to reclaim consumed media; callers treat failures as log-only.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	objects := make([]types.ObjectIdentifier, len(keys))
	for i, key := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(s.fullKey(key))}
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.config.Bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete media objects: %w", err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return fmt.Errorf("failed to delete %d media objects, first: %s %s",
			len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
	}

	s.logger.WithField("keys", len(keys)).Debug("media objects deleted")
	return nil
}
