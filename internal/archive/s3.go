package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ful2win/backend/internal/config"
	"github.com/ful2win/backend/internal/models"
	"go.uber.org/zap"
)

// objectPutter is the subset of *s3.Client the archive uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 writes one JSON object per settled session to an S3-compatible bucket.
type S3 struct {
	client objectPutter
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3 builds the client from static credentials when given, otherwise
// from the default AWS credential chain. A custom endpoint (R2, MinIO)
// switches to path-style addressing.
func NewS3(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("ARCHIVE_S3_BUCKET is required for the s3 archive")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3(client objectPutter, bucket, prefix string, logger *zap.Logger) *S3 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3{client: client, bucket: bucket, prefix: prefix, logger: logger.Named("archive")}
}

// objectKey lays objects out by completion day: <prefix>/2006/01/02/<room>.json
func (a *S3) objectKey(r Record) string {
	day := r.CompletedAt
	if day.IsZero() {
		day = r.ArchivedAt
	}
	return path.Join(a.prefix, day.UTC().Format("2006/01/02"), r.RoomID+".json")
}

// Archive implements game.Archiver.
func (a *S3) Archive(ctx context.Context, s *models.Session) error {
	r := NewRecord(s)
	body, err := r.marshal()
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.RoomID, err)
	}
	key := a.objectKey(r)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload session %s: %w", s.RoomID, err)
	}
	a.logger.Debug("session archived", zap.String("room_id", s.RoomID), zap.String("key", key))
	return nil
}

// Close implements Sink.
func (a *S3) Close() error { return nil }
