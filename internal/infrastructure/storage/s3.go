package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"telesig/internal/core/ports"
)

// S3Config holds the recording bucket configuration.
type S3Config struct {
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// S3 persists finalized recordings into an S3 bucket. It implements
// ports.RecordingStorage; the coordinator treats it as an opaque storage
// collaborator and never assumes durability before Persist returns.
type S3 struct {
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.SugaredLogger
}

func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3{
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		logger:   logger.Sugar(),
	}, nil
}

var _ ports.RecordingStorage = (*S3)(nil)

// Persist uploads the aggregated recording chunks under the storage handle
// and returns the object URL.
func (s *S3) Persist(ctx context.Context, storageHandle string, chunks [][]byte) (string, error) {
	key := path.Join(s.cfg.Prefix, storageHandle+".webm")

	var total int
	for _, c := range chunks {
		total += len(c)
	}
	body := make([]byte, 0, total)
	for _, c := range chunks {
		body = append(body, c...)
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("video/webm"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload recording %s: %w", storageHandle, err)
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	s.logger.Infow("recording persisted",
		"handle", storageHandle,
		"key", key,
		"bytes", total,
	)
	return url, nil
}
