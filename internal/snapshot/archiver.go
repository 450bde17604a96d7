package snapshot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// payloadReader reads a snapshot's captured rows as a single JSON document.
type payloadReader interface {
	SnapshotRows(ctx context.Context, snapshotID string) ([]byte, error)
}

// ArchiverConfig configures object-storage offload of snapshot payloads.
// An optional custom endpoint supports S3-compatible stores.
type ArchiverConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// Archiver exports snapshot payloads to object storage so large snapshots
// can be expired from Postgres without losing the restore-of-last-resort.
type Archiver struct {
	client *s3.Client
	bucket string
	rows   payloadReader
	logger *zap.Logger
}

func NewArchiver(ctx context.Context, cfg ArchiverConfig, rows payloadReader, logger *zap.Logger) (*Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: cfg.PathStyle,
					SigningRegion:     cfg.Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})
	return &Archiver{client: client, bucket: cfg.Bucket, rows: rows, logger: logger}, nil
}

// Archive uploads one snapshot's payload and returns its object URL.
func (a *Archiver) Archive(ctx context.Context, snapshotID string) (string, error) {
	payload, err := a.rows.SnapshotRows(ctx, snapshotID)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("snapshots/%s.json", snapshotID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	url := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	a.logger.Info("snapshot archived",
		zap.String("snapshot_id", snapshotID),
		zap.String("url", url),
		zap.Int("size_bytes", len(payload)))
	return url, nil
}
