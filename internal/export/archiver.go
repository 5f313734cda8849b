package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Archiver configuration errors.
var (
	ErrMissingBucket    = errors.New("bucket name is required")
	ErrMissingAccessKey = errors.New("access key ID is required")
	ErrMissingSecretKey = errors.New("secret access key is required")
	ErrMissingEndpoint  = errors.New("endpoint is required")
	ErrInvalidFormat    = errors.New("unsupported export format")
)

// ArchiverConfig holds configuration for the export archiver.
type ArchiverConfig struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string // Default: "auto"
}

// Archiver writes serialized export bundles to S3-compatible object storage.
type Archiver struct {
	s3Client   *s3.Client
	bucketName string
	metrics    *Metrics
	timeNow    func() time.Time // For testability
}

// NewArchiver creates an export archiver with the given configuration.
// Nil metrics fall back to a fresh unregistered set.
func NewArchiver(cfg ArchiverConfig, metrics *Metrics) (*Archiver, error) {
	if cfg.BucketName == "" {
		return nil, ErrMissingBucket
	}
	if cfg.AccessKeyID == "" {
		return nil, ErrMissingAccessKey
	}
	if cfg.SecretAccessKey == "" {
		return nil, ErrMissingSecretKey
	}
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	// S3-compatible configuration; R2 and MinIO both need path-style addressing
	s3Client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Archiver{
		s3Client:   s3Client,
		bucketName: cfg.BucketName,
		metrics:    metrics,
		timeNow:    time.Now,
	}, nil
}

// ArchiveResult describes one stored export object.
type ArchiveResult struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	StoredAt  time.Time `json:"stored_at"`
}

// Archive serializes the bundle in the given format and uploads it.
// Pattern: exports/{generated date}/{uuid}{ext}
func (a *Archiver) Archive(ctx context.Context, b *Bundle, format Format) (*ArchiveResult, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, format)
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case FormatCSV:
		err = WriteCSV(&buf, b)
	default:
		err = WriteJSONL(&buf, b)
	}
	if err != nil {
		a.metrics.IncExportErrors()
		return nil, err
	}

	key := fmt.Sprintf("exports/%s/%s%s",
		b.GeneratedAt.UTC().Format("2006-01-02"),
		uuid.New().String(),
		format.Extension())

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentType:   aws.String(format.ContentType()),
		ContentLength: aws.Int64(int64(buf.Len())),
	})
	if err != nil {
		a.metrics.IncExportErrors()
		return nil, fmt.Errorf("uploading export object: %w", err)
	}

	a.metrics.IncArchiveUploads()
	return &ArchiveResult{
		Key:       key,
		SizeBytes: int64(buf.Len()),
		StoredAt:  a.timeNow().UTC(),
	}, nil
}
