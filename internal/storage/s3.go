package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

// S3Config locates the archive bucket.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Encoder writes a run report. render.JSON satisfies it.
type Encoder interface {
	Render(w io.Writer, report models.RunReport) error
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads each run report as a gzipped JSON object.
type S3Archiver struct {
	logger  *slog.Logger
	client  objectPutter
	bucket  string
	prefix  string
	encoder Encoder
}

// NewS3Archiver loads AWS configuration and builds the client. Without static
// keys the default credential chain is used.
func NewS3Archiver(ctx context.Context, cfg S3Config, encoder Encoder, logger *slog.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Archiver(client, cfg, encoder, logger), nil
}

func newS3Archiver(client objectPutter, cfg S3Config, encoder Encoder, logger *slog.Logger) *S3Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Archiver{
		logger:  logger,
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		encoder: encoder,
	}
}

// ObjectKey returns prefix/YYYY/MM/DD/<run id>.json.gz for the run's start time.
func ObjectKey(prefix string, report models.RunReport) string {
	started := report.StartedAt.UTC()
	name := fmt.Sprintf("%04d/%02d/%02d/%s.json.gz", started.Year(), started.Month(), started.Day(), report.RunID)
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Archive uploads report.
func (a *S3Archiver) Archive(ctx context.Context, report models.RunReport) error {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return err
	}
	if a.encoder != nil {
		err = a.encoder.Render(gz, report)
	} else {
		err = json.NewEncoder(gz).Encode(report)
	}
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress run report: %w", err)
	}

	key := ObjectKey(a.prefix, report)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Info("run report archived", slog.String("bucket", a.bucket), slog.String("key", key), slog.Int("bytes", buf.Len()))
	return nil
}
