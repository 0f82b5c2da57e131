package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/edgeprov/edge-installer/pkg/errors"
)

// ObjectAPI is the subset of the S3 client used for package downloads
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client provides S3 storage operations
type Client struct {
	s3Client ObjectAPI
	bucket   string
}

// NewClient creates an S3 client for one bucket.
// Without ambient credentials it falls back to anonymous access.
func NewClient(ctx context.Context, bucket, region string, anonymous bool) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region, "anonymous", anonymous)

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if anonymous {
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return NewClientWithAPI(s3.NewFromConfig(cfg), bucket), nil
}

// NewClientWithAPI wraps an existing S3 API implementation
func NewClientWithAPI(api ObjectAPI, bucket string) *Client {
	return &Client{s3Client: api, bucket: bucket}
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Download downloads an object from S3 and computes SHA256
func (c *Client) Download(ctx context.Context, s3Key, localPath string) (*DownloadResult, error) {
	slog.Info("s3_download_start", "bucket", c.bucket, "s3_key", s3Key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", s3Key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	res, err := writeWithChecksum(result.Body, localPath)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", s3Key, "error", err)
		return nil, err
	}

	slog.Info("s3_download_complete",
		"s3_key", s3Key,
		"size_mb", res.Size/1024/1024,
		"local_path", localPath,
		"sha256", res.SHA256[:16]+"...",
	)
	return res, nil
}

// writeWithChecksum copies src to localPath while hashing it
func writeWithChecksum(src io.Reader, localPath string) (*DownloadResult, error) {
	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), src)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download file")
	}
	if err := f.Sync(); err != nil {
		return nil, errors.Wrap(err, "failed to flush file")
	}

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    hex.EncodeToString(hash.Sum(nil)),
		Size:      size,
	}, nil
}
