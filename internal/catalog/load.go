package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lychee-technology/fulltext"
)

// Parse decodes a catalog document. format is "json" or "yaml"; YAML is a superset of
// JSON, so an unknown format is read as YAML.
func Parse(data []byte, format string) (*Catalog, error) {
	var doc Catalog
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, catalogError(fmt.Errorf("parse catalog json: %w", err))
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, catalogError(fmt.Errorf("parse catalog yaml: %w", err))
		}
	}
	return New(doc.Tables...)
}

// LoadFile reads a catalog document from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, catalogError(fmt.Errorf("read catalog file %s: %w", path, err))
	}
	cat, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, err
	}
	zap.S().Infow("catalog loaded from file", "path", path, "tables", len(cat.Tables))
	return cat, nil
}

// NewS3Client builds an S3 client from static settings, falling back to the default
// AWS credential chain when no access key is configured.
func NewS3Client(ctx context.Context, cfg fulltext.S3Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// LoadS3 downloads a catalog document from object storage.
func LoadS3(ctx context.Context, client manager.DownloadAPIClient, bucket, key string) (*Catalog, error) {
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.Concurrency = 1
	})

	buf := manager.NewWriteAtBuffer(nil)
	if _, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NoSuchBucket") {
			return nil, catalogError(fmt.Errorf("catalog object s3://%s/%s not found: %w", bucket, key, err))
		}
		return nil, catalogError(fmt.Errorf("download catalog s3://%s/%s: %w", bucket, key, err))
	}

	cat, err := Parse(buf.Bytes(), formatOf(key))
	if err != nil {
		return nil, err
	}
	zap.S().Infow("catalog loaded from s3", "bucket", bucket, "key", key, "tables", len(cat.Tables))
	return cat, nil
}

func formatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}
