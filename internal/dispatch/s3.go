package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Backup is one document to archive.
type Backup struct {
	ID        string
	Priority  string
	Type      string
	Timestamp string    // as reported by the runner
	At        time.Time // names the timestamped copy
	Body      []byte
}

// UploadResult lists the keys written for a backup.
type UploadResult struct {
	Bucket      string `json:"bucket"`
	BackupKey   string `json:"backup_key"`
	LatestKey   string `json:"latest_key"`
	MetadataKey string `json:"metadata_key"`
}

// Uploader archives documents to object storage.
type Uploader interface {
	Upload(ctx context.Context, b Backup) (UploadResult, error)
}

// putObjectAPI is the subset of *s3.Client used here.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures S3Uploader.
type S3Config struct {
	BucketURL string // s3://bucket/optional/prefix/
	Region    string
	Endpoint  string // optional custom endpoint (MinIO, LocalStack)
}

// S3Uploader writes a timestamped copy, a latest copy and a metadata object:
//
//	<prefix>backups/<id>_<yyyymmdd_hhmmss>.md
//	<prefix>latest/<id>_latest.md
//	<prefix>metadata/<id>_metadata.json
type S3Uploader struct {
	client putObjectAPI
	bucket string
	prefix string
}

// NewS3Uploader loads the default AWS credential chain and returns an uploader.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	bucket, prefix, err := ParseBucketURL(cfg.BucketURL)
	if err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load AWS config: %w", ErrUnavailable, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix}, nil
}

// ParseBucketURL splits s3://bucket/prefix into its bucket and a prefix that
// is empty or ends in "/".
func ParseBucketURL(raw string) (bucket, prefix string, err error) {
	trimmed := strings.TrimRight(strings.TrimPrefix(strings.TrimSpace(raw), "s3://"), "/")
	if trimmed == "" {
		return "", "", fmt.Errorf("dispatch: empty bucket url %q", raw)
	}
	bucket, prefix, _ = strings.Cut(trimmed, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("dispatch: bucket url %q has no bucket", raw)
	}
	if prefix != "" {
		prefix += "/"
	}
	return bucket, prefix, nil
}

// Keys returns the object keys for b without uploading.
func (u *S3Uploader) Keys(b Backup) UploadResult {
	name := fmt.Sprintf("%s_%s.md", b.ID, b.At.Format("20060102_150405"))
	return UploadResult{
		Bucket:      u.bucket,
		BackupKey:   u.prefix + "backups/" + name,
		LatestKey:   u.prefix + "latest/" + b.ID + "_latest.md",
		MetadataKey: u.prefix + "metadata/" + b.ID + "_metadata.json",
	}
}

type backupMetadata struct {
	SpecID     string `json:"specId"`
	Priority   string `json:"priority"`
	Type       string `json:"type"`
	Timestamp  string `json:"timestamp"`
	BackupName string `json:"backupName"`
}

func (u *S3Uploader) Upload(ctx context.Context, b Backup) (UploadResult, error) {
	res := u.Keys(b)

	meta, err := json.MarshalIndent(backupMetadata{
		SpecID:     b.ID,
		Priority:   b.Priority,
		Type:       b.Type,
		Timestamp:  b.Timestamp,
		BackupName: res.BackupKey[strings.LastIndex(res.BackupKey, "/")+1:],
	}, "", "  ")
	if err != nil {
		return res, fmt.Errorf("dispatch: marshal backup metadata: %w", err)
	}

	objects := []struct {
		key, contentType string
		body             []byte
	}{
		{res.BackupKey, "text/markdown", b.Body},
		{res.LatestKey, "text/markdown", b.Body},
		{res.MetadataKey, "application/json", meta},
	}
	for _, obj := range objects {
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(obj.key),
			Body:        bytes.NewReader(obj.body),
			ContentType: aws.String(obj.contentType),
		})
		if err != nil {
			return res, fmt.Errorf("%w: s3 put %s: %w", ErrUnavailable, obj.key, err)
		}
	}
	return res, nil
}
