package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePut struct {
	objects map[string][]byte
	types   map[string]string
	fail    error
}

func (f *fakePut) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.types = map[string]string{}
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestParseBucketURL(t *testing.T) {
	tests := []struct {
		raw, bucket, prefix string
	}{
		{"s3://my-bucket/specs/", "my-bucket", "specs/"},
		{"s3://my-bucket/specs", "my-bucket", "specs/"},
		{"s3://my-bucket", "my-bucket", ""},
		{"my-bucket/a/b/", "my-bucket", "a/b/"},
	}
	for _, tt := range tests {
		bucket, prefix, err := ParseBucketURL(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.bucket, bucket, tt.raw)
		assert.Equal(t, tt.prefix, prefix, tt.raw)
	}

	_, _, err := ParseBucketURL("s3://")
	require.Error(t, err)
}

func TestS3Uploader_WritesBackupLatestAndMetadata(t *testing.T) {
	fake := &fakePut{}
	u := &S3Uploader{client: fake, bucket: "my-bucket", prefix: "specs/"}

	res, err := u.Upload(context.Background(), Backup{
		ID:        "SPEC-001",
		Priority:  "high",
		Type:      "feature",
		Timestamp: "2024-01-02T10:00:00Z",
		At:        time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		Body:      []byte("# SPEC-001\n"),
	})
	require.NoError(t, err)

	assert.Equal(t, "specs/backups/SPEC-001_20240102_100000.md", res.BackupKey)
	assert.Equal(t, "specs/latest/SPEC-001_latest.md", res.LatestKey)
	assert.Equal(t, "specs/metadata/SPEC-001_metadata.json", res.MetadataKey)

	assert.Equal(t, "# SPEC-001\n", string(fake.objects["my-bucket/"+res.BackupKey]))
	assert.Equal(t, "# SPEC-001\n", string(fake.objects["my-bucket/"+res.LatestKey]))
	assert.Equal(t, "application/json", fake.types[res.MetadataKey])

	var meta map[string]string
	require.NoError(t, json.Unmarshal(fake.objects["my-bucket/"+res.MetadataKey], &meta))
	assert.Equal(t, "SPEC-001", meta["specId"])
	assert.Equal(t, "SPEC-001_20240102_100000.md", meta["backupName"])
}

func TestS3Uploader_FailureIsUnavailable(t *testing.T) {
	u := &S3Uploader{client: &fakePut{fail: errors.New("AccessDenied")}, bucket: "b"}
	_, err := u.Upload(context.Background(), Backup{ID: "SPEC-002", At: time.Now()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
