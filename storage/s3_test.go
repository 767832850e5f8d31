package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
)

func TestNewS3Storage(t *testing.T) {
	tests := []struct {
		name      string
		bucket    string
		region    string
		wantError bool
	}{
		{
			name:   "valid bucket and region",
			bucket: "test-bucket",
			region: "us-east-1",
		},
		{
			name:      "empty bucket",
			bucket:    "",
			region:    "us-east-1",
			wantError: true,
		},
		{
			name:      "empty region",
			bucket:    "test-bucket",
			region:    "",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := NewS3Storage(tt.bucket, tt.region)
			if tt.wantError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if storage.bucket != tt.bucket {
				t.Errorf("bucket mismatch: got %q, want %q", storage.bucket, tt.bucket)
			}
			if storage.timeout != defaultS3Timeout {
				t.Errorf("timeout mismatch: got %v", storage.timeout)
			}
		})
	}
}

func TestNewBlobStorage_S3Options(t *testing.T) {
	s, err := NewBlobStorage("s3", map[string]interface{}{
		"bucket":  "spa-archives",
		"region":  "eu-west-1",
		"prefix":  "/prod/",
		"timeout": 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s3s, ok := s.(*S3Storage)
	if !ok {
		t.Fatalf("expected *S3Storage, got %T", s)
	}
	if s3s.prefix != "prod" {
		t.Errorf("prefix mismatch: got %q", s3s.prefix)
	}
	if s3s.timeout != 5*time.Second {
		t.Errorf("timeout mismatch: got %v", s3s.timeout)
	}

	key, err := s3s.key(ArchiveKey("docs", "v1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "prod/archives/docs/v1.zip" {
		t.Errorf("key mismatch: got %q", key)
	}
}

func TestS3Storage_PathValidation(t *testing.T) {
	storage, err := NewS3Storage("test-bucket", "us-east-1")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	ctx := context.Background()

	maliciousPaths := []string{
		"",
		"../../../etc/passwd",
		"..\\..\\..\\windows\\system32",
		"subdir/../../outside.txt",
		"/absolute/path.txt",
		"./relative.txt",
	}

	for _, path := range maliciousPaths {
		if err := storage.Upload(ctx, path, strings.NewReader("test")); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("upload should have blocked path %q, got %v", path, err)
		}
		if _, err := storage.Download(ctx, path); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("download should have blocked path %q, got %v", path, err)
		}
		if err := storage.Delete(ctx, path); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("delete should have blocked path %q, got %v", path, err)
		}
		if _, err := storage.Exists(ctx, path); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("exists should have blocked path %q, got %v", path, err)
		}
	}
}

func TestIsS3NotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "no such key", err: &smithy.GenericAPIError{Code: "NoSuchKey"}, want: true},
		{name: "not found", err: &smithy.GenericAPIError{Code: "NotFound"}, want: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isS3NotFoundError(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
