package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/querydesk/querydesk/internal/storage"
)

func TestPutUsesPrefixAndNormalizedKey(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "querydesk/prod", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	_, err = store.Put(context.Background(), "/charts/abc.vl.json", bytes.NewBufferString("{}"), 2, storage.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastPutBucket != "bucket-a" {
		t.Fatalf("bucket = %q", fake.lastPutBucket)
	}
	if fake.lastPutKey != "querydesk/prod/charts/abc.vl.json" {
		t.Fatalf("key = %q", fake.lastPutKey)
	}
	if fake.lastContentType != "application/json" {
		t.Fatalf("content type = %q", fake.lastContentType)
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	store, err := NewWithClient("bucket-a", "", &fakeClient{})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	_, err = store.Put(context.Background(), "../secrets.txt", bytes.NewBufferString("x"), 1, storage.PutOptions{})
	if err == nil {
		t.Fatal("expected path traversal validation error")
	}
}

func TestStatMapsMissingObject(t *testing.T) {
	store, err := NewWithClient("bucket-a", "", &fakeClient{statErr: storage.ErrObjectNotFound})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if _, err := store.Stat(context.Background(), "schema/snapshot.json"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v", err)
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeClient{bucketExists: false}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if !fake.createBucketCalled {
		t.Fatal("expected CreateBucket to be called")
	}
}

func TestReadyRequiresBucket(t *testing.T) {
	store, err := NewWithClient("bucket-a", "", &fakeClient{bucketExists: false})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if err := store.Ready(context.Background()); err == nil {
		t.Fatal("expected Ready() error for missing bucket")
	}

	store, _ = NewWithClient("bucket-a", "", &fakeClient{bucketExists: true})
	if err := store.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	endpoint, secure, err := parseEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if endpoint != "minio.example.com" || !secure {
		t.Fatalf("endpoint/secure = %q/%v", endpoint, secure)
	}

	endpoint, secure, err = parseEndpoint("localhost:9000", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if endpoint != "localhost:9000" || secure {
		t.Fatalf("endpoint/secure = %q/%v", endpoint, secure)
	}
}

type fakeClient struct {
	lastPutBucket      string
	lastPutKey         string
	lastContentType    string
	bucketExists       bool
	createBucketCalled bool
	statErr            error
}

func (f *fakeClient) Put(_ context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	f.lastPutBucket = bucket
	f.lastPutKey = key
	f.lastContentType = contentType
	_, _ = io.Copy(io.Discard, reader)
	return storage.ObjectInfo{Key: key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeClient) Get(_ context.Context, _, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(key)), nil
}

func (f *fakeClient) Stat(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	if f.statErr != nil {
		return storage.ObjectInfo{}, f.statErr
	}
	return storage.ObjectInfo{Key: key, Size: 10, LastModified: time.Now().UTC()}, nil
}

func (f *fakeClient) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeClient) CreateBucket(_ context.Context, _, _ string) error {
	f.createBucketCalled = true
	return nil
}
