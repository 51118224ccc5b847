package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 只实现题库用到的几个 path-style 请求
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]bool
	objects  map[string]string
	requests []string
	putTypes map[string]string
}

func newFakeS3(t *testing.T) (*fakeS3, *Client) {
	t.Helper()
	f := &fakeS3{buckets: map[string]bool{}, objects: map[string]string{}, putTypes: map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "viva-questions",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return f, c
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	f.requests = append(f.requests, r.Method+" "+path)

	switch {
	case key == "" && r.Method == http.MethodHead:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		f.putTypes[path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		body, ok := f.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>` + key + `</Key><BucketName>` + bucket + `</BucketName></Error>`))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Last-Modified", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestEnsureBucketCreatesMissingBucket(t *testing.T) {
	f, c := newFakeS3(t)

	if err := c.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if err := c.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("second EnsureBucket: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets["viva-questions"] {
		t.Fatalf("bucket not created, requests: %v", f.requests)
	}
	creates := 0
	for _, r := range f.requests {
		if r == "PUT viva-questions" {
			creates++
		}
	}
	if creates != 1 {
		t.Fatalf("expected exactly one create, requests: %v", f.requests)
	}
}

func TestUploadSetsContentType(t *testing.T) {
	f, c := newFakeS3(t)

	if err := c.Upload(context.Background(), "viva-questions", "default-questions.txt", []byte("Q1\nQ2\n"), "text/plain"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := c.Upload(context.Background(), "viva-questions", "blob", []byte("x"), ""); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if got := f.putTypes["viva-questions/default-questions.txt"]; got != "text/plain" {
		t.Fatalf("content type = %q", got)
	}
	if got := f.putTypes["viva-questions/blob"]; got != "application/octet-stream" {
		t.Fatalf("default content type = %q", got)
	}
}

func TestDownload(t *testing.T) {
	f, c := newFakeS3(t)
	f.mu.Lock()
	f.objects["viva-questions/default-questions.txt"] = "What is Go?\nWhat is a goroutine?\n"
	f.mu.Unlock()

	data, err := c.Download(context.Background(), "viva-questions", "default-questions.txt")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "What is Go?\nWhat is a goroutine?\n" {
		t.Fatalf("data = %q", data)
	}

	_, err = c.Download(context.Background(), "viva-questions", "missing.txt")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}
