package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"go.sftpd.dev/core/pkg/backend"
	"go.sftpd.dev/core/pkg/backend/backendtest"
)

func newReadCloser(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}

func readAll(r io.ReadSeeker) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return io.ReadAll(r)
}

// fakeS3 is a minimal in-memory stand-in for s3iface.S3API, covering only
// the calls objectstore.Backend makes. Embedding the interface means any
// method this test doesn't implement panics with a nil pointer
// dereference when called, instead of failing to compile.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func notFoundErr() error {
	return awserr.New(s3.ErrCodeNoSuchKey, "not found", nil)
}

func (f *fakeS3) HeadObjectWithContext(ctx aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, notFoundErr()
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(b))),
		LastModified:  aws.Time(time.Now()),
	}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, notFoundErr()
	}
	return &s3.GetObjectOutput{Body: newReadCloser(b)}, nil
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := readAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(ctx aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CopyObjectWithContext(ctx aws.Context, in *s3.CopyObjectInput, _ ...request.Option) (*s3.CopyObjectOutput, error) {
	src := strings.SplitN(*in.CopySource, "/", 2)[1]
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[src]
	if !ok {
		return nil, notFoundErr()
	}
	f.objects[*in.Key] = b
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2WithContext(ctx aws.Context, in *s3.ListObjectsV2Input, _ ...request.Option) (*s3.ListObjectsV2Output, error) {
	out := f.list(in)
	return out, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(ctx aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	fn(f.list(in), true)
	return nil
}

func (f *fakeS3) list(in *s3.ListObjectsV2Input) *s3.ListObjectsV2Output {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.StringValue(in.Prefix)
	delim := aws.StringValue(in.Delimiter)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seenPrefix := map[string]bool{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seenPrefix[cp] {
					seenPrefix[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, &s3.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, &s3.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: aws.Time(time.Now()),
		})
		if in.MaxKeys != nil && int64(len(out.Contents)) >= *in.MaxKeys {
			break
		}
	}
	return out
}

func TestConformance(t *testing.T) {
	backendtest.TestOpt(t, backendtest.Opts{
		New: func(t *testing.T) (backend.Backend, func()) {
			client := newFakeS3()
			b := NewWithClient(Config{Bucket: "test-bucket", Prefix: "objs"}, client)
			return b, nil
		},
		DelDirKeepsChildren: true,
	})
}

func TestFileInfoRoot(t *testing.T) {
	b := NewWithClient(Config{Bucket: "test-bucket"}, newFakeS3())
	fi, err := b.FileInfo(context.Background(), "")
	if err != nil {
		t.Fatalf("FileInfo(\"\"): %v", err)
	}
	if !fi.IsDir {
		t.Fatalf("FileInfo(\"\").IsDir = false, want true")
	}
}
