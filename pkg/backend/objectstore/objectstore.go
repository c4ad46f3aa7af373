// Package objectstore implements a backend.Backend over an S3-compatible
// bucket. Directories don't exist as first-class objects in a flat key
// space, so they're emulated with zero-byte marker objects named
// "<dir>/.keep"; listings hide the marker itself, and any object found
// under a "<dir>/" prefix implies <dir> is a directory even without an
// explicit marker.
package objectstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"go.sftpd.dev/core/pkg/backend"
)

const keepMarker = ".keep"

// Config names the bucket and, optionally, a non-default endpoint/region
// for an S3-compatible service. Prefix, if set, scopes every operation
// under a "directory" inside the bucket; it's normalized to have exactly
// one trailing slash.
type Config struct {
	Bucket          string
	Prefix          string
	Endpoint        string // empty for AWS's default S3 endpoint
	Region          string // default "us-east-1"
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool // required by most non-AWS S3-compatible servers
}

// Backend is a backend.Backend storing files as S3 objects under
// cfg.Bucket/cfg.Prefix.
type Backend struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// New builds a Backend from cfg, constructing its own AWS session and S3
// client.
func New(cfg Config) (*Backend, error) {
	awsCfg := aws.NewConfig().
		WithRegion(defaultString(cfg.Region, "us-east-1")).
		WithS3ForcePathStyle(cfg.ForcePathStyle)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(cfg, s3.New(sess)), nil
}

// NewWithClient builds a Backend around an already-constructed S3 client,
// for use against a fake or a pre-configured session.
func NewWithClient(cfg Config, client s3iface.S3API) *Backend {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Backend{client: client, bucket: cfg.Bucket, prefix: prefix}
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (b *Backend) key(path string) string {
	return b.prefix + path
}

func (b *Backend) dirMarkerKey(path string) string {
	if path == "" {
		return b.prefix + keepMarker
	}
	return b.prefix + path + "/" + keepMarker
}

func (b *Backend) dirPrefix(path string) string {
	if path == "" {
		return b.prefix
	}
	return b.prefix + path + "/"
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return backend.New(backend.NotFound)
		case s3.ErrCodeNoSuchBucket:
			return backend.New(backend.NotFound)
		case "AccessDenied":
			return backend.New(backend.PermissionDenied)
		}
	}
	return backend.Newf(backend.Io, "%v", err)
}

func (b *Backend) headObject(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
}

// dirExists reports whether path has an explicit .keep marker or any
// object living under its prefix.
func (b *Backend) dirExists(ctx context.Context, path string) (bool, error) {
	if _, err := b.headObject(ctx, b.dirMarkerKey(path)); err == nil {
		return true, nil
	} else if !isNotFound(err) {
		return false, mapErr(err)
	}
	out, err := b.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.dirPrefix(path)),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return false, mapErr(err)
	}
	return len(out.Contents) > 0, nil
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

func (b *Backend) FileInfo(ctx context.Context, path string) (backend.FileInfo, error) {
	if path == "" {
		return backend.Directory("", time.Now().Unix()), nil
	}
	if head, err := b.headObject(ctx, b.key(path)); err == nil {
		mtime := time.Now().Unix()
		if head.LastModified != nil {
			mtime = head.LastModified.Unix()
		}
		size := int64(0)
		if head.ContentLength != nil {
			size = *head.ContentLength
		}
		return backend.File(pathBase(path), size, mtime), nil
	} else if !isNotFound(err) {
		return backend.FileInfo{}, mapErr(err)
	}
	ok, err := b.dirExists(ctx, path)
	if err != nil {
		return backend.FileInfo{}, err
	}
	if !ok {
		return backend.FileInfo{}, backend.New(backend.NotFound)
	}
	return backend.Directory(pathBase(path), time.Now().Unix()), nil
}

func pathBase(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func (b *Backend) ListDir(ctx context.Context, path string) ([]backend.DirEntry, error) {
	if path != "" {
		ok, err := b.dirExists(ctx, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			if _, err := b.headObject(ctx, b.key(path)); err == nil {
				return nil, backend.New(backend.NotADirectory)
			}
			return nil, backend.New(backend.NotFound)
		}
	}

	prefix := b.dirPrefix(path)
	entries := backend.SyntheticDotEntries(time.Now().Unix())
	seen := map[string]bool{}
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			entries = append(entries, backend.DirEntry{Name: name, Info: backend.Directory(name, time.Now().Unix())})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(*obj.Key, prefix)
			if name == "" || name == keepMarker || seen[name] {
				continue
			}
			seen[name] = true
			mtime := time.Now().Unix()
			if obj.LastModified != nil {
				mtime = obj.LastModified.Unix()
			}
			size := int64(0)
			if obj.Size != nil {
				size = *obj.Size
			}
			entries = append(entries, backend.DirEntry{Name: name, Info: backend.File(name, size, mtime)})
		}
		return true
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return entries, nil
}

func (b *Backend) MakeDir(ctx context.Context, path string) error {
	if _, err := b.headObject(ctx, b.key(path)); err == nil {
		return backend.New(backend.AlreadyExists)
	}
	if ok, err := b.dirExists(ctx, path); err != nil {
		return err
	} else if ok {
		return backend.New(backend.AlreadyExists)
	}
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.dirMarkerKey(path)),
		Body:   bytes.NewReader(nil),
	})
	return mapErr(err)
}

func (b *Backend) DelDir(ctx context.Context, path string) error {
	ok, err := b.dirExists(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		if _, ferr := b.headObject(ctx, b.key(path)); ferr == nil {
			return backend.New(backend.NotADirectory)
		}
		return backend.New(backend.NotFound)
	}
	_, err = b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.dirMarkerKey(path)),
	})
	return mapErr(err)
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	if _, err := b.headObject(ctx, b.key(path)); err != nil {
		if isNotFound(err) {
			if ok, derr := b.dirExists(ctx, path); derr == nil && ok {
				return backend.New(backend.IsADirectory)
			}
			return backend.New(backend.NotFound)
		}
		return mapErr(err)
	}
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	return mapErr(err)
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	if _, err := b.headObject(ctx, b.key(oldPath)); err == nil {
		return b.renameObject(ctx, b.key(oldPath), b.key(newPath))
	}
	ok, err := b.dirExists(ctx, oldPath)
	if err != nil {
		return err
	}
	if !ok {
		return backend.New(backend.NotFound)
	}
	return b.renameDir(ctx, oldPath, newPath)
}

func (b *Backend) renameObject(ctx context.Context, oldKey, newKey string) error {
	src := b.bucket + "/" + oldKey
	if _, err := b.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(src),
		Key:        aws.String(newKey),
	}); err != nil {
		return mapErr(err)
	}
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(oldKey),
	})
	return mapErr(err)
}

func (b *Backend) renameDir(ctx context.Context, oldPath, newPath string) error {
	oldPrefix := b.dirPrefix(oldPath)
	newPrefix := b.dirPrefix(newPath)
	var keys []string
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(oldPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
		return true
	})
	if err != nil {
		return mapErr(err)
	}
	for _, key := range keys {
		newKey := newPrefix + strings.TrimPrefix(key, oldPrefix)
		if err := b.renameObject(ctx, key, newKey); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		if isNotFound(err) {
			if ok, derr := b.dirExists(ctx, path); derr == nil && ok {
				return nil, backend.New(backend.IsADirectory)
			}
			return nil, backend.New(backend.NotFound)
		}
		return nil, mapErr(err)
	}
	defer out.Body.Close()
	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, backend.Newf(backend.Io, "%v", err)
	}
	return content, nil
}

func (b *Backend) WriteFile(ctx context.Context, path string, content []byte) error {
	if ok, err := b.dirExists(ctx, path); err != nil {
		return err
	} else if ok {
		return backend.New(backend.IsADirectory)
	}
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
		Body:   bytes.NewReader(content),
	})
	return mapErr(err)
}

var _ backend.Backend = (*Backend)(nil)
