package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const blobCacheSize = 64

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store persists blobs in an S3-compatible bucket. Each version of a name
// is its own object under "{name}/v{n}"; the per-name version counter is
// recovered from the object listing on first use.
type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string
	initOnce   sync.Once
	initErr    error

	mu       sync.Mutex
	versions map[string]int

	cache *lru.Cache[string, Blob]
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("artifact: s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("artifact: s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("artifact: s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: init s3 client: %w", err)
	}
	cache, err := lru.New[string, Blob](blobCacheSize)
	if err != nil {
		return nil, err
	}

	return &S3Store{
		client:     client,
		bucketName: bucket,
		region:     region,
		versions:   make(map[string]int),
		cache:      cache,
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("artifact: store is nil")
	}
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3Store) Save(ctx context.Context, name string, blob Blob) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("artifact: name is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return 0, fmt.Errorf("artifact: ensure bucket: %w", err)
	}
	current, err := s.currentVersion(ctx, name)
	if err != nil {
		return 0, err
	}
	next := current + 1

	mime := blob.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	key := objectKey(name, next)
	_, err = s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(blob.Data), int64(len(blob.Data)), minio.PutObjectOptions{
		ContentType: mime,
	})
	if err != nil {
		return 0, fmt.Errorf("artifact: put %q: %w", key, err)
	}

	s.mu.Lock()
	s.versions[name] = next
	s.mu.Unlock()
	s.cache.Add(key, Blob{MIME: mime, Data: append([]byte(nil), blob.Data...)})
	return next, nil
}

func (s *S3Store) Load(ctx context.Context, name string) (Blob, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Blob{}, fmt.Errorf("artifact: name is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return Blob{}, fmt.Errorf("artifact: ensure bucket: %w", err)
	}
	current, err := s.currentVersion(ctx, name)
	if err != nil {
		return Blob{}, err
	}
	if current == 0 {
		return Blob{}, ErrNotFound
	}

	key := objectKey(name, current)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return Blob{}, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return Blob{}, ErrNotFound
		}
		return Blob{}, err
	}
	mime := "application/octet-stream"
	if stat, statErr := obj.Stat(); statErr == nil && stat.ContentType != "" {
		mime = stat.ContentType
	}
	blob := Blob{MIME: mime, Data: data}
	s.cache.Add(key, blob)
	return blob, nil
}

func (s *S3Store) List(ctx context.Context) ([]string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("artifact: ensure bucket: %w", err)
	}
	seen := map[string]struct{}{}
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name, _, ok := splitObjectKey(obj.Key)
		if !ok {
			continue
		}
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// currentVersion returns the highest stored version for name, scanning the
// bucket once per name and serving from the counter map afterwards.
func (s *S3Store) currentVersion(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	if v, ok := s.versions[name]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	max := 0
	prefix := name + "/"
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return 0, obj.Err
		}
		_, v, ok := splitObjectKey(obj.Key)
		if ok && v > max {
			max = v
		}
	}

	s.mu.Lock()
	s.versions[name] = max
	s.mu.Unlock()
	return max, nil
}

func objectKey(name string, version int) string {
	return fmt.Sprintf("%s/v%d", name, version)
}

func splitObjectKey(key string) (name string, version int, ok bool) {
	idx := strings.LastIndex(key, "/v")
	if idx <= 0 {
		return "", 0, false
	}
	v, err := strconv.Atoi(key[idx+2:])
	if err != nil || v < 1 {
		return "", 0, false
	}
	return key[:idx], v, true
}
