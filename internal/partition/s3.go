package partition

import (
	"bytes"
	"context"
	"encoding/json"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// S3Client is the subset of the S3 API the partition store uses. It exists
// so tests can substitute a fake.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3StorageConfig represents the shared object-storage partition backend.
type S3StorageConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// S3Storage keeps partitions as key prefixes under one bucket, for
// deployments sharing a cache across edge nodes. Object keys have the form
// <prefix><partition>/<escaped-resource-url>.
type S3Storage struct {
	client S3Client
	bucket string
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	open map[string]*S3Store
}

// NewS3Storage creates an S3-backed partition registry using the default
// AWS credential chain.
func NewS3Storage(ctx context.Context, cfg S3StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "s3 storage requires a bucket").
			WithComponent("partition")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	return NewS3StorageWithClient(client, cfg), nil
}

// NewS3StorageWithClient creates an S3-backed partition registry over an
// existing client.
func NewS3StorageWithClient(client S3Client, cfg S3StorageConfig) *S3Storage {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: slog.Default().With("component", "s3-partition", "bucket", cfg.Bucket),
		open:   make(map[string]*S3Store),
	}
}

// Open returns the named partition.
func (s *S3Storage) Open(ctx context.Context, name string) (types.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if store, exists := s.open[name]; exists {
		return store, nil
	}
	store := &S3Store{
		client: s.client,
		bucket: s.bucket,
		prefix: s.prefix + name + "/",
		logger: s.logger.With("partition", name),
	}
	s.open[name] = store
	return store, nil
}

// List returns the names of every partition that has at least one entry.
func (s *S3Storage) List(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.prefix),
		Delimiter: aws.String("/"),
	}

	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStoreRead, "list partitions").
				WithComponent("partition")
		}
		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), s.prefix), "/")
			if name != "" {
				names = append(names, name)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	sort.Strings(names)
	return names, nil
}

// Delete removes every object under the partition's prefix.
func (s *S3Storage) Delete(ctx context.Context, name string) error {
	prefix := s.prefix + name + "/"
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStoreDelete, "list partition objects").
				WithComponent("partition").WithContext("partition", name)
		}
		for _, obj := range out.Contents {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeStoreDelete, "delete partition object").
					WithComponent("partition").WithContext("key", aws.ToString(obj.Key))
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	s.mu.Lock()
	delete(s.open, name)
	s.mu.Unlock()
	return nil
}

// S3Store is one partition inside an S3Storage.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
	logger *slog.Logger

	mu    sync.Mutex
	stats types.CacheStats
}

// Get returns the stored response for key, or nil on a miss.
func (s *S3Store) Get(ctx context.Context, key string) (*types.CapturedResponse, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			s.recordMiss()
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeStoreRead, "get cached entry").
			WithComponent("partition").WithContext("key", key)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreRead, "read cached entry body").
			WithComponent("partition").WithContext("key", key)
	}

	var resp types.CapturedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		// Treat a corrupt entry as a miss; the next Put heals it.
		s.logger.Warn("dropping corrupt cached entry", "key", key, "error", err)
		_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(key)),
		})
		s.recordMiss()
		return nil, nil
	}

	s.recordHit()
	return &resp, nil
}

// Put stores the response under key, replacing any previous entry.
func (s *S3Store) Put(ctx context.Context, key string, resp *types.CapturedResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "encode cached entry").
			WithComponent("partition").WithContext("key", key)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "put cached entry").
			WithComponent("partition").WithContext("key", key)
	}
	return nil
}

// Delete removes the entry for key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return errors.Wrap(err, errors.ErrCodeStoreDelete, "delete cached entry").
			WithComponent("partition").WithContext("key", key)
	}
	return nil
}

// Keys lists every stored resource URL in sorted order.
func (s *S3Store) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}

	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStoreRead, "list cached entries").
				WithComponent("partition")
		}
		for _, obj := range out.Contents {
			escaped := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			key, err := url.QueryUnescape(escaped)
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	sort.Strings(keys)
	return keys, nil
}

// Stats returns partition statistics. Entry counts are tracked locally and
// reflect this process's view only.
func (s *S3Store) Stats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *S3Store) objectKey(key string) string {
	// Escaping keeps each resource URL a single path segment under the
	// partition prefix, and is reversible for Keys.
	return s.prefix + url.QueryEscape(key)
}

func (s *S3Store) recordHit() {
	s.mu.Lock()
	s.stats.Hits++
	s.updateHitRate()
	s.mu.Unlock()
}

func (s *S3Store) recordMiss() {
	s.mu.Lock()
	s.stats.Misses++
	s.updateHitRate()
	s.mu.Unlock()
}

func (s *S3Store) updateHitRate() {
	total := s.stats.Hits + s.stats.Misses
	if total > 0 {
		s.stats.HitRate = float64(s.stats.Hits) / float64(total)
	}
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return stderr.As(err, &noSuchKey) || stderr.As(err, &notFound)
}
