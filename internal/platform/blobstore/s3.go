package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3BlobStore keeps each blob as one object under prefix+id. Metadata travels
// as S3 user metadata so a HEAD request is enough to describe a blob.
type S3BlobStore struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Client builds a client from the default AWS credential chain. A
// non-empty endpoint switches to path-style addressing for S3-compatible
// stores such as MinIO or LocalStack.
func NewS3Client(ctx context.Context, endpoint string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: cfg.Credentials,
		HTTPClient:  cfg.HTTPClient,
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts), nil
}

func NewS3BlobStore(client *s3.Client, bucket, prefix string) *S3BlobStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3BlobStore{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

func (s *S3BlobStore) key(id string) string { return s.prefix + id }

func (s *S3BlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content, s.now())
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(meta.ID)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(meta.ContentType),
		ContentLength: aws.Int64(meta.Size),
		Metadata:      toS3Metadata(meta),
		ACL:           types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", meta.ID, err)
	}
	return &meta, nil
}

func (s *S3BlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, nil, translateS3Error(err, id)
	}
	meta := fromS3Metadata(id, out.Metadata)
	meta.ContentType = aws.ToString(out.ContentType)
	meta.Size = aws.ToInt64(out.ContentLength)
	return out.Body, &meta, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", id, err)
	}
	return nil
}

func (s *S3BlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, translateS3Error(err, id)
	}
	meta := fromS3Metadata(id, out.Metadata)
	meta.ContentType = aws.ToString(out.ContentType)
	meta.Size = aws.ToInt64(out.ContentLength)
	return &meta, nil
}

// List walks every object under the prefix and HEADs it to read the
// category, so it is meant for modest archives.
func (s *S3BlobStore) List(ctx context.Context, category string, limit, offset int) ([]*BlobMetadata, int, error) {
	var matched []*BlobMetadata
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			meta, err := s.GetMetadata(ctx, id)
			if err != nil {
				return nil, 0, err
			}
			if category != "" && meta.Category != category {
				continue
			}
			matched = append(matched, meta)
		}
	}
	sortNewestFirst(matched)
	items, total := paginate(matched, limit, offset)
	return items, total, nil
}

// S3 lower-cases user metadata keys, so these are lower-case too.
const (
	metaFileName  = "file-name"
	metaCategory  = "category"
	metaHash      = "sha256"
	metaCreatedAt = "created-at"
	metaCreatedBy = "created-by"
	metaTags      = "tags"
)

func toS3Metadata(m BlobMetadata) map[string]string {
	out := map[string]string{
		metaFileName:  m.FileName,
		metaCategory:  m.Category,
		metaHash:      m.Hash,
		metaCreatedAt: strconv.FormatInt(m.CreatedAt.UnixMilli(), 10),
		metaCreatedBy: m.CreatedBy,
	}
	if len(m.Tags) > 0 {
		if raw, err := json.Marshal(m.Tags); err == nil {
			out[metaTags] = string(raw)
		}
	}
	return out
}

func fromS3Metadata(id string, md map[string]string) BlobMetadata {
	get := func(k string) string {
		for key, v := range md {
			if strings.EqualFold(key, k) {
				return v
			}
		}
		return ""
	}
	m := BlobMetadata{
		ID:        id,
		FileName:  get(metaFileName),
		Category:  get(metaCategory),
		Hash:      get(metaHash),
		CreatedBy: get(metaCreatedBy),
		Tags:      map[string]string{},
	}
	if ms, err := strconv.ParseInt(get(metaCreatedAt), 10, 64); err == nil {
		m.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if raw := get(metaTags); raw != "" {
		_ = json.Unmarshal([]byte(raw), &m.Tags)
	}
	return m
}

func translateS3Error(err error, id string) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return ErrBlobNotFound
	}
	return fmt.Errorf("s3 object %s: %w", id, err)
}
