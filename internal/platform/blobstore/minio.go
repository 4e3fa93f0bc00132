package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps each document under "<patient_id>/<id>" with its
// metadata in the object's user metadata.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and creates the bucket when it
// does not exist yet.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(patientID, id string) string {
	return patientID + "/" + id
}

func userMetadata(m BlobMetadata) map[string]string {
	return map[string]string{
		"record-id":  m.RecordID,
		"kind":       m.Kind,
		"file-name":  m.FileName,
		"hash":       m.Hash,
		"created-by": m.CreatedBy,
		"created-at": m.CreatedAt.Format(time.RFC3339Nano),
	}
}

// metadataFromObject rebuilds BlobMetadata from a stat result. MinIO returns
// user metadata keys canonicalized, so lookups ignore case.
func metadataFromObject(info minio.ObjectInfo) *BlobMetadata {
	get := func(k string) string {
		for key, v := range info.UserMetadata {
			if strings.EqualFold(key, k) || strings.EqualFold(key, "X-Amz-Meta-"+k) {
				return v
			}
		}
		return ""
	}

	patientID, id, _ := strings.Cut(info.Key, "/")
	m := &BlobMetadata{
		ID:          id,
		PatientID:   patientID,
		RecordID:    get("record-id"),
		Kind:        get("kind"),
		FileName:    get("file-name"),
		ContentType: info.ContentType,
		Size:        info.Size,
		Hash:        get("hash"),
		CreatedBy:   get("created-by"),
		CreatedAt:   info.LastModified.UTC(),
	}
	if at, err := time.Parse(time.RFC3339Nano, get("created-at")); err == nil {
		m.CreatedAt = at
	}
	return m
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectKey(meta.PatientID, meta.ID),
		bytes.NewReader(data), meta.Size, minio.PutObjectOptions{
			ContentType:  meta.ContentType,
			UserMetadata: userMetadata(meta),
		})
	if err != nil {
		return nil, fmt.Errorf("put object in %s: %w", s.bucket, err)
	}
	return &meta, nil
}

func (s *MinioStore) Download(ctx context.Context, patientID, id string) (io.ReadCloser, *BlobMetadata, error) {
	key := objectKey(patientID, id)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return obj, metadataFromObject(info), nil
}

func (s *MinioStore) Delete(ctx context.Context, patientID, id string) error {
	key := objectKey(patientID, id)
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("stat object %s: %w", key, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) ListByPatient(ctx context.Context, patientID, kind string, limit, offset int) ([]*BlobMetadata, int, error) {
	var matched []*BlobMetadata
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    patientID + "/",
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, 0, fmt.Errorf("list objects for patient %s: %w", patientID, obj.Err)
		}
		info, err := s.client.StatObject(ctx, s.bucket, obj.Key, minio.StatObjectOptions{})
		if err != nil {
			return nil, 0, fmt.Errorf("stat object %s: %w", obj.Key, err)
		}
		m := metadataFromObject(info)
		if kind != "" && m.Kind != kind {
			continue
		}
		matched = append(matched, m)
	}
	return page(matched, limit, offset), len(matched), nil
}
