// Package photos issues presigned MinIO URLs for job site photos. Bytes
// never pass through the API; the sync core knows nothing about this
// surface beyond sharing its session identity.
package photos

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"fieldline/api/internal/util"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignTTL = 15 * time.Minute

type Service struct {
	client *minio.Client
	bucket string
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Service{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the photo bucket if it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

type UploadTicket struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresignUpload returns a PUT URL for a new photo object. Keys are
// namespaced by org so download presigning can enforce the tenant boundary
// with a prefix check.
func (s *Service) PresignUpload(ctx context.Context, orgID, jobID, filename, contentType string) (UploadTicket, error) {
	key := path.Join(orgID, jobID, util.NewID("ph")+"-"+sanitizeFilename(filename))

	presigned, err := s.client.PresignedPutObject(ctx, s.bucket, key, presignTTL)
	if err != nil {
		return UploadTicket{}, fmt.Errorf("presign upload: %w", err)
	}
	_ = contentType // enforced by the client at PUT time; MinIO does not sign it for PUT

	return UploadTicket{
		Key:       key,
		URL:       presigned.String(),
		Method:    "PUT",
		ExpiresAt: time.Now().Add(presignTTL),
	}, nil
}

// PresignDownload returns a GET URL for an existing photo. The key must sit
// under the caller's org prefix.
func (s *Service) PresignDownload(ctx context.Context, orgID, key string) (string, error) {
	if !strings.HasPrefix(key, orgID+"/") {
		return "", fmt.Errorf("key outside org prefix")
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return presigned.String(), nil
}

func sanitizeFilename(filename string) string {
	var out strings.Builder
	for _, r := range filename {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			out.WriteRune(r)
		default:
			out.WriteRune('-')
		}
	}
	if out.Len() == 0 {
		return "photo"
	}
	return out.String()
}
