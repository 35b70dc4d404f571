// Package storage issues V4 signed upload URLs for return evidence in Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	maxUploadExpiry = 7 * 24 * time.Hour
	maxEvidenceSize = 20 << 20
)

// EvidenceSigner signs PUT URLs for objects in the returns bucket. With an explicit Signer it
// signs locally; otherwise the bucket handle signs through the IAM credentials API using the
// client's own service account.
type EvidenceSigner struct {
	bucket string
	handle *gcs.BucketHandle
	signer Signer
	now    func() time.Time
}

type EvidenceOption func(*EvidenceSigner)

// WithSigner signs with a local key instead of the IAM API.
func WithSigner(signer Signer) EvidenceOption {
	return func(s *EvidenceSigner) { s.signer = signer }
}

func WithClock(now func() time.Time) EvidenceOption {
	return func(s *EvidenceSigner) {
		if now != nil {
			s.now = now
		}
	}
}

// NewEvidenceSigner requires either a client or WithSigner.
func NewEvidenceSigner(client *gcs.Client, bucket string, opts ...EvidenceOption) (*EvidenceSigner, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: returns bucket is required")
	}
	s := &EvidenceSigner{bucket: bucket, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if client != nil {
		s.handle = client.Bucket(bucket)
	}
	if s.signer == nil && s.handle == nil {
		return nil, errors.New("storage: a client or signer is required")
	}
	return s, nil
}

// SignedUploadURL returns a URL accepting one PUT of contentType to object before expires
// elapses. The upload size is capped by the x-goog-content-length-range header.
func (s *EvidenceSigner) SignedUploadURL(ctx context.Context, object, contentType string, expires time.Duration) (string, error) {
	object = strings.TrimPrefix(strings.TrimSpace(object), "/")
	if object == "" {
		return "", errors.New("storage: object name is required")
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return "", errors.New("storage: content type is required")
	}
	if expires <= 0 || expires > maxUploadExpiry {
		return "", fmt.Errorf("storage: expiry %s out of range", expires)
	}

	opts := &gcs.SignedURLOptions{
		Scheme:      gcs.SigningSchemeV4,
		Method:      "PUT",
		ContentType: contentType,
		Expires:     s.now().Add(expires),
		Headers:     []string{fmt.Sprintf("x-goog-content-length-range:0,%d", maxEvidenceSize)},
	}
	if s.signer != nil {
		opts.GoogleAccessID = s.signer.Email()
		opts.SignBytes = func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		}
		url, err := gcs.SignedURL(s.bucket, object, opts)
		if err != nil {
			return "", fmt.Errorf("storage: sign upload url: %w", err)
		}
		return url, nil
	}
	url, err := s.handle.SignedURL(object, opts)
	if err != nil {
		return "", fmt.Errorf("storage: sign upload url: %w", err)
	}
	return url, nil
}
