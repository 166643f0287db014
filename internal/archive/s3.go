// Package archive keeps a copy of every registered vCon in S3-compatible
// object storage, one immutable object per stored version.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ContentType is the media type archived documents are stored with.
const ContentType = "application/vcon+json"

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("archive: object not found")

// Archive stores and retrieves canonical vCon documents.
type Archive interface {
	PutDocument(ctx context.Context, key string, doc []byte) error
	GetDocument(ctx context.Context, key string) ([]byte, error)
	DownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// ObjectKey is the key of one archived version: vcons/<uuid>/<rkey>.json.
// rkey is a ULID, so versions of one vCon list in write order.
func ObjectKey(uuid, rkey string) string {
	return "vcons/" + uuid + "/" + rkey + ".json"
}

// S3Client wraps the AWS S3 client for document archiving.
type S3Client struct {
	client *s3.Client // AWS S3 client
	bucket string     // Archive bucket
}

// NewS3Client creates an archive client. It supports both AWS S3 and
// S3-compatible services such as MinIO; an empty endpoint uses AWS.
func NewS3Client(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing for MinIO and other S3-compatible services
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3Client{client: client, bucket: bucket}, nil
}

// PutDocument writes doc under key. The SHA-256 of the document is kept
// in the object metadata.
func (s *S3Client) PutDocument(ctx context.Context, key string, doc []byte) error {
	sum := sha256.Sum256(doc)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(doc),
		ContentLength: aws.Int64(int64(len(doc))),
		ContentType:   aws.String(ContentType),
		Metadata:      map[string]string{"sha256": hex.EncodeToString(sum[:])},
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return nil
}

// GetDocument reads the document stored under key.
func (s *S3Client) GetDocument(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return b, nil
}

// DownloadURL returns a presigned GET URL for the archived document.
func (s *S3Client) DownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}
