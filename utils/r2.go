// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Settings locates a Cloudflare R2 bucket.
type R2Settings struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

// R2Store writes settlement receipts to Cloudflare R2 through its S3 API.
type R2Store struct {
	client     *s3.Client
	bucket     string
	cdnBaseURL string
}

func NewR2Store(ctx context.Context, s R2Settings) (*R2Store, error) {
	if s.AccountID == "" || s.Bucket == "" {
		return nil, fmt.Errorf("R2 account id and bucket are required")
	}
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.AccountID)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.AccessKeyID, s.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return newR2Store(client, s.Bucket, s.CDNBaseURL, endpoint), nil
}

func newR2Store(client *s3.Client, bucket, cdnBaseURL, endpoint string) *R2Store {
	if cdnBaseURL == "" {
		cdnBaseURL = endpoint + "/" + bucket
	}
	return &R2Store{client: client, bucket: bucket, cdnBaseURL: strings.TrimRight(cdnBaseURL, "/")}
}

// PutReceipt uploads a JSON receipt and returns its public URL.
func (r *R2Store) PutReceipt(ctx context.Context, key string, body []byte) (string, error) {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(r.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return r.PublicURL(key), nil
}

// PublicURL is where a stored object is served from.
func (r *R2Store) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s", r.cdnBaseURL, strings.TrimLeft(key, "/"))
}
