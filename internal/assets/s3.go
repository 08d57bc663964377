// Package assets archives signature images to S3. The base64 copy in the
// database remains the source of truth; the archived PNG is for audit export
// and PDF rendering.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "github.com/ignite/proposal-pulse/internal/config"
)

// S3Store uploads signature PNGs to a bucket and returns their object URLs.
type S3Store struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3Store creates an S3-backed signature archive.
func NewS3Store(ctx context.Context, cfg appconfig.StorageConfig) (*S3Store, error) {
	region := cfg.AWSRegion
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if profile := cfg.GetAWSProfile(); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	// Verify bucket access up front so misconfiguration surfaces at startup.
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.S3Bucket),
	}); err != nil {
		log.Printf("S3Store: Warning - bucket access check failed: %v", err)
	}

	return &S3Store{
		client: client,
		bucket: cfg.S3Bucket,
		region: region,
	}, nil
}

// PutSignaturePNG uploads one signature image. The key embeds the proposal id
// and a timestamp so re-archival never overwrites an earlier upload.
func (s *S3Store) PutSignaturePNG(ctx context.Context, proposalID uuid.UUID, png []byte) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("empty signature image")
	}

	key := fmt.Sprintf("signatures/%s/%d.png", proposalID, time.Now().UTC().Unix())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(png),
		ContentType: aws.String("image/png"),
		Metadata: map[string]string{
			"proposal_id": proposalID.String(),
			"uploaded_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Printf("S3Store: archived signature to s3://%s/%s (%d bytes)", s.bucket, key, len(png))
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}
