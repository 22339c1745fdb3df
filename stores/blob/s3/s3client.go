package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client defines the interface for S3 operations we need
type S3Client interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error)

	// Upload streams the body with the multipart upload manager
	Upload(ctx context.Context, input *s3.PutObjectInput) (*manager.UploadOutput, error)

	PresignGetObject(ctx context.Context, input *s3.GetObjectInput, expires time.Duration) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, input *s3.PutObjectInput, expires time.Duration) (*v4.PresignedHTTPRequest, error)
}

// realS3Client wraps the actual AWS S3 client
type realS3Client struct {
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
}

// NewRealS3Client creates a new S3 client using AWS SDK
func NewRealS3Client(cfg aws.Config, optFns ...func(*s3.Options)) S3Client {
	client := s3.NewFromConfig(cfg, optFns...)

	return &realS3Client{
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
	}
}

func (c *realS3Client) GetObject(ctx context.Context, input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	return c.client.GetObject(ctx, input)
}

func (c *realS3Client) HeadObject(ctx context.Context, input *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
	return c.client.HeadObject(ctx, input)
}

func (c *realS3Client) DeleteObject(ctx context.Context, input *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	return c.client.DeleteObject(ctx, input)
}

func (c *realS3Client) Upload(ctx context.Context, input *s3.PutObjectInput) (*manager.UploadOutput, error) {
	return c.uploader.Upload(ctx, input)
}

func (c *realS3Client) PresignGetObject(ctx context.Context, input *s3.GetObjectInput, expires time.Duration) (*v4.PresignedHTTPRequest, error) {
	return c.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(expires))
}

func (c *realS3Client) PresignPutObject(ctx context.Context, input *s3.PutObjectInput, expires time.Duration) (*v4.PresignedHTTPRequest, error) {
	return c.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(expires))
}
